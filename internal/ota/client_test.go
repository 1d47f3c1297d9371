package ota

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hotelpms/internal/config"
	"hotelpms/internal/inventory"
	"hotelpms/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := NewFileTemplateStore("", testCreds)
	require.NoError(t, err)
	return NewClient(config.OTAConfig{
		Endpoint:           srv.URL + "/",
		Timeout:            time.Second,
		StockSearchService: "stock_search",
	}, store, nil)
}

func TestClientSubmit(t *testing.T) {
	var gotPath, gotHotel, gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHotel = r.Header.Get("X-Hotel-ID")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(`<response><commonResponse><isSuccess>true</isSuccess></commonResponse></response>`))
	})

	res := c.Submit(context.Background(), 25, "stock_adjustment", []byte("<req/>"))
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, "/stock_adjustment", gotPath)
	assert.Equal(t, "25", gotHotel)
	assert.Equal(t, "<req/>", gotBody)
}

func TestClientSubmit_Failures(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		res := c.Submit(context.Background(), 25, "stock_adjustment", []byte("<req/>"))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "http 503")
	})

	t.Run("remote flag", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<response><commonResponse><isSuccess>false</isSuccess><failureReason>unknown room type</failureReason></commonResponse></response>`))
		})
		res := c.Submit(context.Background(), 25, "stock_adjustment", []byte("<req/>"))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "unknown room type")
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		c := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) {
			<-release
		})
		defer close(release)
		c.http.SetTimeout(50 * time.Millisecond)
		res := c.Submit(context.Background(), 25, "stock_adjustment", []byte("<req/>"))
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
	})
}

const stockXML = `<stockSearchResponse>
  <commonResponse><isSuccess>true</isSuccess></commonResponse>
  <stockInfo><roomTypeGroupCode>TWN</roomTypeGroupCode><saleDate>20260203</saleDate><remainingCount>1</remainingCount></stockInfo>
  <stockInfo><roomTypeGroupCode>SGL</roomTypeGroupCode><saleDate>20260204</saleDate><remainingCount>0</remainingCount></stockInfo>
  <stockInfo><roomTypeGroupCode>BAD</roomTypeGroupCode><saleDate>tomorrow</saleDate><remainingCount>3</remainingCount></stockInfo>
</stockSearchResponse>`

func TestClientQueryStock(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock_search", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(stockXML))
	})

	r := models.NewDateRange(date(2026, 2, 3), date(2026, 2, 4))
	obs, err := c.QueryStock(context.Background(), 25, r)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, models.KeyOf("TWN", date(2026, 2, 3)), models.KeyOf(obs[0].RoomTypeGroupCode, obs[0].SaleDate))
	assert.Equal(t, 1, obs[0].RemainingCount)
	assert.Contains(t, gotBody, "<searchFrom>20260203</searchFrom>")
	assert.Contains(t, gotBody, "<systemId>SYS25</systemId>")
}

func TestClientQueryStock_Errors(t *testing.T) {
	r := models.NewDateRange(date(2026, 2, 3), date(2026, 2, 3))

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<stockSearchResponse><commonResponse><isSuccess>false</isSuccess><failureReason>locked</failureReason></commonResponse></stockSearchResponse>`))
	})
	_, err := c.QueryStock(context.Background(), 25, r)
	assert.ErrorContains(t, err, "locked")

	_, err = c.QueryStock(context.Background(), 404, r)
	assert.ErrorIs(t, err, ErrUnknownHotel)

	c = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err = c.QueryStock(context.Background(), 25, r)
	assert.ErrorContains(t, err, "http 500")
}

func newRedisCache(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return s, rdb
}

func TestClientCachedStock_RedisCache(t *testing.T) {
	s, rdb := newRedisCache(t)

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(stockXML))
	})
	c.UseRedisCache(rdb, time.Minute)

	r := models.NewDateRange(date(2026, 2, 3), date(2026, 2, 4))
	first, err := c.CachedStock(context.Background(), 25, r)
	require.NoError(t, err)
	second, err := c.CachedStock(context.Background(), 25, r)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, len(first), len(second))
	assert.True(t, s.Exists("ota:stock:25:2026-02-03..2026-02-04"))

	// QueryStock ignores the cached copy and refreshes it.
	_, err = c.QueryStock(context.Background(), 25, r)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDiffEngine_SeesRemoteChangeWithCacheEnabled(t *testing.T) {
	_, rdb := newRedisCache(t)

	var remaining atomic.Int32
	remaining.Store(1)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `<stockSearchResponse>
  <commonResponse><isSuccess>true</isSuccess></commonResponse>
  <stockInfo><roomTypeGroupCode>TWN</roomTypeGroupCode><saleDate>20260203</saleDate><remainingCount>%d</remainingCount></stockInfo>
</stockSearchResponse>`, remaining.Load())
	})
	c.UseRedisCache(rdb, 30*time.Second)

	local := &staticInventory{deltas: []models.InventoryDelta{
		{Date: date(2026, 2, 3), RoomTypeGroupCode: "TWN", TotalRooms: 1, OccupiedRooms: 1},
	}}
	diff := inventory.NewDiffEngine(local, c, nil)
	r := models.NewDateRange(date(2026, 2, 3), date(2026, 2, 3))

	needs, err := diff.NeedsSync(context.Background(), 25, r)
	require.NoError(t, err)
	assert.True(t, needs, "OTA shows 1, local has 0")

	// A cancellation frees the room locally while the OTA now publishes 0.
	remaining.Store(0)
	local.deltas[0].OccupiedRooms = 0

	needs, err = diff.NeedsSync(context.Background(), 25, r)
	require.NoError(t, err)
	assert.True(t, needs, "OTA shows 0, local has 1")
}

type staticInventory struct {
	deltas []models.InventoryDelta
}

func (s *staticInventory) InventoryByRange(context.Context, int64, models.DateRange) ([]models.InventoryDelta, error) {
	return s.deltas, nil
}

func TestClientRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewFileTemplateStore("", testCreds)
	require.NoError(t, err)
	c := NewClient(config.OTAConfig{Endpoint: srv.URL, Timeout: time.Second, RPS: 20, Burst: 1}, store, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		assert.True(t, c.Submit(context.Background(), 25, "stock_adjustment", []byte("<r/>")).Success)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
