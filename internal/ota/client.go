package ota

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hotelpms/internal/config"
	"hotelpms/internal/domain"
	"hotelpms/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// StockSearchRequest is the template data for a stock search call.
type StockSearchRequest struct {
	From string
	To   string
}

type commonResponse struct {
	IsSuccess     string `xml:"isSuccess"`
	FailureReason string `xml:"failureReason"`
}

func (r *commonResponse) failed() bool {
	return strings.EqualFold(strings.TrimSpace(r.IsSuccess), "false")
}

type submitResponse struct {
	Common commonResponse `xml:"commonResponse"`
}

type stockSearchResponse struct {
	Common commonResponse `xml:"commonResponse"`
	Stock  []struct {
		RoomTypeGroupCode string `xml:"roomTypeGroupCode"`
		SaleDate          string `xml:"saleDate"`
		RemainingCount    int    `xml:"remainingCount"`
	} `xml:"stockInfo"`
}

// Client talks to the OTA's XML endpoint. Each service name maps to POST {endpoint}/{service}.
type Client struct {
	http          *resty.Client
	templates     domain.TemplateStore
	limiter       *rate.Limiter
	searchService string
	logger        *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

func NewClient(cfg config.OTAConfig, templates domain.TemplateStore, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/xml; charset=utf-8").
		SetHeader("Accept", "application/xml")

	return &Client{
		http:          httpClient,
		templates:     templates,
		limiter:       limiter,
		searchService: cfg.StockSearchService,
		logger:        logger,
	}
}

// UseRedisCache keeps the latest stock search results in Redis for ttl so
// CachedStock can serve them. Zero ttl disables caching.
func (c *Client) UseRedisCache(client *redis.Client, ttl time.Duration) {
	c.redis = client
	c.cacheTTL = ttl
}

// Submit posts a rendered payload. Any transport error, non-2xx status or
// explicit isSuccess=false in the response counts as failure.
func (c *Client) Submit(ctx context.Context, hotelID int64, serviceName string, payload []byte) models.SubmitResult {
	body, err := c.post(ctx, hotelID, serviceName, payload)
	if err != nil {
		return models.SubmitResult{Error: err.Error()}
	}

	var resp submitResponse
	if len(body) > 0 && xml.Unmarshal(body, &resp) == nil && resp.Common.failed() {
		reason := resp.Common.FailureReason
		if reason == "" {
			reason = "remote reported failure"
		}
		return models.SubmitResult{Error: fmt.Sprintf("%s: %s", serviceName, reason)}
	}
	return models.SubmitResult{Success: true}
}

// QueryStock returns the remaining counts the OTA publishes for the range.
// It always asks the OTA; the cache is only refreshed, never read.
func (c *Client) QueryStock(ctx context.Context, hotelID int64, r models.DateRange) ([]models.StockObservation, error) {
	observations, err := c.searchStock(ctx, hotelID, r)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, stockCacheKey(hotelID, r), observations)
	return observations, nil
}

// CachedStock serves a recent stock search from Redis when one is cached and
// falls back to QueryStock otherwise. Results may be up to the cache ttl old.
func (c *Client) CachedStock(ctx context.Context, hotelID int64, r models.DateRange) ([]models.StockObservation, error) {
	var cached []models.StockObservation
	if c.readCache(ctx, stockCacheKey(hotelID, r), &cached) {
		return cached, nil
	}
	return c.QueryStock(ctx, hotelID, r)
}

func stockCacheKey(hotelID int64, r models.DateRange) string {
	return fmt.Sprintf("ota:stock:%d:%s", hotelID, r)
}

func (c *Client) searchStock(ctx context.Context, hotelID int64, r models.DateRange) ([]models.StockObservation, error) {
	payload, err := c.templates.Render(hotelID, c.searchService, StockSearchRequest{
		From: r.Start.Format(saleDateLayout),
		To:   r.End.Format(saleDateLayout),
	})
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, hotelID, c.searchService, payload)
	if err != nil {
		return nil, err
	}

	var resp stockSearchResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode stock search response: %w", err)
	}
	if resp.Common.failed() {
		return nil, fmt.Errorf("stock search failed: %s", resp.Common.FailureReason)
	}

	observations := make([]models.StockObservation, 0, len(resp.Stock))
	for _, s := range resp.Stock {
		saleDate, err := time.Parse(saleDateLayout, strings.TrimSpace(s.SaleDate))
		if err != nil {
			c.logger.Warn().Str("sale_date", s.SaleDate).Msg("skipping stock row with bad date")
			continue
		}
		observations = append(observations, models.StockObservation{
			RoomTypeGroupCode: strings.TrimSpace(s.RoomTypeGroupCode),
			SaleDate:          saleDate,
			RemainingCount:    s.RemainingCount,
		})
	}
	return observations, nil
}

func (c *Client) post(ctx context.Context, hotelID int64, serviceName string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Hotel-ID", strconv.FormatInt(hotelID, 10)).
		SetBody(payload).
		Post("/" + serviceName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", serviceName, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%s: http %d", serviceName, resp.StatusCode())
	}
	return resp.Body(), nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("stock cache write failed")
	}
}
