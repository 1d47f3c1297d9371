package ota

import (
	"os"
	"path/filepath"
	"testing"

	"hotelpms/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = []config.OTACredentials{
	{HotelID: 25, SystemID: "SYS25", UserID: "pms-user", Password: "p&ss<word>"},
}

func TestFileTemplateStore_BuiltIn(t *testing.T) {
	store, err := NewFileTemplateStore("", testCreds)
	require.NoError(t, err)

	out, err := store.Render(25, "stock_adjustment", AdjustmentRequest{
		RequestID: "abc12345",
		Targets: []AdjustmentTarget{
			{RoomTypeGroupCode: "TWN", SaleDate: "20260203", RemainingCount: 0, SalesStatus: SalesStatusNoChange},
		},
	})
	require.NoError(t, err)

	body := string(out)
	assert.Contains(t, body, "<systemId>SYS25</systemId>")
	assert.Contains(t, body, "<password>p&amp;ss&lt;word&gt;</password>")
	assert.Contains(t, body, "<requestId>abc12345</requestId>")
	assert.Contains(t, body, "<saleDate>20260203</saleDate>")
	assert.Contains(t, body, "<remainingCount>0</remainingCount>")

	out, err = store.Render(25, "stock_search", StockSearchRequest{From: "20260203", To: "20260205"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "<searchTo>20260205</searchTo>")
}

func TestFileTemplateStore_Errors(t *testing.T) {
	store, err := NewFileTemplateStore("", testCreds)
	require.NoError(t, err)

	_, err = store.Render(25, "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	_, err = store.Render(99, "stock_search", StockSearchRequest{})
	assert.ErrorIs(t, err, ErrUnknownHotel)
}

func TestFileTemplateStore_Override(t *testing.T) {
	dir := t.TempDir()
	custom := `<custom hotel="{{.Auth.HotelID}}">{{.Data.RequestID}}</custom>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stock_adjustment.xml.tmpl"), []byte(custom), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.xml.tmpl"), []byte(`<extra/>`), 0o644))

	store, err := NewFileTemplateStore(dir, testCreds)
	require.NoError(t, err)

	out, err := store.Render(25, "stock_adjustment", AdjustmentRequest{RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, `<custom hotel="25">r1</custom>`, string(out))

	out, err = store.Render(25, "extra", nil)
	require.NoError(t, err)
	assert.Equal(t, `<extra/>`, string(out))

	// Built-ins not overridden stay available.
	_, err = store.Render(25, "stock_search", StockSearchRequest{})
	assert.NoError(t, err)
}

func TestFileTemplateStore_BadOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.xml.tmpl"), []byte(`{{.Data`), 0o644))
	_, err := NewFileTemplateStore(dir, testCreds)
	assert.Error(t, err)
}
