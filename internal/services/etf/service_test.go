package etf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/models"
	badgerstore "github.com/ternarybob/folio/internal/storage/badger"
)

func setupService(t *testing.T, handler http.HandlerFunc) (*Service, context.Context) {
	t.Helper()

	logger := common.GetLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &common.ETFConfig{
		APIBaseURL:      server.URL,
		APIKey:          "test-key",
		CacheExpiryDays: 1,
	}
	return NewService(cfg, badgerstore.NewETFStorage(db, logger), logger), context.Background()
}

func TestFetchHoldings_FetchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	svc, ctx := setupService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"isin":"IE00B4L5Y983","symbol":"IWDA","name":"iShares Core MSCI World","holdings":[{"name":"Apple Inc","ticker":"AAPL","weight":4.9}]}`))
	})

	holdings, fromCache, err := svc.FetchHoldings(ctx, "IE00B4L5Y983", false)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, "IWDA", holdings.Symbol)
	require.Len(t, holdings.Holdings, 1)
	assert.Equal(t, "Apple Inc", holdings.Holdings[0].Name)

	// Second call is served from cache, no API hit.
	_, fromCache, err = svc.FetchHoldings(ctx, "IE00B4L5Y983", false)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchHoldings_ForceRefreshBypassesCache(t *testing.T) {
	var calls atomic.Int32
	svc, ctx := setupService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"isin":"X","holdings":[]}`))
	})

	_, _, err := svc.FetchHoldings(ctx, "X", false)
	require.NoError(t, err)
	_, fromCache, err := svc.FetchHoldings(ctx, "X", true)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchHoldings_StaleCacheRefetches(t *testing.T) {
	var calls atomic.Int32
	svc, ctx := setupService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"isin":"Y","holdings":[]}`))
	})

	// Seed an expired cache entry directly.
	stale := &models.ETFHoldings{
		ISIN:      "Y",
		FetchedAt: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, svc.storage.UpsertHoldings(ctx, stale))

	_, fromCache, err := svc.FetchHoldings(ctx, "Y", false)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchHoldings_APIErrorPropagates(t *testing.T) {
	svc, ctx := setupService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, _, err := svc.FetchHoldings(ctx, "Z", false)
	assert.Error(t, err)
}
