package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/storefront-scraper/internal/config"
	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/ratelimit"
)

func testConfig(t *testing.T, fetcherType string) *config.Config {
	return &config.Config{
		Fetcher:   config.FetcherConfig{Type: fetcherType, Concurrency: 2, Retries: 2, RetryWait: time.Millisecond},
		Scrapfly:  config.ScrapflyConfig{Key: "test-key", BaseURL: "http://127.0.0.1:0", ASP: true},
		RateLimit: config.RateLimitConfig{Strategy: ratelimit.StrategyNone},
		Output:    config.OutputConfig{Dir: t.TempDir()},
		Jobs:      config.JobsConfig{Workers: 1},
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Scrapfly(t *testing.T) {
	cfg := testConfig(t, config.FetcherScrapfly)
	a, err := New(context.Background(), cfg, quiet(), Options{})
	require.NoError(t, err)
	defer a.Close()

	retrying, ok := a.Fetcher.(*fetcher.Retrying)
	require.True(t, ok)
	assert.Equal(t, 3, retrying.Attempts)
	assert.IsType(t, &fetcher.ScrapflyClient{}, retrying.Fetcher)
	assert.NotNil(t, a.Crawler)
	require.NotNil(t, a.Results)
	assert.Equal(t, cfg.Output.Dir, a.Results.Dir())
	assert.Nil(t, a.DB)
}

func TestNew_Direct(t *testing.T) {
	cfg := testConfig(t, config.FetcherDirect)
	a, err := New(context.Background(), cfg, quiet(), Options{NoFiles: true})
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &fetcher.DirectClient{}, a.Fetcher.(*fetcher.Retrying).Fetcher)
	assert.Nil(t, a.Results)
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t, config.FetcherScrapfly)
	cfg.Scrapfly.Key = ""
	_, err := New(ctx, cfg, quiet(), Options{})
	assert.ErrorIs(t, err, fetcher.ErrMissingAPIKey)

	cfg = testConfig(t, "curl")
	_, err = New(ctx, cfg, quiet(), Options{})
	assert.ErrorContains(t, err, "unknown fetcher")

	cfg = testConfig(t, config.FetcherDirect)
	cfg.RateLimit.Strategy = "bursty"
	_, err = New(ctx, cfg, quiet(), Options{})
	assert.ErrorContains(t, err, "unknown rate limit strategy")

	cfg = testConfig(t, config.FetcherDirect)
	_, err = New(ctx, cfg, quiet(), Options{Persist: true})
	assert.ErrorContains(t, err, "no database configured")
}

func TestNew_ScrapflyRetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":"ERR::THROTTLE::MAX_REQUEST_RATE_EXCEEDED","message":"slow down","retryable":true}`))
	}))
	defer srv.Close()

	cfg := testConfig(t, config.FetcherScrapfly)
	cfg.Scrapfly.BaseURL = srv.URL
	a, err := New(context.Background(), cfg, quiet(), Options{NoFiles: true})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Fetcher.Fetch(context.Background(), fetcher.Request{URL: "https://www.walmart.com/ip/1"})
	assert.ErrorIs(t, err, fetcher.ErrRateLimited)
	assert.Equal(t, int32(cfg.Fetcher.Retries+1), atomic.LoadInt32(&calls))
}
