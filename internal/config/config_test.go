package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SCRAPFLY_KEY", "")
	t.Setenv("FETCHER", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, FetcherScrapfly, cfg.Fetcher.Type)
	assert.Equal(t, 5, cfg.Fetcher.Concurrency)
	assert.Equal(t, "results", cfg.Output.Dir)
	assert.Equal(t, "stream:scrape_results", cfg.Redis.Stream)
	assert.False(t, cfg.Database.Enabled())
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())

	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("FETCHER", "Direct")
	t.Setenv("FETCH_CONCURRENCY", "8")
	t.Setenv("DIRECT_DELAY", "250ms")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")
	t.Setenv("FETCH_RETRIES", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, FetcherDirect, cfg.Fetcher.Type)
	assert.Equal(t, 8, cfg.Fetcher.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Direct.Delay)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, 2, cfg.Fetcher.Retries)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SCRAPFLY_KEY=from-file\nLOG_LEVEL=debug\n"), 0o644))
	t.Setenv("SCRAPFLY_KEY", "")
	os.Unsetenv("SCRAPFLY_KEY")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Scrapfly.Key)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Fetcher:   FetcherConfig{Type: FetcherBrowser, Concurrency: 1},
			RateLimit: RateLimitConfig{MaxDelay: time.Second},
			Jobs:      JobsConfig{Workers: 1},
			Output:    OutputConfig{Dir: "out"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown fetcher", func(c *Config) { c.Fetcher.Type = "curl" }},
		{"no concurrency", func(c *Config) { c.Fetcher.Concurrency = 0 }},
		{"delays inverted", func(c *Config) { c.RateLimit.MinDelay = time.Minute }},
		{"negative cap", func(c *Config) { c.Crawl.MaxReviewPages = -1 }},
		{"no workers", func(c *Config) { c.Jobs.Workers = 0 }},
		{"no output", func(c *Config) { c.Output.Dir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestScrapeDefaults(t *testing.T) {
	cfg := &Config{Scrapfly: ScrapflyConfig{ASP: true, Country: "GB", ProxyPool: "public_residential_pool"}}
	req := cfg.ScrapeDefaults()
	assert.True(t, req.ASP)
	assert.Equal(t, "GB", req.Country)
	assert.Equal(t, "public_residential_pool", req.ProxyPool)
	assert.Empty(t, req.URL)
}
