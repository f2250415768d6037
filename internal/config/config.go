package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/ratelimit"
)

const (
	FetcherScrapfly = "scrapfly"
	FetcherDirect   = "direct"
	FetcherBrowser  = "browser"
)

var ErrMissingAPIKey = fetcher.ErrMissingAPIKey

type Config struct {
	Server    ServerConfig
	Fetcher   FetcherConfig
	Scrapfly  ScrapflyConfig
	Direct    DirectConfig
	Browser   BrowserConfig
	RateLimit RateLimitConfig
	Crawl     CrawlConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Jobs      JobsConfig
	Output    OutputConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type FetcherConfig struct {
	Type        string
	Concurrency int
	Retries     int
	RetryWait   time.Duration
}

// ScrapflyConfig holds the API credentials plus the scrape defaults applied
// to every request that does not set them itself.
type ScrapflyConfig struct {
	Key       string
	BaseURL   string
	Timeout   time.Duration
	ASP       bool
	Country   string
	ProxyPool string
	Cache     bool
}

type DirectConfig struct {
	CacheDir    string
	Delay       time.Duration
	RandomDelay time.Duration
	Parallelism int
	Timeout     time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	MaxPages       int
}

type RateLimitConfig struct {
	Strategy string
	MinDelay time.Duration
	MaxDelay time.Duration
	Burst    int
}

type CrawlConfig struct {
	MaxSearchPages int
	MaxReviewPages int
	MaxProducts    int
}

type DatabaseConfig struct {
	URL         string
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
}

// Enabled reports whether persistence is configured. Without it results
// only go to the results directory.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != "" || d.Host != ""
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	StreamMaxLen int64
	PollInterval time.Duration
	BatchSize    int
}

type JobsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

type OutputConfig struct {
	Dir         string
	ProgressDir string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment after applying any .env
// files found in the working directory. Variables already set win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getDurationOrDefault("SERVER_REQUEST_TIMEOUT", 5*time.Minute),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", nil),
		},
		Fetcher: FetcherConfig{
			Type:        strings.ToLower(getEnvOrDefault("FETCHER", FetcherScrapfly)),
			Concurrency: getIntOrDefault("FETCH_CONCURRENCY", 5),
			Retries:     getIntOrDefault("FETCH_RETRIES", 2),
			RetryWait:   getDurationOrDefault("FETCH_RETRY_WAIT", 5*time.Second),
		},
		Scrapfly: ScrapflyConfig{
			Key:       os.Getenv("SCRAPFLY_KEY"),
			BaseURL:   getEnvOrDefault("SCRAPFLY_URL", fetcher.DefaultScrapflyURL),
			Timeout:   getDurationOrDefault("SCRAPFLY_TIMEOUT", 150*time.Second),
			ASP:       getBoolOrDefault("SCRAPFLY_ASP", true),
			Country:   getEnvOrDefault("SCRAPFLY_COUNTRY", "US"),
			ProxyPool: os.Getenv("SCRAPFLY_PROXY_POOL"),
			Cache:     getBoolOrDefault("SCRAPFLY_CACHE", false),
		},
		Direct: DirectConfig{
			CacheDir:    os.Getenv("DIRECT_CACHE_DIR"),
			Delay:       getDurationOrDefault("DIRECT_DELAY", time.Second),
			RandomDelay: getDurationOrDefault("DIRECT_RANDOM_DELAY", 2*time.Second),
			Parallelism: getIntOrDefault("DIRECT_PARALLELISM", 2),
			Timeout:     getDurationOrDefault("DIRECT_TIMEOUT", 30*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			UserAgent:      os.Getenv("BROWSER_USER_AGENT"),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			ProxyServer:    os.Getenv("BROWSER_PROXY"),
			MaxPages:       getIntOrDefault("BROWSER_MAX_PAGES", 4),
		},
		RateLimit: RateLimitConfig{
			Strategy: getEnvOrDefault("RATE_LIMIT_STRATEGY", ratelimit.StrategyAdaptive),
			MinDelay: getDurationOrDefault("RATE_LIMIT_MIN", 0),
			MaxDelay: getDurationOrDefault("RATE_LIMIT_MAX", 2*time.Second),
			Burst:    getIntOrDefault("RATE_LIMIT_BURST", 5),
		},
		Crawl: CrawlConfig{
			MaxSearchPages: getIntOrDefault("CRAWL_MAX_SEARCH_PAGES", 0),
			MaxReviewPages: getIntOrDefault("CRAWL_MAX_REVIEW_PAGES", 0),
			MaxProducts:    getIntOrDefault("CRAWL_MAX_PRODUCTS", 0),
		},
		Database: DatabaseConfig{
			URL:         os.Getenv("DATABASE_URL"),
			Host:        os.Getenv("DB_HOST"),
			Port:        getIntOrDefault("DB_PORT", 5432),
			User:        getEnvOrDefault("DB_USER", "postgres"),
			Password:    os.Getenv("DB_PASSWORD"),
			Name:        getEnvOrDefault("DB_NAME", "storefront_scraper"),
			SSLMode:     getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:    int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns:    int32(getIntOrDefault("DB_MIN_CONNS", 1)),
			MaxConnLife: getDurationOrDefault("DB_MAX_CONN_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:scrape_results"),
			StreamMaxLen: int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 100000)),
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Jobs: JobsConfig{
			Workers:    getIntOrDefault("JOB_WORKERS", 2),
			MaxRetries: getIntOrDefault("JOB_MAX_RETRIES", 2),
			RetryDelay: getDurationOrDefault("JOB_RETRY_DELAY", 30*time.Second),
		},
		Output: OutputConfig{
			Dir:         getEnvOrDefault("RESULTS_DIR", "results"),
			ProgressDir: getEnvOrDefault("PROGRESS_DIR", "data"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Fetcher.Type {
	case FetcherScrapfly:
		if c.Scrapfly.Key == "" {
			return fmt.Errorf("SCRAPFLY_KEY must be set for the scrapfly fetcher: %w", ErrMissingAPIKey)
		}
	case FetcherDirect, FetcherBrowser:
	default:
		return fmt.Errorf("FETCHER must be one of %s, %s, %s; got %q", FetcherScrapfly, FetcherDirect, FetcherBrowser, c.Fetcher.Type)
	}

	if c.Fetcher.Concurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}

	if c.RateLimit.MinDelay > c.RateLimit.MaxDelay {
		return fmt.Errorf("RATE_LIMIT_MIN cannot be greater than RATE_LIMIT_MAX")
	}

	if c.Crawl.MaxSearchPages < 0 || c.Crawl.MaxReviewPages < 0 || c.Crawl.MaxProducts < 0 {
		return fmt.Errorf("crawl limits cannot be negative")
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOB_WORKERS must be at least 1")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("RESULTS_DIR cannot be empty")
	}

	return nil
}

// ScrapeDefaults are merged into every site request.
func (c *Config) ScrapeDefaults() fetcher.Request {
	return fetcher.Request{
		ASP:       c.Scrapfly.ASP,
		Country:   c.Scrapfly.Country,
		ProxyPool: c.Scrapfly.ProxyPool,
		Cache:     c.Scrapfly.Cache,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
