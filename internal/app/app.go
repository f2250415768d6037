// Package app assembles fetchers, sinks and the crawler from configuration
// for the command line tool and the API service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/storefront-scraper/internal/browser"
	"github.com/maltedev/storefront-scraper/internal/config"
	"github.com/maltedev/storefront-scraper/internal/database"
	"github.com/maltedev/storefront-scraper/internal/events"
	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/ratelimit"
	"github.com/maltedev/storefront-scraper/internal/scraper"
	"github.com/maltedev/storefront-scraper/internal/storage"
)

type Options struct {
	// Persist writes products, reviews and outbox events to Postgres. It
	// needs a configured database.
	Persist bool
	// NoFiles disables the results directory writer.
	NoFiles bool
}

type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Fetcher fetcher.Fetcher
	Crawler *scraper.Crawler
	Results *storage.ResultWriter
	DB      *database.DB
	// Sink is every output the crawler writes to.
	Sink scraper.MultiSink

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	f, err := a.newFetcher()
	if err != nil {
		return nil, err
	}
	a.Fetcher = f

	var sinks scraper.MultiSink
	if !opts.NoFiles {
		results, err := storage.NewResultWriter(cfg.Output.Dir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create results writer: %w", err)
		}
		a.Results = results
		sinks = append(sinks, results)
	}

	if opts.Persist {
		if !cfg.Database.Enabled() {
			a.Close()
			return nil, errors.New("persistence requested but no database configured (set DATABASE_URL or DB_HOST)")
		}
		db, err := OpenDatabase(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DB = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		sinks = append(sinks, events.NewPublisher(db, cfg.Redis.Stream, logger))
	}

	a.Sink = sinks
	a.Crawler = scraper.New(a.Fetcher, scraper.Config{
		Concurrency: cfg.Fetcher.Concurrency,
		Defaults:    cfg.ScrapeDefaults(),
		Sink:        sinks,
		Logger:      logger,
	})
	return a, nil
}

// OpenDatabase connects and applies the schema.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.New(ctx, database.Config{
		URL:         cfg.URL,
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		Database:    cfg.Name,
		SSLMode:     cfg.SSLMode,
		MaxConns:    cfg.MaxConns,
		MinConns:    cfg.MinConns,
		MaxConnLife: cfg.MaxConnLife,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func (a *App) newFetcher() (fetcher.Fetcher, error) {
	cfg := a.Config
	limiter, err := ratelimit.New(cfg.RateLimit.Strategy, cfg.RateLimit.MinDelay, cfg.RateLimit.MaxDelay, cfg.RateLimit.Burst)
	if err != nil {
		return nil, err
	}

	var f fetcher.Fetcher
	switch cfg.Fetcher.Type {
	case config.FetcherScrapfly:
		f, err = fetcher.NewScrapflyClient(fetcher.ScrapflyOptions{
			BaseURL: cfg.Scrapfly.BaseURL,
			APIKey:  cfg.Scrapfly.Key,
			Timeout: cfg.Scrapfly.Timeout,
			Limiter: limiter,
			Logger:  a.Logger,
		})
	case config.FetcherDirect:
		f, err = fetcher.NewDirectClient(fetcher.DirectOptions{
			CacheDir:    cfg.Direct.CacheDir,
			Delay:       cfg.Direct.Delay,
			RandomDelay: cfg.Direct.RandomDelay,
			Parallelism: cfg.Direct.Parallelism,
			Timeout:     cfg.Direct.Timeout,
			Limiter:     limiter,
			Logger:      a.Logger,
		})
	case config.FetcherBrowser:
		var b *browser.Browser
		b, err = browser.New(&browser.Options{
			Headless:       cfg.Browser.Headless,
			Timeout:        cfg.Browser.Timeout,
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			AcceptLanguage: cfg.Browser.AcceptLanguage,
			TimezoneID:     cfg.Browser.TimezoneID,
			Locale:         cfg.Browser.Locale,
			ProxyServer:    cfg.Browser.ProxyServer,
			MaxPages:       cfg.Browser.MaxPages,
			MaxRetries:     1,
			Logger:         a.Logger,
		})
		if err == nil {
			a.closers = append(a.closers, b.Close)
			f = b
		}
	default:
		return nil, fmt.Errorf("unknown fetcher %q", cfg.Fetcher.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s fetcher: %w", cfg.Fetcher.Type, err)
	}

	// Retries happen only here; the clients above make one attempt per call.
	a.Logger.Info("fetcher ready", "type", cfg.Fetcher.Type, "rate_limit", cfg.RateLimit.Strategy)
	return fetcher.WithRetry(f, cfg.Fetcher.Retries+1, cfg.Fetcher.RetryWait, a.Logger), nil
}

// Close releases the browser and database, in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
