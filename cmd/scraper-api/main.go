package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/storefront-scraper/internal/api"
	"github.com/maltedev/storefront-scraper/internal/app"
	"github.com/maltedev/storefront-scraper/internal/config"
	"github.com/maltedev/storefront-scraper/internal/database"
	"github.com/maltedev/storefront-scraper/internal/jobs"
	"github.com/maltedev/storefront-scraper/internal/queue"
	_ "github.com/maltedev/storefront-scraper/internal/sites/all"
	"github.com/maltedev/storefront-scraper/pkg/logger"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.New("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log, app.Options{Persist: cfg.Database.Enabled()})
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var (
		products api.ProductStore
		backlog  api.Backlog
	)
	if a.DB != nil {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		relay := database.NewRelay(database.NewOutboxRepository(a.DB), redisClient, log, database.RelayConfig{
			PollInterval: cfg.Redis.PollInterval,
			BatchSize:    cfg.Redis.BatchSize,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()

		products = database.NewProductRepository(a.DB)
		backlog = relay
	} else {
		log.Warn("no database configured, results go to the results directory only", "dir", cfg.Output.Dir)
	}

	manager := jobs.NewManager(a.Crawler, queue.NewInMemoryQueue(), jobs.Config{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
	}, log)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	manager.Start(workerCtx)

	handlers := api.NewHandlers(a.Crawler, manager, products, backlog, log)
	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewRouter(handlers, api.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Error("job workers did not stop in time", "error", err)
		}
		stopWorkers()
	}()

	log.Info("server starting", "addr", server.Addr, "fetcher", cfg.Fetcher.Type)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-stopped
	log.Info("server stopped")
}
