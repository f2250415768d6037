package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/storefront-scraper/internal/app"
	"github.com/maltedev/storefront-scraper/internal/config"
	"github.com/maltedev/storefront-scraper/internal/sites"
	_ "github.com/maltedev/storefront-scraper/internal/sites/all"
	"github.com/maltedev/storefront-scraper/pkg/logger"
)

var flags struct {
	envFile  string
	fetcher  string
	output   string
	logLevel string
	persist  bool
	noFiles  bool
}

var rootCmd = &cobra.Command{
	Use:           "scraper",
	Short:         "Scrapes search results, products and reviews from online storefronts.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.envFile, "env", ".env", "dotenv file to load")
	pf.StringVar(&flags.fetcher, "fetcher", "", "page fetcher: scrapfly, direct or browser (default $FETCHER)")
	pf.StringVarP(&flags.output, "results", "r", "", "results directory (default $RESULTS_DIR)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL)")
	pf.BoolVar(&flags.persist, "db", false, "also store results and outbox events in Postgres")
	pf.BoolVar(&flags.noFiles, "no-files", false, "do not write the results directory")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig applies command line overrides on top of the environment.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return nil, nil, err
	}
	if flags.fetcher != "" {
		cfg.Fetcher.Type = flags.fetcher
	}
	if flags.output != "" {
		cfg.Output.Dir = flags.output
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	return cfg, log, nil
}

// setup builds the application for commands that fetch pages. The caller
// closes it.
func setup(ctx context.Context) (*app.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log, app.Options{Persist: flags.persist, NoFiles: flags.noFiles})
}

func siteArg(name string) (sites.Site, error) {
	site, err := sites.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %v)", err, sites.Names())
	}
	return site, nil
}
