package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/maltedev/storefront-scraper/internal/config"
	"github.com/maltedev/storefront-scraper/internal/jobs"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/queue"
	"github.com/maltedev/storefront-scraper/internal/scraper"
	"github.com/maltedev/storefront-scraper/internal/storage"
)

var (
	batchWorkers int
	urlFile      string
	productPages int
	retryFailed  bool
)

func init() {
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 0, "parallel crawls (default $JOB_WORKERS)")

	pf := productsCmd.Flags()
	pf.StringVarP(&urlFile, "file", "f", "", "file with one product URL per line")
	pf.IntVarP(&productPages, "review-pages", "p", 0, "review pages per product, 0 for all")
	pf.BoolVar(&retryFailed, "retry-failed", true, "retry URLs that failed in an earlier run")

	rootCmd.AddCommand(batchCmd, productsCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch <targets.json5>",
	Short: "Runs every crawl listed in a targets file on a worker pool.",
	Long: `Runs every crawl listed in a targets file. The file may set shared
"defaults" and a list of "targets" ({site, query, priority, max_search_pages,
max_review_pages, max_products, skip_reviews}). A sibling <name>.local.json5
is merged on top when present.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := config.LoadTargets(args[0])
		if err != nil {
			return err
		}
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		workers := batchWorkers
		if workers < 1 {
			workers = a.Config.Jobs.Workers
		}
		manager := jobs.NewManager(a.Crawler, queue.NewInMemoryQueue(), jobs.Config{
			Workers:    workers,
			MaxRetries: a.Config.Jobs.MaxRetries,
			RetryDelay: a.Config.Jobs.RetryDelay,
		}, a.Logger)

		reqs := make([]jobs.Request, len(targets))
		for i, t := range targets {
			reqs[i] = jobs.Request{
				Site:     t.Site,
				Query:    t.Query,
				Priority: t.Priority,
				Options: jobs.Options{
					MaxSearchPages: t.MaxSearchPages,
					MaxReviewPages: t.MaxReviewPages,
					MaxProducts:    t.MaxProducts,
					SkipReviews:    t.SkipReviews,
				},
			}
		}
		created, err := manager.CreateJobs(cmd.Context(), reqs)
		if err != nil {
			return err
		}

		manager.Start(cmd.Context())
		if err := waitForJobs(cmd.Context(), manager, created); err != nil {
			return err
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			return err
		}

		return jobTable(cmd.Context(), manager, created)
	},
}

func waitForJobs(ctx context.Context, m *jobs.Manager, created []*jobs.Job) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		stats := m.GetStats(ctx)
		if stats.PendingJobs == 0 && stats.RunningJobs == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			for _, job := range created {
				_ = m.CancelJob(context.Background(), job.ID)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func jobTable(ctx context.Context, m *jobs.Manager, created []*jobs.Job) error {
	t := newTable()
	t.AppendHeader(table.Row{"Site", "Query", "Status", "Products", "Reviews", "Failed pages", "Error"})
	failed := 0
	for _, c := range created {
		job, err := m.GetJob(ctx, c.ID)
		if err != nil {
			return err
		}
		if job.Status == jobs.StatusFailed {
			failed++
		}
		t.AppendRow(table.Row{job.Site, truncate(job.Query, 40), job.Status, job.Products, job.Reviews, job.PageErrors, truncate(job.Error, 60)})
	}
	t.Render()
	if failed > 0 {
		return fmt.Errorf("%d of %d crawls failed", failed, len(created))
	}
	return nil
}

var productsCmd = &cobra.Command{
	Use:   "products <site> [url...]",
	Short: "Scrapes a list of product URLs with their reviews, resuming where an earlier run stopped.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		site, err := siteArg(args[0])
		if err != nil {
			return err
		}
		urls := args[1:]
		if urlFile != "" {
			fromFile, err := readLines(urlFile)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}

		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		progress, err := storage.NewProgressStore(filepath.Join(a.Config.Output.ProgressDir, site.Name()+"_products.json"))
		if err != nil {
			return err
		}
		if err := progress.AddBatch(site.Name(), urls); err != nil {
			return err
		}

		var todo []storage.Target
		for _, t := range progress.Remaining(site.Name()) {
			if t.Status == storage.StatusFailed && !retryFailed {
				continue
			}
			todo = append(todo, t)
		}
		if len(todo) == 0 {
			fmt.Fprintln(os.Stderr, "nothing to do")
			return nil
		}

		run := models.Run{ID: uuid.NewString(), Site: site.Name(), Query: "products", StartedAt: time.Now().UTC()}
		result := &models.CrawlResult{Run: run, Reviews: make(map[string][]models.Review)}
		for _, t := range todo {
			if err := cmd.Context().Err(); err != nil {
				break
			}
			if err := progress.UpdateStatus(t.URL, storage.StatusProcessing, nil); err != nil {
				return err
			}

			product, err := a.Crawler.Product(cmd.Context(), site, t.URL)
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
				if err := progress.UpdateStatus(t.URL, storage.StatusFailed, err); err != nil {
					return err
				}
				continue
			}
			result.Products = append(result.Products, product)

			reviews, err := a.Crawler.Reviews(cmd.Context(), site, product, productPages)
			status := storage.StatusCompleted
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
				if len(reviews) == 0 {
					status = storage.StatusFailed
				}
			}
			if len(reviews) > 0 {
				result.Reviews[product.Key()] = reviews
			}
			if saveErr := save(cmd.Context(), a.Sink, run, product, reviews); saveErr != nil {
				status = storage.StatusFailed
				err = saveErr
			}
			if status == storage.StatusCompleted {
				err = nil
			}
			if err := progress.UpdateStatus(t.URL, status, err); err != nil {
				return err
			}
		}
		result.FinishedAt = time.Now().UTC()

		if err := a.Sink.Finish(cmd.Context(), result); err != nil {
			return err
		}
		productTable(result.Products)
		stats := progress.Stats()
		fmt.Fprintf(os.Stderr, "completed %d, failed %d, pending %d\n", stats[storage.StatusCompleted], stats[storage.StatusFailed], stats[storage.StatusPending])
		return cmd.Context().Err()
	},
}

func save(ctx context.Context, sink scraper.Sink, run models.Run, product *models.Product, reviews []models.Review) error {
	err := sink.SaveProduct(ctx, run, product)
	if len(reviews) > 0 {
		err = errors.Join(err, sink.SaveReviews(ctx, run, product, reviews))
	}
	return err
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
