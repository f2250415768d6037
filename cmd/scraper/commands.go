package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/maltedev/storefront-scraper/internal/scraper"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

var (
	outPath     string
	searchPages int
	reviewPages int
	runOpts     scraper.Options
)

func init() {
	searchCmd.Flags().IntVarP(&searchPages, "pages", "p", 0, "search pages to fetch, 0 for all")
	reviewsCmd.Flags().IntVarP(&reviewPages, "pages", "p", 0, "review pages to fetch, 0 for all")
	for _, cmd := range []*cobra.Command{searchCmd, productCmd, reviewsCmd} {
		cmd.Flags().StringVarP(&outPath, "out", "o", "", `write JSON to this file, "-" for stdout`)
	}

	rf := runCmd.Flags()
	rf.IntVar(&runOpts.MaxSearchPages, "search-pages", 0, "search pages to fetch, 0 for all")
	rf.IntVar(&runOpts.MaxReviewPages, "review-pages", 0, "review pages per product, 0 for all")
	rf.IntVar(&runOpts.MaxProducts, "max-products", 0, "product pages to fetch, 0 for every search result")
	rf.BoolVar(&runOpts.SkipReviews, "skip-reviews", false, "stop after the product pages")

	rootCmd.AddCommand(sitesCmd, searchCmd, productCmd, reviewsCmd, runCmd)
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Lists the supported sites and their page limits.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		t := newTable()
		t.AppendHeader(table.Row{"Site", "Max search pages", "Max review pages", "Strict review cap"})
		for _, name := range sites.Names() {
			site, _ := sites.Get(name)
			strict := false
			if s, ok := site.(sites.StrictReviewCap); ok {
				strict = s.StrictReviewCap()
			}
			t.AppendRow(table.Row{name, limit(site.MaxSearchPages()), limit(site.MaxReviewPages()), strict})
		}
		t.Render()
	},
}

func limit(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprint(n)
}

var searchCmd = &cobra.Command{
	Use:   "search <site> <query|search-url>",
	Short: "Crawls search result pages and prints the listed products.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		site, err := siteArg(args[0])
		if err != nil {
			return err
		}
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		previews, err := a.Crawler.Search(cmd.Context(), site, args[1], searchPages)
		if len(previews) == 0 {
			return err
		}
		reportPartial(err)
		previewTable(previews)
		return emit(outPath, previews)
	},
}

var productCmd = &cobra.Command{
	Use:   "product <site> <url>",
	Short: "Scrapes a single product page.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		site, err := siteArg(args[0])
		if err != nil {
			return err
		}
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		product, err := a.Crawler.Product(cmd.Context(), site, args[1])
		if err != nil {
			return err
		}
		if outPath == "" {
			outPath = "-"
		}
		return emit(outPath, product)
	},
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews <site> <product-url>",
	Short: "Scrapes a product page and all of its review pages.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		site, err := siteArg(args[0])
		if err != nil {
			return err
		}
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		product, err := a.Crawler.Product(cmd.Context(), site, args[1])
		if err != nil {
			return err
		}
		reviews, err := a.Crawler.Reviews(cmd.Context(), site, product, reviewPages)
		if len(reviews) == 0 && err != nil {
			return err
		}
		reportPartial(err)
		reviewTable(reviews)
		return emit(outPath, reviews)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <site> <query|search-url>",
	Short: "Runs search, product and review crawls and writes the results directory.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		site, err := siteArg(args[0])
		if err != nil {
			return err
		}
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		opts := runOpts
		opts.OnProgress = func(p scraper.Progress) {
			a.Logger.Debug("progress", "stage", p.Stage, "done", p.Done, "total", p.Total)
		}
		result, err := a.Crawler.Run(cmd.Context(), site, args[1], opts)
		if result != nil && result.Run.ID != "" {
			summaryTable(result)
		}
		if err != nil && len(scraper.PageErrors(err)) > 0 && !errors.Is(err, scraper.ErrPageCapExceeded) {
			reportPartial(err)
			return nil
		}
		return err
	},
}

// reportPartial prints failed pages without failing the command.
func reportPartial(err error) {
	pages := scraper.PageErrors(err)
	if len(pages) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "%d page(s) failed:\n", len(pages))
	for _, pe := range pages {
		fmt.Fprintln(os.Stderr, "  ", pe.Error())
	}
}
