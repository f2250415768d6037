package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/storage"
)

var stdout io.Writer = os.Stdout

// emit writes v to path as JSON, or to stdout when path is "-".
func emit(path string, v any) error {
	if path == "" {
		return nil
	}
	if path == "-" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if err := storage.WriteJSON(path, v); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "wrote", path)
	return nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

func previewTable(previews []models.Preview) {
	t := newTable()
	t.AppendHeader(table.Row{"#", "Page", "ID", "Title", "Price", "Rating", "Reviews"})
	for i, p := range previews {
		t.AppendRow(table.Row{i + 1, p.Page, p.ID, truncate(p.Title, 60), price(p.Price), float(p.Rating), count(p.ReviewCount)})
	}
	t.AppendFooter(table.Row{"", "", "", "total", len(previews)})
	t.Render()
}

func productTable(products []*models.Product) {
	t := newTable()
	t.AppendHeader(table.Row{"ID", "Title", "Brand", "Price", "Rating", "Reviews"})
	for _, p := range products {
		t.AppendRow(table.Row{p.ID, truncate(p.Title, 60), p.Brand, price(p.Price), float(p.Rating), count(p.ReviewCount)})
	}
	t.Render()
}

func reviewTable(reviews []models.Review) {
	t := newTable()
	t.AppendHeader(table.Row{"Page", "Rating", "Date", "Author", "Text"})
	for _, r := range reviews {
		t.AppendRow(table.Row{r.Page, float(r.Rating), r.Date, truncate(r.Author, 20), truncate(r.Text, 70)})
	}
	t.AppendFooter(table.Row{"", "", "", "total", len(reviews)})
	t.Render()
}

func summaryTable(result *models.CrawlResult) {
	t := newTable()
	t.SetTitle(fmt.Sprintf("%s: %s", result.Run.Site, result.Run.Query))
	t.AppendRows([]table.Row{
		{"run", result.Run.ID},
		{"search pages", result.SearchPages},
		{"previews", len(result.Previews)},
		{"products", len(result.Products)},
		{"review pages", result.ReviewPages},
		{"reviews", result.ReviewCount()},
		{"errors", len(result.Errors)},
		{"duration", result.FinishedAt.Sub(result.Run.StartedAt).Round(time.Millisecond)},
	})
	t.Render()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func price(p *models.Price) string {
	if p == nil {
		return ""
	}
	if p.Raw != "" {
		return p.Raw
	}
	return strconv.FormatFloat(p.Amount, 'f', 2, 64) + " " + p.Currency
}

func float(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func count(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
