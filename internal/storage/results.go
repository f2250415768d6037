// Package storage writes crawl output to a results directory and keeps the
// progress of batch product crawls on disk.
package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/storefront-scraper/internal/models"
)

const maxSlugLen = 60

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a query or URL into a file-name fragment.
func Slug(query string) string {
	s := strings.TrimSpace(query)
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		s = strings.TrimPrefix(u.Host, "www.") + u.Path
		if q := u.Query(); len(q) > 0 {
			for _, key := range []string{"k", "q", "kw", "_nkw", "searchTerm"} {
				if v := q.Get(key); v != "" {
					s += "-" + v
					break
				}
			}
		}
	}
	s = strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = "query"
	}
	return s
}

// ResultWriter stores each run under {dir}/{site}/:
//
//	search_{slug}.json    search previews
//	products_{slug}.json  product pages, rewritten as products arrive
//	reviews_{slug}.jsonl  one review per line with its product summary, appended
//	reviews_{slug}.csv    flat product+review export, written when the run ends
//	crawl_{slug}.json     run summary
type ResultWriter struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	products map[string][]*models.Product
}

func NewResultWriter(dir string) (*ResultWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &ResultWriter{
		dir:      dir,
		logger:   slog.Default().With("component", "result_writer"),
		products: make(map[string][]*models.Product),
	}, nil
}

func (w *ResultWriter) Dir() string {
	return w.dir
}

// Path returns the file a run writes for kind, e.g. "search" or "reviews"
// with ext ".jsonl".
func (w *ResultWriter) Path(run models.Run, kind, ext string) string {
	return filepath.Join(w.dir, run.Site, kind+"_"+Slug(run.Query)+ext)
}

func (w *ResultWriter) SaveSearch(ctx context.Context, run models.Run, previews []models.Preview) error {
	path := w.Path(run, "search", ".json")
	if err := WriteJSON(path, previews); err != nil {
		return err
	}
	w.logger.Info("saved search results", "path", path, "count", len(previews))
	return nil
}

func (w *ResultWriter) SaveProduct(ctx context.Context, run models.Run, product *models.Product) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.products[run.ID] = append(w.products[run.ID], product)
	return WriteJSON(w.Path(run, "products", ".json"), w.products[run.ID])
}

func (w *ResultWriter) SaveReviews(ctx context.Context, run models.Run, product *models.Product, reviews []models.Review) error {
	path := w.Path(run, "reviews", ".jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	summary := summarize(product)
	enc := json.NewEncoder(file)
	for i := range reviews {
		if err := enc.Encode(reviewRecord{Review: reviews[i], Product: summary}); err != nil {
			return fmt.Errorf("failed to write review: %w", err)
		}
	}
	w.logger.Info("saved reviews", "path", path, "product", product.Key(), "count", len(reviews))
	return nil
}

// reviewRecord is one line of reviews_{slug}.jsonl: the review with the
// product it belongs to.
type reviewRecord struct {
	models.Review
	Product productSummary `json:"product"`
}

type productSummary struct {
	ID          string   `json:"id,omitempty"`
	URL         string   `json:"url,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Features    []string `json:"features,omitempty"`
	Stars       *float64 `json:"stars,omitempty"`
	RatingCount *int     `json:"rating_count,omitempty"`
}

func summarize(p *models.Product) productSummary {
	return productSummary{
		ID:          p.ID,
		URL:         p.URL,
		Brand:       p.Brand,
		Name:        p.Title,
		Description: p.Description,
		Features:    p.Features,
		Stars:       p.Rating,
		RatingCount: p.ReviewCount,
	}
}

// Finish writes the run summary and the CSV export.
func (w *ResultWriter) Finish(ctx context.Context, result *models.CrawlResult) error {
	w.mu.Lock()
	delete(w.products, result.Run.ID)
	w.mu.Unlock()

	summary := struct {
		Run         models.Run `json:"run"`
		Previews    int        `json:"previews"`
		Products    int        `json:"products"`
		Reviews     int        `json:"reviews"`
		SearchPages int        `json:"search_pages"`
		ReviewPages int        `json:"review_pages"`
		Errors      []string   `json:"errors,omitempty"`
		FinishedAt  time.Time  `json:"finished_at"`
	}{
		Run:         result.Run,
		Previews:    len(result.Previews),
		Products:    len(result.Products),
		Reviews:     result.ReviewCount(),
		SearchPages: result.SearchPages,
		ReviewPages: result.ReviewPages,
		Errors:      result.Errors,
		FinishedAt:  result.FinishedAt,
	}
	if err := WriteJSON(w.Path(result.Run, "crawl", ".json"), summary); err != nil {
		return err
	}

	if result.ReviewCount() == 0 {
		return nil
	}
	return w.WriteCSV(w.Path(result.Run, "reviews", ".csv"), result)
}

var csvHeader = []string{
	"site", "product_id", "brand", "name", "description", "features", "stars", "rating_count",
	"review_id", "review_title", "review_text", "review_rating", "review_date", "review_location", "verified",
}

// WriteCSV exports one row per review joined with its product.
func (w *ResultWriter) WriteCSV(path string, result *models.CrawlResult) error {
	rows := [][]string{csvHeader}
	for _, p := range result.Products {
		for _, r := range result.Reviews[p.Key()] {
			rows = append(rows, []string{
				p.Site,
				p.ID,
				p.Brand,
				p.Title,
				p.Description,
				strings.Join(p.Features, " | "),
				formatFloat(p.Rating),
				formatInt(p.ReviewCount),
				r.ID,
				r.Title,
				r.Text,
				formatFloat(r.Rating),
				r.Date,
				r.Location,
				strconv.FormatBool(r.Verified),
			})
		}
	}

	return writeAtomic(path, func(f *os.File) error {
		cw := csv.NewWriter(f)
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("failed to write csv: %w", err)
		}
		return nil
	})
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// WriteJSON writes v as indented JSON, replacing path atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// writeAtomic writes to a temp file next to path and renames it into place.
func writeAtomic(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
