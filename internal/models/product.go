package models

import (
	"strings"
	"time"
)

// Preview is a single search-result entry as it appears on a listing page.
type Preview struct {
	Site        string         `json:"site"`
	ID          string         `json:"id,omitempty"`
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	Brand       string         `json:"brand,omitempty"`
	Price       *Price         `json:"price,omitempty"`
	Rating      *float64       `json:"rating,omitempty"`
	ReviewCount *int           `json:"review_count,omitempty"`
	Image       string         `json:"image,omitempty"`
	Sponsored   bool           `json:"sponsored,omitempty"`
	Page        int            `json:"page,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Key identifies the preview for de-duplication across search pages.
func (p Preview) Key() string {
	if p.ID != "" {
		return p.Site + ":" + p.ID
	}
	return p.Site + ":" + p.URL
}

type Product struct {
	Site        string            `json:"site"`
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Brand       string            `json:"brand,omitempty"`
	Description string            `json:"description,omitempty"`
	Price       *Price            `json:"price,omitempty"`
	Rating      *float64          `json:"rating,omitempty"`
	ReviewCount *int              `json:"review_count,omitempty"`
	ReviewURL   string            `json:"review_url,omitempty"`
	Features    []string          `json:"features,omitempty"`
	Images      []string          `json:"images,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`
	Attributes  map[string]any    `json:"attributes,omitempty"`
	Reviews     []Review          `json:"reviews,omitempty"`
	ScrapedAt   time.Time         `json:"scraped_at"`
}

// Key identifies the product within its site: the site's id, or the URL
// when the page exposed none. CrawlResult.Reviews is keyed by it.
func (p *Product) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return p.URL
}

type Review struct {
	Site       string         `json:"site"`
	ProductID  string         `json:"product_id"`
	ID         string         `json:"id,omitempty"`
	Author     string         `json:"author,omitempty"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text"`
	Rating     *float64       `json:"rating,omitempty"`
	Date       string         `json:"date,omitempty"`
	Location   string         `json:"location,omitempty"`
	Verified   bool           `json:"verified"`
	Images     []string       `json:"images,omitempty"`
	Page       int            `json:"page,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	Raw      string  `json:"raw,omitempty"`
}

func NewProduct(site, id, url string) *Product {
	return &Product{
		Site:       site,
		ID:         id,
		URL:        url,
		Specs:      make(map[string]string),
		Attributes: make(map[string]any),
		ScrapedAt:  time.Now().UTC(),
	}
}

func (p *Price) IsValid() bool {
	return p != nil && p.Amount >= 0 && p.Raw != ""
}

// MergePreview fills fields the product page did not yield from the search preview.
func (p *Product) MergePreview(pv Preview) {
	if p.ID == "" {
		p.ID = pv.ID
	}
	if p.URL == "" {
		p.URL = pv.URL
	}
	if p.Title == "" {
		p.Title = pv.Title
	}
	if p.Brand == "" {
		p.Brand = pv.Brand
	}
	if p.Price == nil {
		p.Price = pv.Price
	}
	if p.Rating == nil {
		p.Rating = pv.Rating
	}
	if p.ReviewCount == nil {
		p.ReviewCount = pv.ReviewCount
	}
	if len(p.Images) == 0 && pv.Image != "" {
		p.Images = []string{pv.Image}
	}
}

func (p *Product) Validate() []string {
	var errors []string

	if p.Site == "" {
		errors = append(errors, "site is required")
	}

	if p.ID == "" && p.URL == "" {
		errors = append(errors, "id or url is required")
	}

	if strings.TrimSpace(p.Title) == "" {
		errors = append(errors, "title is required")
	}

	if p.Rating != nil && (*p.Rating < 0 || *p.Rating > 5) {
		errors = append(errors, "rating out of range")
	}

	return errors
}

func (r *Review) Validate() []string {
	var errors []string

	if r.ProductID == "" {
		errors = append(errors, "product id is required")
	}

	if strings.TrimSpace(r.Text) == "" && strings.TrimSpace(r.Title) == "" {
		errors = append(errors, "review has no content")
	}

	return errors
}

// Run describes one crawl invocation, used to name outputs and tag events.
type Run struct {
	ID        string    `json:"id"`
	Site      string    `json:"site"`
	Query     string    `json:"query"`
	StartedAt time.Time `json:"started_at"`
}

type CrawlResult struct {
	Run         Run                 `json:"run"`
	Previews    []Preview           `json:"previews"`
	Products    []*Product          `json:"products"`
	Reviews     map[string][]Review `json:"reviews,omitempty"`
	SearchPages int                 `json:"search_pages"`
	ReviewPages int                 `json:"review_pages"`
	Errors      []string            `json:"errors,omitempty"`
	FinishedAt  time.Time           `json:"finished_at"`
}

func (r *CrawlResult) ReviewCount() int {
	n := 0
	for _, rs := range r.Reviews {
		n += len(rs)
	}
	return n
}

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
