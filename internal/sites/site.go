// Package sites defines the per-site extraction contract and a registry of
// the supported storefronts. Each storefront lives in its own sub-package
// and registers itself on import.
package sites

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/selector"
)

var (
	ErrUnknownSite = errors.New("unknown site")
	// ErrNoData means the page loaded but did not contain the expected
	// structure, usually a layout change or a soft block.
	ErrNoData = errors.New("expected data not found on page")
)

// Site is implemented by every storefront scraper.
type Site interface {
	Name() string
	// SearchRequest builds the request for a search result page. query is
	// either a search term or a full search URL.
	SearchRequest(query string, page int) fetcher.Request
	// PageRequest derives the request for a later search page from the
	// first one.
	PageRequest(first *fetcher.Page, page int) fetcher.Request
	ParseSearch(p *fetcher.Page) (*SearchPage, error)
	ProductRequest(preview models.Preview) (fetcher.Request, bool)
	ParseProduct(p *fetcher.Page) (*models.Product, error)
	ReviewRequest(product *models.Product, page int) (fetcher.Request, bool)
	ParseReviews(p *fetcher.Page) (*ReviewPage, error)
	// MaxSearchPages and MaxReviewPages are site-imposed caps; 0 means none.
	MaxSearchPages() int
	MaxReviewPages() int
}

// StrictReviewCap is implemented by sites that reject review crawls asking
// for more pages than MaxReviewPages instead of silently clamping.
type StrictReviewCap interface {
	StrictReviewCap() bool
}

type SearchPage struct {
	Previews   []models.Preview
	TotalItems int
	PerPage    int
	// TotalPages, when known directly from the page, overrides the
	// TotalItems/PerPage computation.
	TotalPages int
}

type ReviewPage struct {
	Reviews      []models.Review
	TotalReviews int
	PerPage      int
	TotalPages   int
	// AverageRating is the product rating shown on the review page, if any.
	AverageRating *float64
}

var (
	mu       sync.RWMutex
	registry = map[string]Site{}
)

// Register adds s to the registry. Registering the same name twice panics.
func Register(s Site) {
	mu.Lock()
	defer mu.Unlock()

	name := strings.ToLower(s.Name())
	if _, dup := registry[name]; dup {
		panic("sites: Register called twice for " + name)
	}
	registry[name] = s
}

func Get(name string) (Site, error) {
	mu.RLock()
	defer mu.RUnlock()

	s, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, name)
	}
	return s, nil
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsURL reports whether a query is a ready-made URL rather than a search term.
func IsURL(query string) bool {
	return strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://")
}

// SearchURL returns query unchanged when it is already a URL, otherwise
// base with the escaped term appended.
func SearchURL(query, base string) string {
	if IsURL(query) {
		return query
	}
	return base + url.QueryEscape(strings.TrimSpace(query))
}

// PageTag encodes a page number for Request.Tag.
func PageTag(page int) string {
	return strconv.Itoa(page)
}

// PageOf returns the page number carried on p, defaulting to 1.
func PageOf(p *fetcher.Page) int {
	n, err := strconv.Atoi(p.Request.Tag)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Selector is a convenience for parsers: it returns the page selector or a
// wrapped parse error.
func Selector(p *fetcher.Page) (*selector.Selector, error) {
	sel, err := p.Selector()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p.URL, err)
	}
	return sel, nil
}
