// Package scraper drives the search, product and review crawls of a site:
// it fetches the first page, works out the pagination, fetches the
// remaining pages concurrently and hands parsed records to a Sink.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

var (
	ErrNoResults       = errors.New("no results found")
	ErrPageCapExceeded = errors.New("requested pages exceed the site limit")
	ErrBlocked         = fetcher.ErrBlocked
	ErrRateLimited     = fetcher.ErrRateLimited
	ErrUnknownSite     = sites.ErrUnknownSite
)

// Stage names reported through Options.OnProgress.
const (
	StageSearch   = "search"
	StageProducts = "products"
	StageReviews  = "reviews"
)

type Progress struct {
	Site  string
	Stage string
	Done  int
	Total int
}

type Options struct {
	// MaxSearchPages and MaxReviewPages limit pagination; 0 means every page
	// the site reports, up to the site's own cap.
	MaxSearchPages int
	MaxReviewPages int
	// MaxProducts limits how many search results get a product page fetch.
	MaxProducts int
	SkipReviews bool
	OnProgress  func(Progress)
}

func (o Options) progress(p Progress) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

// PageError records a page that could not be fetched or parsed. The crawl
// continues without it.
type PageError struct {
	Stage string
	URL   string
	Page  int
	Err   error
}

func (e *PageError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s page %d (%s): %v", e.Stage, e.Page, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// PartialError is returned together with results when some pages failed.
type PartialError struct {
	Errors []*PageError
}

func (e *PartialError) Error() string {
	if len(e.Errors) == 1 {
		return "1 page failed: " + e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, pe := range e.Errors {
		msgs = append(msgs, pe.Error())
	}
	return fmt.Sprintf("%d pages failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *PartialError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, pe := range e.Errors {
		errs[i] = pe
	}
	return errs
}

// partial returns nil for no page errors so callers can return it directly.
func partial(errs []*PageError) error {
	if len(errs) == 0 {
		return nil
	}
	return &PartialError{Errors: errs}
}

// PageErrors extracts the failed pages from an error returned by the
// crawler, if any.
func PageErrors(err error) []*PageError {
	var pe *PartialError
	if errors.As(err, &pe) {
		return pe.Errors
	}
	return nil
}

// Sink receives crawl output as it is produced.
type Sink interface {
	SaveSearch(ctx context.Context, run models.Run, previews []models.Preview) error
	SaveProduct(ctx context.Context, run models.Run, product *models.Product) error
	SaveReviews(ctx context.Context, run models.Run, product *models.Product, reviews []models.Review) error
}

// Finisher is implemented by sinks that want the complete result once a
// run ends.
type Finisher interface {
	Finish(ctx context.Context, result *models.CrawlResult) error
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) SaveSearch(ctx context.Context, run models.Run, previews []models.Preview) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveSearch(ctx, run, previews))
	}
	return errors.Join(errs...)
}

func (m MultiSink) SaveProduct(ctx context.Context, run models.Run, product *models.Product) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveProduct(ctx, run, product))
	}
	return errors.Join(errs...)
}

func (m MultiSink) SaveReviews(ctx context.Context, run models.Run, product *models.Product, reviews []models.Review) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveReviews(ctx, run, product, reviews))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Finish(ctx context.Context, result *models.CrawlResult) error {
	var errs []error
	for _, s := range m {
		if f, ok := s.(Finisher); ok {
			errs = append(errs, f.Finish(ctx, result))
		}
	}
	return errors.Join(errs...)
}

type discard struct{}

func (discard) SaveSearch(context.Context, models.Run, []models.Preview) error { return nil }
func (discard) SaveProduct(context.Context, models.Run, *models.Product) error { return nil }
func (discard) SaveReviews(context.Context, models.Run, *models.Product, []models.Review) error {
	return nil
}
