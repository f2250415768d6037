package scraper

import (
	"context"
	"fmt"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

// Paginate fetches and parses the first page, asks next for the requests of
// the remaining pages and fetches those with at most limit in flight.
//
// The first parsed page is always results[0]; the rest follow in completion
// order. Only a failure on the first page is returned as err, later pages
// that fail to fetch or parse are reported as PageErrors.
func Paginate[T any](
	ctx context.Context,
	f fetcher.Fetcher,
	stage string,
	first fetcher.Request,
	parse func(*fetcher.Page) (T, error),
	next func(*fetcher.Page, T) []fetcher.Request,
	limit int,
) (results []T, pageErrs []*PageError, err error) {
	page, err := f.Fetch(ctx, first)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %s: %w", first.URL, err)
	}
	parsed, err := parse(page)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", page.URL, err)
	}
	results = append(results, parsed)

	reqs := next(page, parsed)
	if len(reqs) == 0 {
		return results, nil, nil
	}

	for res := range fetcher.Concurrent(ctx, f, reqs, limit) {
		if res.Err != nil {
			pageErrs = append(pageErrs, pageError(stage, res.Request, res.Err))
			continue
		}
		v, err := parse(res.Page)
		if err != nil {
			pageErrs = append(pageErrs, pageError(stage, res.Request, err))
			continue
		}
		results = append(results, v)
	}

	if err := ctx.Err(); err != nil {
		return results, pageErrs, err
	}
	return results, pageErrs, nil
}

func pageError(stage string, req fetcher.Request, err error) *PageError {
	pe := &PageError{Stage: stage, URL: req.URL, Err: err}
	if req.Tag != "" {
		pe.Page = sites.PageOf(&fetcher.Page{Request: req})
	}
	return pe
}
