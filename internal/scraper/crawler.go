package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/parser"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

const DefaultConcurrency = 5

type Config struct {
	// Concurrency bounds the requests in flight per crawl step.
	Concurrency int
	// Defaults are merged into every request a site builds.
	Defaults fetcher.Request
	Sink     Sink
	Logger   *slog.Logger
}

type Crawler struct {
	fetcher     fetcher.Fetcher
	concurrency int
	sink        Sink
	logger      *slog.Logger
}

func New(f fetcher.Fetcher, cfg Config) *Crawler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Sink == nil {
		cfg.Sink = discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Crawler{
		fetcher:     defaulting{next: f, base: cfg.Defaults},
		concurrency: cfg.Concurrency,
		sink:        cfg.Sink,
		logger:      cfg.Logger.With("component", "crawler"),
	}
}

type defaulting struct {
	next fetcher.Fetcher
	base fetcher.Request
}

func (d defaulting) Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Page, error) {
	return d.next.Fetch(ctx, fetcher.MergeDefaults(d.base, req))
}

// Search crawls the search results for query. maxPages of 0 visits every
// page the site reports, bounded by the site cap.
func (c *Crawler) Search(ctx context.Context, site sites.Site, query string, maxPages int) ([]models.Preview, error) {
	previews, _, err := c.search(ctx, site, query, maxPages, Options{})
	return previews, err
}

func (c *Crawler) search(ctx context.Context, site sites.Site, query string, maxPages int, opts Options) ([]models.Preview, int, error) {
	logger := c.logger.With("site", site.Name(), "query", query)

	siteCap := site.MaxSearchPages()
	if siteCap > 0 && maxPages > siteCap {
		logger.Warn("requested search pages exceed site limit, clamping", "requested", maxPages, "limit", siteCap)
	}

	logger.Info("starting search crawl", "max_pages", maxPages)
	start := time.Now()

	parse := func(p *fetcher.Page) (*sites.SearchPage, error) {
		sp, err := site.ParseSearch(p)
		if err != nil {
			return nil, err
		}
		n := sites.PageOf(p)
		for i := range sp.Previews {
			sp.Previews[i].Site = site.Name()
			if sp.Previews[i].Page == 0 {
				sp.Previews[i].Page = n
			}
		}
		return sp, nil
	}

	next := func(first *fetcher.Page, sp *sites.SearchPage) []fetcher.Request {
		var total int
		if sp.TotalPages > 0 {
			total = parser.TotalPages(sp.TotalPages, 1, siteCap, maxPages)
		} else {
			perPage := sp.PerPage
			if perPage == 0 {
				perPage = len(sp.Previews)
			}
			total = parser.TotalPages(sp.TotalItems, perPage, siteCap, maxPages)
		}
		logger.Info("search pagination", "total_items", sp.TotalItems, "pages", total)
		opts.progress(Progress{Site: site.Name(), Stage: StageSearch, Done: 1, Total: total})

		reqs := make([]fetcher.Request, 0, total-1)
		for n := 2; n <= total; n++ {
			reqs = append(reqs, site.PageRequest(first, n))
		}
		return reqs
	}

	pages, pageErrs, err := Paginate(ctx, c.fetcher, StageSearch, site.SearchRequest(query, 1), parse, next, c.concurrency)
	if err != nil && len(pages) == 0 {
		return nil, 0, fmt.Errorf("failed to crawl search: %w", err)
	}
	c.logPageErrors(logger, pageErrs)

	var all []models.Preview
	for _, sp := range pages {
		all = append(all, sp.Previews...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Page < all[j].Page })

	seen := make(map[string]bool)
	var previews []models.Preview
	for _, pv := range all {
		if seen[pv.Key()] {
			continue
		}
		seen[pv.Key()] = true
		previews = append(previews, pv)
	}

	if err != nil {
		return previews, len(pages), err
	}
	if len(previews) == 0 {
		return nil, len(pages), errors.Join(fmt.Errorf("%w for %q", ErrNoResults, query), partial(pageErrs))
	}

	logger.Info("search crawl completed",
		"previews", len(previews),
		"pages", len(pages),
		"failed_pages", len(pageErrs),
		"duration", time.Since(start),
	)
	return previews, len(pages), partial(pageErrs)
}

// Product fetches a single product page by URL.
func (c *Crawler) Product(ctx context.Context, site sites.Site, productURL string) (*models.Product, error) {
	pv := models.Preview{Site: site.Name(), URL: productURL}
	req, ok := site.ProductRequest(pv)
	if !ok {
		return nil, fmt.Errorf("%s cannot fetch product %s", site.Name(), productURL)
	}
	page, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch product: %w", err)
	}
	product, err := site.ParseProduct(page)
	if err != nil {
		return nil, fmt.Errorf("failed to parse product %s: %w", page.URL, err)
	}
	c.finishProduct(site, product, pv)
	return product, nil
}

// Products fetches the product page of every preview concurrently. Products
// are returned in preview order; failed pages are reported through a
// PartialError.
func (c *Crawler) Products(ctx context.Context, site sites.Site, previews []models.Preview) ([]*models.Product, error) {
	return c.products(ctx, site, previews, Options{}, nil)
}

func (c *Crawler) products(ctx context.Context, site sites.Site, previews []models.Preview, opts Options, onProduct func(*models.Product)) ([]*models.Product, error) {
	logger := c.logger.With("site", site.Name())

	byURL := make(map[string]int, len(previews))
	reqs := make([]fetcher.Request, 0, len(previews))
	for i, pv := range previews {
		req, ok := site.ProductRequest(pv)
		if !ok {
			logger.Debug("skipping preview without product page", "url", pv.URL)
			continue
		}
		if _, dup := byURL[req.URL]; dup {
			continue
		}
		byURL[req.URL] = i
		reqs = append(reqs, req)
	}

	logger.Info("scraping products", "count", len(reqs))

	type indexed struct {
		idx     int
		product *models.Product
	}
	var (
		got      []indexed
		pageErrs []*PageError
	)
	for res := range fetcher.Concurrent(ctx, c.fetcher, reqs, c.concurrency) {
		idx := byURL[res.Request.URL]
		if res.Err != nil {
			pageErrs = append(pageErrs, &PageError{Stage: StageProducts, URL: res.Request.URL, Err: res.Err})
			continue
		}
		product, err := site.ParseProduct(res.Page)
		if err != nil {
			pageErrs = append(pageErrs, &PageError{Stage: StageProducts, URL: res.Request.URL, Err: err})
			continue
		}
		c.finishProduct(site, product, previews[idx])
		got = append(got, indexed{idx: idx, product: product})
		if onProduct != nil {
			onProduct(product)
		}
		opts.progress(Progress{Site: site.Name(), Stage: StageProducts, Done: len(got), Total: len(reqs)})
	}
	c.logPageErrors(logger, pageErrs)

	sort.Slice(got, func(i, j int) bool { return got[i].idx < got[j].idx })
	products := make([]*models.Product, len(got))
	for i, g := range got {
		products[i] = g.product
	}

	logger.Info("products scraped", "scraped", len(products), "failed", len(pageErrs))

	if err := ctx.Err(); err != nil {
		return products, err
	}
	return products, partial(pageErrs)
}

func (c *Crawler) finishProduct(site sites.Site, product *models.Product, pv models.Preview) {
	product.Site = site.Name()
	product.MergePreview(pv)
	if problems := product.Validate(); len(problems) > 0 {
		c.logger.Warn("product failed validation",
			"site", site.Name(),
			"url", product.URL,
			"problems", strings.Join(problems, "; "),
		)
	}
}

// Reviews crawls the review pages of product. maxPages of 0 visits every
// page, bounded by the site cap. Sites with a strict cap reject a larger
// maxPages with ErrPageCapExceeded.
func (c *Crawler) Reviews(ctx context.Context, site sites.Site, product *models.Product, maxPages int) ([]models.Review, error) {
	reviews, _, err := c.reviews(ctx, site, product, maxPages, Options{})
	return reviews, err
}

func (c *Crawler) reviews(ctx context.Context, site sites.Site, product *models.Product, maxPages int, opts Options) ([]models.Review, int, error) {
	logger := c.logger.With("site", site.Name(), "product", product.Key())

	siteCap := site.MaxReviewPages()
	if siteCap > 0 && maxPages > siteCap {
		if s, ok := site.(sites.StrictReviewCap); ok && s.StrictReviewCap() {
			return nil, 0, fmt.Errorf("%w: %s allows %d review pages, %d requested", ErrPageCapExceeded, site.Name(), siteCap, maxPages)
		}
		logger.Warn("requested review pages exceed site limit, clamping", "requested", maxPages, "limit", siteCap)
	}

	first, ok := site.ReviewRequest(product, 1)
	if !ok {
		logger.Debug("product has no review page")
		return nil, 0, nil
	}

	logger.Info("scraping reviews", "url", first.URL)

	parse := func(p *fetcher.Page) (*sites.ReviewPage, error) {
		rp, err := site.ParseReviews(p)
		if err != nil {
			return nil, err
		}
		n := sites.PageOf(p)
		for i := range rp.Reviews {
			rp.Reviews[i].Site = site.Name()
			rp.Reviews[i].ProductID = product.ID
			if rp.Reviews[i].Page == 0 {
				rp.Reviews[i].Page = n
			}
		}
		return rp, nil
	}

	next := func(_ *fetcher.Page, rp *sites.ReviewPage) []fetcher.Request {
		if product.Rating == nil && rp.AverageRating != nil {
			product.Rating = rp.AverageRating
		}
		if len(rp.Reviews) == 0 {
			return nil
		}
		var total int
		if rp.TotalPages > 0 {
			total = parser.TotalPages(rp.TotalPages, 1, siteCap, maxPages)
		} else {
			totalReviews := rp.TotalReviews
			if totalReviews == 0 && product.ReviewCount != nil {
				totalReviews = *product.ReviewCount
			}
			perPage := rp.PerPage
			if perPage == 0 {
				perPage = len(rp.Reviews)
			}
			total = parser.TotalPages(totalReviews, perPage, siteCap, maxPages)
		}
		logger.Info("review pagination", "total_reviews", rp.TotalReviews, "pages", total)
		opts.progress(Progress{Site: site.Name(), Stage: StageReviews, Done: 1, Total: total})

		var reqs []fetcher.Request
		for n := 2; n <= total; n++ {
			if req, ok := site.ReviewRequest(product, n); ok {
				reqs = append(reqs, req)
			}
		}
		return reqs
	}

	pages, pageErrs, err := Paginate(ctx, c.fetcher, StageReviews, first, parse, next, c.concurrency)
	if err != nil && len(pages) == 0 {
		return nil, 0, fmt.Errorf("failed to crawl reviews: %w", err)
	}
	c.logPageErrors(logger, pageErrs)

	var all []models.Review
	for _, rp := range pages {
		all = append(all, rp.Reviews...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Page < all[j].Page })

	seen := make(map[string]bool)
	var reviews []models.Review
	for _, r := range all {
		if r.ID != "" {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
		}
		reviews = append(reviews, r)
	}

	logger.Info("reviews scraped", "reviews", len(reviews), "pages", len(pages), "failed_pages", len(pageErrs))

	if err != nil {
		return reviews, len(pages), err
	}
	return reviews, len(pages), partial(pageErrs)
}

// Run performs the full pipeline for one query: search, product pages and,
// unless skipped, the review crawl of every product. Output is written to
// the sink as each step completes. Page failures do not stop the run; they
// are listed in the result and returned as a PartialError.
func (c *Crawler) Run(ctx context.Context, site sites.Site, query string, opts Options) (*models.CrawlResult, error) {
	run := models.Run{
		ID:        uuid.NewString(),
		Site:      site.Name(),
		Query:     query,
		StartedAt: time.Now().UTC(),
	}
	result := &models.CrawlResult{Run: run, Reviews: make(map[string][]models.Review)}
	logger := c.logger.With("run_id", run.ID, "site", run.Site)

	var (
		pageErrs []*PageError
		sinkErrs []error
	)
	collect := func(err error) {
		for _, pe := range PageErrors(err) {
			pageErrs = append(pageErrs, pe)
			result.Errors = append(result.Errors, pe.Error())
		}
	}
	saveErr := func(what string, err error) {
		if err == nil {
			return
		}
		logger.Error("failed to save "+what, "error", err)
		sinkErrs = append(sinkErrs, fmt.Errorf("failed to save %s: %w", what, err))
		result.Errors = append(result.Errors, err.Error())
	}
	finish := func() error {
		result.FinishedAt = time.Now().UTC()
		if f, ok := c.sink.(Finisher); ok {
			saveErr("crawl result", f.Finish(ctx, result))
		}
		return errors.Join(partial(pageErrs), errors.Join(sinkErrs...))
	}

	previews, searchPages, err := c.search(ctx, site, query, opts.MaxSearchPages, opts)
	result.SearchPages = searchPages
	if len(previews) == 0 {
		result.FinishedAt = time.Now().UTC()
		return result, err
	}
	collect(err)
	result.Previews = previews
	saveErr("search results", c.sink.SaveSearch(ctx, run, previews))

	selected := previews
	if opts.MaxProducts > 0 && len(selected) > opts.MaxProducts {
		selected = selected[:opts.MaxProducts]
	}

	products, err := c.products(ctx, site, selected, opts, func(p *models.Product) {
		saveErr("product "+p.Key(), c.sink.SaveProduct(ctx, run, p))
	})
	result.Products = products
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, errors.Join(ctxErr, finish())
	}
	collect(err)

	if !opts.SkipReviews {
		for i, product := range products {
			if err := ctx.Err(); err != nil {
				return result, errors.Join(err, finish())
			}
			reviews, pages, err := c.reviews(ctx, site, product, opts.MaxReviewPages, opts)
			if errors.Is(err, ErrPageCapExceeded) {
				return result, errors.Join(err, finish())
			}
			result.ReviewPages += pages
			if err != nil && PageErrors(err) == nil {
				pe := &PageError{Stage: StageReviews, URL: product.URL, Err: err}
				pageErrs = append(pageErrs, pe)
				result.Errors = append(result.Errors, pe.Error())
			} else {
				collect(err)
			}
			if len(reviews) > 0 {
				result.Reviews[product.Key()] = reviews
				saveErr("reviews of "+product.Key(), c.sink.SaveReviews(ctx, run, product, reviews))
			}
			opts.progress(Progress{Site: site.Name(), Stage: StageReviews, Done: i + 1, Total: len(products)})
		}
	}

	err = finish()
	logger.Info("crawl completed",
		"query", query,
		"previews", len(result.Previews),
		"products", len(result.Products),
		"reviews", result.ReviewCount(),
		"errors", len(result.Errors),
		"duration", result.FinishedAt.Sub(run.StartedAt),
	)
	return result, err
}

func (c *Crawler) logPageErrors(logger *slog.Logger, errs []*PageError) {
	for _, pe := range errs {
		logger.Error("failed to scrape page", "stage", pe.Stage, "url", pe.URL, "page", pe.Page, "error", pe.Err)
	}
}
