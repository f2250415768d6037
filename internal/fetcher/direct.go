package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"github.com/maltedev/storefront-scraper/internal/ratelimit"
)

type DirectOptions struct {
	CacheDir    string
	Delay       time.Duration
	RandomDelay time.Duration
	Parallelism int
	Timeout     time.Duration
	Limiter     ratelimit.RateLimiter
	Logger      *slog.Logger
}

// DirectClient fetches pages with a plain HTTP collector. It cannot render
// JavaScript or bypass anti-bot protection, so it suits sites that serve
// their data in the initial HTML.
type DirectClient struct {
	base     *colly.Collector
	cacheDir string
	limiter  ratelimit.RateLimiter
	logger   *slog.Logger
}

func NewDirectClient(opts DirectOptions) (*DirectClient, error) {
	if opts.Parallelism < 1 {
		opts.Parallelism = 2
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.SetRequestTimeout(opts.Timeout)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: opts.Parallelism,
		Delay:       opts.Delay,
		RandomDelay: opts.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("failed to set limit rule: %w", err)
	}

	return &DirectClient{
		base:     c,
		cacheDir: opts.CacheDir,
		limiter:  opts.Limiter,
		logger:   opts.Logger.With("component", "direct_fetcher"),
	}, nil
}

func (d *DirectClient) Fetch(ctx context.Context, req Request) (*Page, error) {
	if req.RenderJS || len(req.JSScenario) > 0 || req.WaitForSelector != "" {
		return nil, fmt.Errorf("%s: %w", req.URL, ErrRenderUnsupported)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	c := d.base.Clone()
	c.CacheDir = ""
	if req.Cache {
		c.CacheDir = d.cacheDir
	}
	extensions.RandomUserAgent(c)

	var (
		page     *Page
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for name, value := range req.Headers {
			r.Headers.Set(name, value)
		}
		d.logger.Debug("fetching", "url", r.URL.String())
	})
	c.OnResponse(func(r *colly.Response) {
		page = NewPage(req, r.Request.URL.String(), r.StatusCode, string(r.Body))
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		d.logger.Warn("fetch failed", "url", req.URL, "error", err)
	})

	if err := c.Visit(req.URL); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", req.URL, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		d.record(false)
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL, fetchErr)
	}
	if page == nil {
		d.record(false)
		return nil, fmt.Errorf("failed to fetch %s: empty response", req.URL)
	}
	if err := checkStatus(page.URL, page.StatusCode); err != nil {
		d.record(false)
		return nil, err
	}

	d.record(true)
	return page, nil
}

func (d *DirectClient) record(success bool) {
	fb, ok := d.limiter.(ratelimit.Feedback)
	if !ok {
		return
	}
	if success {
		fb.RecordSuccess()
	} else {
		fb.RecordError()
	}
}
