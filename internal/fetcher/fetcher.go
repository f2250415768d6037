// Package fetcher retrieves pages for the site scrapers, either through the
// Scrapfly scraping API or directly over HTTP.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/maltedev/storefront-scraper/internal/selector"
)

var (
	ErrBlocked           = errors.New("blocked by target site")
	ErrRateLimited       = errors.New("rate limited")
	ErrNotFound          = errors.New("page not found")
	ErrRenderUnsupported = errors.New("javascript rendering not supported by this fetcher")
	ErrMissingAPIKey     = errors.New("scraping api key is required")
)

type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Page, error)
}

// Request is the per-page scrape configuration. Zero values fall back to the
// defaults applied by MergeDefaults.
type Request struct {
	URL             string            `json:"url"`
	ASP             bool              `json:"asp,omitempty"`
	Country         string            `json:"country,omitempty"`
	Lang            []string          `json:"lang,omitempty"`
	Cache           bool              `json:"cache,omitempty"`
	RenderJS        bool              `json:"render_js,omitempty"`
	WaitForSelector string            `json:"wait_for_selector,omitempty"`
	ProxyPool       string            `json:"proxy_pool,omitempty"`
	JSScenario      []ScenarioStep    `json:"js_scenario,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	// Tag is caller context carried back on the Page, e.g. a page number.
	Tag string `json:"tag,omitempty"`
}

// MergeDefaults fills zero fields of req from base. Boolean flags are OR-ed
// so a site can opt in but never out of a global setting.
func MergeDefaults(base, req Request) Request {
	req.ASP = req.ASP || base.ASP
	req.Cache = req.Cache || base.Cache
	req.RenderJS = req.RenderJS || base.RenderJS
	if req.Country == "" {
		req.Country = base.Country
	}
	if len(req.Lang) == 0 {
		req.Lang = base.Lang
	}
	if req.ProxyPool == "" {
		req.ProxyPool = base.ProxyPool
	}
	if len(base.Headers) > 0 {
		headers := make(map[string]string, len(base.Headers)+len(req.Headers))
		for k, v := range base.Headers {
			headers[k] = v
		}
		for k, v := range req.Headers {
			headers[k] = v
		}
		req.Headers = headers
	}
	return req
}

type Page struct {
	Request    Request
	URL        string
	StatusCode int
	Content    string

	once sync.Once
	sel  *selector.Selector
	err  error
}

func NewPage(req Request, finalURL string, status int, content string) *Page {
	if finalURL == "" {
		finalURL = req.URL
	}
	return &Page{
		Request:    req,
		URL:        finalURL,
		StatusCode: status,
		Content:    content,
	}
}

// Selector parses the page content once and caches the result.
func (p *Page) Selector() (*selector.Selector, error) {
	p.once.Do(func() {
		p.sel, p.err = selector.Parse(p.Content)
	})
	return p.sel, p.err
}

// StatusError reports a non-success status returned by the target site.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrBlocked:
		return e.Code == http.StatusForbidden
	case ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	case ErrNotFound:
		return e.Code == http.StatusNotFound || e.Code == http.StatusGone
	}
	return false
}

func checkStatus(url string, code int) error {
	if code >= 400 {
		return &StatusError{URL: url, Code: code}
	}
	return nil
}
