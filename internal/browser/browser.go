package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/playwright-community/playwright-go"
)

// ErrChallenge is returned when the rendered page is a bot challenge.
var ErrChallenge = fmt.Errorf("%w: bot challenge page", fetcher.ErrBlocked)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	pages   chan struct{}
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	MaxPages       int
	MaxRetries     int
	Logger         *slog.Logger
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		TimezoneID:     "America/New_York",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
		MaxPages:   2,
		MaxRetries: 3,
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + opts.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		pages:   make(chan struct{}, opts.MaxPages),
		logger:  opts.Logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

// Fetch renders req.URL in a fresh tab, replays the JS scenario and returns
// the resulting DOM. At most MaxPages tabs are open at once.
func (b *Browser) Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Page, error) {
	select {
	case b.pages <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-b.pages }()

	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if len(req.Headers) > 0 {
		if err := page.SetExtraHTTPHeaders(req.Headers); err != nil {
			return nil, fmt.Errorf("failed to set headers: %w", err)
		}
	}

	status, err := b.NavigateWithRetry(ctx, page, req.URL, b.opts.MaxRetries)
	if err != nil {
		return nil, err
	}

	if len(req.JSScenario) > 0 {
		if err := RunScenario(ctx, &playwrightActions{page: page}, req.JSScenario); err != nil {
			return nil, fmt.Errorf("failed to run js scenario on %s: %w", req.URL, err)
		}
	}

	if req.WaitForSelector != "" {
		actions := &playwrightActions{page: page}
		if err := actions.WaitFor(req.WaitForSelector, "visible", int(b.opts.Timeout.Milliseconds())); err != nil {
			return nil, fmt.Errorf("failed waiting for %q on %s: %w", req.WaitForSelector, req.URL, err)
		}
	}

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	return fetcher.NewPage(req, page.URL(), status, content), nil
}

func (b *Browser) Context() playwright.BrowserContext {
	return b.context
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

// NavigateWithRetry loads url, retrying navigation failures with a linear
// backoff. It returns the HTTP status of the final response.
func (b *Browser) NavigateWithRetry(ctx context.Context, page playwright.Page, url string, maxRetries int) (int, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}

		resp, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err != nil {
			lastErr = err
			b.logger.Error("navigation failed", "error", err, "attempt", i+1)
			continue
		}

		status := 200
		if resp != nil {
			status = resp.Status()
		}

		if err := b.CheckChallenge(page); err != nil {
			lastErr = err
			continue
		}

		return status, nil
	}

	return 0, fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

var challengeMarkers = []string{
	"captcha-delivery.com",
	"px-captcha",
	"Enter the characters you see below",
	"Robot or human?",
	"Pardon Our Interruption",
}

// CheckChallenge reports ErrChallenge when the page is an anti-bot
// interstitial instead of the requested content.
func (b *Browser) CheckChallenge(page playwright.Page) error {
	content, err := page.Content()
	if err != nil {
		return fmt.Errorf("failed to get page content: %w", err)
	}
	if IsChallenge(content) {
		b.logger.Warn("bot challenge detected", "url", page.URL())
		return ErrChallenge
	}
	return nil
}

func IsChallenge(content string) bool {
	for _, marker := range challengeMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
