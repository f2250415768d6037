package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/maltedev/storefront-scraper/internal/ratelimit"
)

const DefaultScrapflyURL = "https://api.scrapfly.io"

type ScrapflyOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
	Limiter    ratelimit.RateLimiter
	Logger     *slog.Logger
}

// ScrapflyClient fetches pages through the Scrapfly scrape endpoint.
type ScrapflyClient struct {
	client  *resty.Client
	apiKey  string
	limiter ratelimit.RateLimiter
	logger  *slog.Logger
}

// APIError is an error reported by the scraping API itself rather than the
// target site.
type APIError struct {
	HTTPStatus int    `json:"http_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scraping api error %d %s: %s", e.HTTPStatus, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.HTTPStatus == http.StatusTooManyRequests || strings.Contains(e.Code, "THROTTLE")
	case ErrBlocked:
		return strings.Contains(e.Code, "::ASP::")
	}
	return false
}

type scrapeResponse struct {
	Result struct {
		Content    string    `json:"content"`
		StatusCode int       `json:"status_code"`
		URL        string    `json:"url"`
		Success    bool      `json:"success"`
		Error      *APIError `json:"error"`
	} `json:"result"`
	Config struct {
		URL string `json:"url"`
	} `json:"config"`
}

func NewScrapflyClient(opts ScrapflyOptions) (*ScrapflyClient, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultScrapflyURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 150 * time.Second
	}
	if opts.RetryWait == 0 {
		opts.RetryWait = 2 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "scrapfly")

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(30 * time.Second).
		SetLogger(restyLogger{logger}).
		AddRetryCondition(func(res *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return res.StatusCode() == http.StatusTooManyRequests || res.StatusCode() >= 500
		})

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		logger.Debug("scrape request", "url", req.QueryParam.Get("url"))
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		logger.Debug("scrape response",
			"url", res.Request.QueryParam.Get("url"),
			"status", res.StatusCode(),
			"duration", res.Time())
		return nil
	})

	return &ScrapflyClient{
		client:  client,
		apiKey:  opts.APIKey,
		limiter: opts.Limiter,
		logger:  logger,
	}, nil
}

func (c *ScrapflyClient) Fetch(ctx context.Context, req Request) (*Page, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get("/scrape")
	if err != nil {
		c.record(false)
		return nil, fmt.Errorf("failed to call scraping api for %s: %w", req.URL, err)
	}

	if res.IsError() {
		c.record(false)
		return nil, decodeAPIError(res)
	}

	var body scrapeResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		c.record(false)
		return nil, fmt.Errorf("failed to decode scraping api response: %w", err)
	}

	if !body.Result.Success {
		c.record(false)
		apiErr := &APIError{HTTPStatus: res.StatusCode(), Message: "scrape did not succeed"}
		if e := body.Result.Error; e != nil {
			apiErr.Code = e.Code
			apiErr.Retryable = e.Retryable
			if e.Message != "" {
				apiErr.Message = e.Message
			}
		}
		return nil, apiErr
	}

	finalURL := body.Result.URL
	if finalURL == "" {
		finalURL = body.Config.URL
	}
	page := NewPage(req, finalURL, body.Result.StatusCode, body.Result.Content)

	if err := checkStatus(page.URL, page.StatusCode); err != nil {
		c.record(false)
		return nil, err
	}

	c.record(true)
	return page, nil
}

func (c *ScrapflyClient) params(req Request) (url.Values, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("request url is required")
	}

	v := url.Values{}
	v.Set("key", c.apiKey)
	v.Set("url", req.URL)
	v.Set("asp", strconv.FormatBool(req.ASP))
	if req.Country != "" {
		v.Set("country", req.Country)
	}
	if len(req.Lang) > 0 {
		v.Set("lang", strings.Join(req.Lang, ","))
	}
	if req.Cache {
		v.Set("cache", "true")
	}
	if req.ProxyPool != "" {
		v.Set("proxy_pool", req.ProxyPool)
	}
	for name, value := range req.Headers {
		v.Set("headers["+strings.ToLower(name)+"]", value)
	}

	renderJS := req.RenderJS || len(req.JSScenario) > 0 || req.WaitForSelector != ""
	if renderJS {
		v.Set("render_js", "true")
	}
	if req.WaitForSelector != "" {
		v.Set("wait_for_selector", req.WaitForSelector)
	}
	if len(req.JSScenario) > 0 {
		encoded, err := EncodeScenario(req.JSScenario)
		if err != nil {
			return nil, err
		}
		v.Set("js_scenario", encoded)
	}

	return v, nil
}

func (c *ScrapflyClient) record(success bool) {
	fb, ok := c.limiter.(ratelimit.Feedback)
	if !ok {
		return
	}
	if success {
		fb.RecordSuccess()
	} else {
		fb.RecordError()
	}
}

func decodeAPIError(res *resty.Response) error {
	apiErr := &APIError{HTTPStatus: res.StatusCode()}
	if err := json.Unmarshal(res.Body(), apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(res.String())
	}
	apiErr.HTTPStatus = res.StatusCode()
	return apiErr
}

type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) { l.logger.Error(fmt.Sprintf(format, v...)) }

func (l restyLogger) Warnf(format string, v ...any) { l.logger.Warn(fmt.Sprintf(format, v...)) }

func (l restyLogger) Debugf(format string, v ...any) { l.logger.Debug(fmt.Sprintf(format, v...)) }
