package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

type Result struct {
	Request Request
	Page    *Page
	Err     error
}

// Concurrent fetches reqs with at most limit requests in flight. Every
// request yields exactly one Result, delivered in completion order; the
// channel closes once all are delivered.
func Concurrent(ctx context.Context, f Fetcher, reqs []Request, limit int) <-chan Result {
	if limit < 1 {
		limit = 1
	}
	out := make(chan Result, len(reqs))

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(limit)
		for _, req := range reqs {
			req := req
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					out <- Result{Request: req, Err: err}
					return nil
				}
				page, err := f.Fetch(ctx, req)
				out <- Result{Request: req, Page: page, Err: err}
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

// FetchAll drains Concurrent into a slice.
func FetchAll(ctx context.Context, f Fetcher, reqs []Request, limit int) []Result {
	results := make([]Result, 0, len(reqs))
	for r := range Concurrent(ctx, f, reqs, limit) {
		results = append(results, r)
	}
	return results
}

// Retrying retries transient failures of the wrapped fetcher with linear
// backoff. Not-found and render errors are returned immediately.
type Retrying struct {
	Fetcher  Fetcher
	Attempts int
	Wait     time.Duration
	Logger   *slog.Logger
}

func WithRetry(f Fetcher, attempts int, wait time.Duration, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{Fetcher: f, Attempts: attempts, Wait: wait, Logger: logger.With("component", "retry")}
}

func (r *Retrying) Fetch(ctx context.Context, req Request) (*Page, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			r.Logger.Info("retrying fetch", "attempt", i+1, "url", req.URL, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * r.Wait):
			}
		}

		page, err := r.Fetcher.Fetch(ctx, req)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRenderUnsupported) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable || apiErr.HTTPStatus == http.StatusTooManyRequests
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	return true
}
