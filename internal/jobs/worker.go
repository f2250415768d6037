package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/storefront-scraper/internal/queue"
	"github.com/maltedev/storefront-scraper/internal/scraper"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

// Start launches the workers. They stop when ctx is cancelled or Shutdown
// closes the queue.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("starting job workers", "workers", m.cfg.Workers)
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

// Shutdown stops accepting jobs, lets queued ones drain and waits for the
// workers, or for ctx. When ctx ends first, running jobs are cancelled and
// jobs still waiting are marked cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	_ = m.queue.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for _, cancel := range m.cancels {
			cancel()
		}
		now := time.Now().UTC()
		for _, job := range m.jobs {
			if job.Status == StatusPending {
				job.Status = StatusCancelled
				job.Error = errShutdown.Error()
				job.CompletedAt = &now
			}
		}
		m.mu.Unlock()
		return ctx.Err()
	}
}

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	logger := m.logger.With("worker", n)
	logger.Info("job worker started")

	for {
		t, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				logger.Info("job worker stopping")
				return
			}
			logger.Error("failed to pop task", "error", err)
			continue
		}
		if ctx.Err() != nil {
			m.cancelPending(t.ID)
			logger.Info("job worker stopping")
			return
		}
		m.process(ctx, t)
	}
}

func (m *Manager) process(ctx context.Context, t *queue.Task) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	job, ok := m.jobs[t.ID]
	if !ok || job.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	job.Attempts++
	job.Error = ""
	opts := job.Options
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.cancels, t.ID)
		m.mu.Unlock()
	}()

	logger := m.logger.With("job_id", t.ID, "site", t.Site)
	logger.Info("processing job", "query", t.Query, "attempt", t.Retries+1)

	site, err := sites.Get(t.Site)
	if err != nil {
		m.fail(t.ID, err)
		return
	}

	result, err := m.runner.Run(jobCtx, site, t.Query, scraper.Options{
		MaxSearchPages: opts.MaxSearchPages,
		MaxReviewPages: opts.MaxReviewPages,
		MaxProducts:    opts.MaxProducts,
		SkipReviews:    opts.SkipReviews,
		OnProgress: func(p scraper.Progress) {
			m.update(t.ID, func(j *Job) { j.Stage = p.Stage })
		},
	})

	if result != nil {
		m.update(t.ID, func(j *Job) {
			j.RunID = result.Run.ID
			j.SearchPages = result.SearchPages
			j.ReviewPages = result.ReviewPages
			j.Previews = len(result.Previews)
			j.Products = len(result.Products)
			j.Reviews = result.ReviewCount()
			j.PageErrors = len(result.Errors)
		})
	}

	switch {
	case err == nil:
		m.complete(t.ID, "")
	case errors.Is(err, context.Canceled):
		msg := err.Error()
		if ctx.Err() != nil {
			msg = errShutdown.Error()
		}
		m.finish(t.ID, StatusCancelled, msg)
		logger.Info("job cancelled", "reason", msg)
	case result != nil && len(result.Products) > 0 && len(scraper.PageErrors(err)) > 0:
		m.complete(t.ID, err.Error())
		logger.Warn("job completed with failed pages", "failed_pages", len(scraper.PageErrors(err)))
	case m.retryable(err) && t.Retries < m.cfg.MaxRetries:
		m.requeue(ctx, t, err)
	default:
		m.fail(t.ID, err)
		logger.Error("job failed", "error", err)
	}
}

var errShutdown = errors.New("interrupted by shutdown")

func (m *Manager) retryable(err error) bool {
	return errors.Is(err, scraper.ErrRateLimited) || errors.Is(err, scraper.ErrBlocked)
}

func (m *Manager) requeue(ctx context.Context, t *queue.Task, cause error) {
	m.update(t.ID, func(j *Job) {
		j.Status = StatusPending
		j.Error = cause.Error()
	})
	m.logger.Warn("job will be retried", "job_id", t.ID, "delay", m.cfg.RetryDelay, "error", cause)

	retry := *t
	retry.Retries++
	retry.CreatedAt = time.Time{}
	time.AfterFunc(m.cfg.RetryDelay, func() {
		if ctx.Err() != nil {
			m.cancelPending(t.ID)
			return
		}
		if err := m.queue.Push(&retry); err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				m.cancelPending(t.ID)
				return
			}
			m.fail(t.ID, cause)
		}
	})
}

// cancelPending marks a job that never got to run again as cancelled.
func (m *Manager) cancelPending(id string) {
	now := time.Now().UTC()
	m.update(id, func(j *Job) {
		if j.Status != StatusPending {
			return
		}
		j.Status = StatusCancelled
		j.Error = errShutdown.Error()
		j.CompletedAt = &now
	})
}

func (m *Manager) complete(id, warning string) {
	m.finish(id, StatusCompleted, warning)
	m.logger.Info("job completed", "job_id", id)
}

func (m *Manager) fail(id string, err error) {
	m.finish(id, StatusFailed, err.Error())
}

func (m *Manager) finish(id, status, msg string) {
	now := time.Now().UTC()
	m.update(id, func(j *Job) {
		j.Status = status
		j.Error = msg
		j.Stage = ""
		j.CompletedAt = &now
	})
}
