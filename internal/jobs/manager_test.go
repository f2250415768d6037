package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/queue"
	"github.com/maltedev/storefront-scraper/internal/scraper"
	"github.com/maltedev/storefront-scraper/internal/sites"
	_ "github.com/maltedev/storefront-scraper/internal/sites/all"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	run   func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, site sites.Site, query string, opts scraper.Options) (*models.CrawlResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, site.Name()+":"+query)
	f.mu.Unlock()
	return f.run(ctx, query, opts)
}

func okResult(query string) *models.CrawlResult {
	return &models.CrawlResult{
		Run:         models.Run{ID: "run-" + query, Query: query},
		Previews:    make([]models.Preview, 3),
		Products:    []*models.Product{{ID: "1"}, {ID: "2"}},
		Reviews:     map[string][]models.Review{"1": make([]models.Review, 4)},
		SearchPages: 1,
		ReviewPages: 2,
	}
}

func waitFor(t *testing.T, m *Manager, id, status string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.GetJob(context.Background(), id)
		return err == nil && job.Status == status
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestManager_RunsJob(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error) {
		opts.OnProgress(scraper.Progress{Stage: scraper.StageProducts})
		return okResult(query), nil
	}}
	m := NewManager(runner, queue.NewInMemoryQueue(), Config{Workers: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	job, err := m.CreateJob(ctx, Request{Site: "Amazon", Query: "kettle", Options: Options{MaxProducts: 2}})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "amazon", job.Site)

	done := waitFor(t, m, job.ID, StatusCompleted)
	assert.Equal(t, "run-kettle", done.RunID)
	assert.Equal(t, 3, done.Previews)
	assert.Equal(t, 2, done.Products)
	assert.Equal(t, 4, done.Reviews)
	assert.Equal(t, 1, done.Attempts)
	assert.NotNil(t, done.CompletedAt)

	stats := m.GetStats(ctx)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 100.0, stats.SuccessRate)

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_CreateJobsValidation(t *testing.T) {
	m := NewManager(&fakeRunner{}, queue.NewInMemoryQueue(), Config{}, nil)
	ctx := context.Background()

	_, err := m.CreateJob(ctx, Request{Site: "nowhere", Query: "x"})
	assert.ErrorIs(t, err, sites.ErrUnknownSite)

	_, err = m.CreateJobs(ctx, []Request{{Site: "ebay", Query: "camera"}, {Site: "ebay"}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Empty(t, m.ListJobs(ctx, "", 0))

	jobs, err := m.CreateJobs(ctx, []Request{{Site: "ebay", Query: "camera"}, {Site: "etsy", Query: "mug", Priority: 5}})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Len(t, m.ListJobs(ctx, StatusPending, 0), 2)
	assert.Len(t, m.ListJobs(ctx, "", 1), 1)

	_, err = m.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestManager_PartialFailureCompletes(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error) {
		result := okResult(query)
		result.Errors = []string{"products page: blocked"}
		return result, &scraper.PartialError{Errors: []*scraper.PageError{{Stage: scraper.StageProducts, URL: "u", Err: scraper.ErrBlocked}}}
	}}
	m := NewManager(runner, queue.NewInMemoryQueue(), Config{MaxRetries: 3}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	job, err := m.CreateJob(ctx, Request{Site: "walmart", Query: "tv"})
	require.NoError(t, err)

	done := waitFor(t, m, job.ID, StatusCompleted)
	assert.Contains(t, done.Error, "blocked")
	assert.Equal(t, 1, done.PageErrors)
	assert.Equal(t, 1, done.Attempts)
}

func TestManager_RetriesRateLimited(t *testing.T) {
	attempts := 0
	runner := &fakeRunner{run: func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error) {
		attempts++
		if attempts == 1 {
			return &models.CrawlResult{}, errors.Join(scraper.ErrRateLimited)
		}
		return okResult(query), nil
	}}
	m := NewManager(runner, queue.NewInMemoryQueue(), Config{MaxRetries: 1, RetryDelay: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	job, err := m.CreateJob(ctx, Request{Site: "target", Query: "lamp"})
	require.NoError(t, err)

	done := waitFor(t, m, job.ID, StatusCompleted)
	assert.Equal(t, 2, done.Attempts)
	assert.Empty(t, done.Error)
}

func TestManager_FailsWithoutRetry(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error) {
		return &models.CrawlResult{}, scraper.ErrNoResults
	}}
	m := NewManager(runner, queue.NewInMemoryQueue(), Config{MaxRetries: 3}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	job, err := m.CreateJob(ctx, Request{Site: "iherb", Query: "zzzz"})
	require.NoError(t, err)

	failed := waitFor(t, m, job.ID, StatusFailed)
	assert.Contains(t, failed.Error, "no results")
	assert.Equal(t, 1, m.GetStats(ctx).FailedJobs)
}

func TestManager_CancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m := NewManager(runner, queue.NewInMemoryQueue(), Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	job, err := m.CreateJob(ctx, Request{Site: "tripadvisor", Query: "rome"})
	require.NoError(t, err)
	<-started

	require.NoError(t, m.CancelJob(ctx, job.ID))
	waitFor(t, m, job.ID, StatusCancelled)

	assert.ErrorIs(t, m.CancelJob(ctx, job.ID), ErrJobFinished)
}

func TestManager_CancelPendingJob(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error) {
		return okResult(query), nil
	}}
	m := NewManager(runner, queue.NewInMemoryQueue(), Config{}, nil)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, Request{Site: "trustpilot", Query: "electronics"})
	require.NoError(t, err)
	require.NoError(t, m.CancelJob(ctx, job.ID))

	m.Start(ctx)
	require.NoError(t, m.Shutdown(ctx))

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Empty(t, runner.calls)

	_, err = m.CreateJob(ctx, Request{Site: "ebay", Query: "x"})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_ShutdownDrainsQueue(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	runner := &fakeRunner{run: func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error) {
		started <- struct{}{}
		<-release
		return okResult(query), nil
	}}
	m := NewManager(runner, queue.NewInMemoryQueue(), Config{Workers: 1}, nil)
	ctx := context.Background()
	m.Start(ctx)

	running, err := m.CreateJob(ctx, Request{Site: "walmart", Query: "tv"})
	require.NoError(t, err)
	<-started
	queued, err := m.CreateJob(ctx, Request{Site: "walmart", Query: "radio"})
	require.NoError(t, err)

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		shutdownErr <- m.Shutdown(shutdownCtx)
	}()
	close(release)

	require.NoError(t, <-shutdownErr)
	for _, id := range []string{running.ID, queued.ID} {
		job, err := m.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, job.Status)
	}
}

func TestManager_ShutdownTimeoutCancels(t *testing.T) {
	started := make(chan struct{}, 2)
	runner := &fakeRunner{run: func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m := NewManager(runner, queue.NewInMemoryQueue(), Config{Workers: 1}, nil)
	ctx := context.Background()
	m.Start(ctx)

	running, err := m.CreateJob(ctx, Request{Site: "etsy", Query: "mug"})
	require.NoError(t, err)
	<-started
	queued, err := m.CreateJob(ctx, Request{Site: "etsy", Query: "bowl"})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(shutdownCtx), context.DeadlineExceeded)

	waitFor(t, m, running.ID, StatusCancelled)
	job := waitFor(t, m, queued.ID, StatusCancelled)
	assert.Equal(t, "interrupted by shutdown", job.Error)
	assert.Equal(t, 0, m.GetStats(ctx).FailedJobs)
}

func TestManager_StoppedWorkersCancelJobs(t *testing.T) {
	started := make(chan struct{}, 1)
	runner := &fakeRunner{run: func(ctx context.Context, query string, opts scraper.Options) (*models.CrawlResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m := NewManager(runner, queue.NewInMemoryQueue(), Config{Workers: 1}, nil)
	ctx, stop := context.WithCancel(context.Background())
	m.Start(ctx)

	job, err := m.CreateJob(ctx, Request{Site: "amazon", Query: "kettle"})
	require.NoError(t, err)
	<-started
	stop()

	cancelled := waitFor(t, m, job.ID, StatusCancelled)
	assert.Equal(t, "interrupted by shutdown", cancelled.Error)
	require.NoError(t, m.Shutdown(context.Background()))
}
