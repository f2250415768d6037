// Package jobs runs crawl jobs on a pool of workers fed by a priority queue.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/queue"
	"github.com/maltedev/storefront-scraper/internal/scraper"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobFinished   = errors.New("job already finished")
	ErrInvalidQuery  = errors.New("query is required")
	ErrManagerClosed = errors.New("job manager is shut down")
)

// Runner executes one crawl. *scraper.Crawler implements it.
type Runner interface {
	Run(ctx context.Context, site sites.Site, query string, opts scraper.Options) (*models.CrawlResult, error)
}

type Options struct {
	MaxSearchPages int  `json:"max_search_pages"`
	MaxReviewPages int  `json:"max_review_pages"`
	MaxProducts    int  `json:"max_products"`
	SkipReviews    bool `json:"skip_reviews"`
}

type Request struct {
	Site     string  `json:"site"`
	Query    string  `json:"query"`
	Priority int     `json:"priority"`
	Options  Options `json:"options"`
}

type Job struct {
	ID          string     `json:"id"`
	Site        string     `json:"site"`
	Query       string     `json:"query"`
	Priority    int        `json:"priority"`
	Options     Options    `json:"options"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage,omitempty"`
	Attempts    int        `json:"attempts"`
	RunID       string     `json:"run_id,omitempty"`
	SearchPages int        `json:"search_pages"`
	ReviewPages int        `json:"review_pages"`
	Previews    int        `json:"previews"`
	Products    int        `json:"products"`
	Reviews     int        `json:"reviews"`
	PageErrors  int        `json:"page_errors"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (j *Job) finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	CancelledJobs int     `json:"cancelled_jobs"`
	QueueSize     int     `json:"queue_size"`
	TotalProducts int     `json:"total_products"`
	TotalReviews  int     `json:"total_reviews"`
	SuccessRate   float64 `json:"success_rate"`
}

type Config struct {
	Workers int
	// MaxRetries is how often a job failing with a rate limit or block is
	// queued again.
	MaxRetries int
	RetryDelay time.Duration
}

type Manager struct {
	runner Runner
	queue  *queue.InMemoryQueue
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

func NewManager(runner Runner, q *queue.InMemoryQueue, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner:  runner,
		queue:   q,
		cfg:     cfg,
		logger:  logger.With("component", "job_manager"),
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
	}
}

func (m *Manager) newJob(req Request) (*Job, error) {
	if req.Query == "" {
		return nil, ErrInvalidQuery
	}
	site, err := sites.Get(req.Site)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:        uuid.NewString(),
		Site:      site.Name(),
		Query:     req.Query,
		Priority:  req.Priority,
		Options:   req.Options,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func task(job *Job) *queue.Task {
	return &queue.Task{
		ID:       job.ID,
		Site:     job.Site,
		Query:    job.Query,
		Priority: job.Priority,
		Retries:  job.Attempts,
	}
}

// CreateJob validates req and queues a crawl job.
func (m *Manager) CreateJob(ctx context.Context, req Request) (*Job, error) {
	jobs, err := m.CreateJobs(ctx, []Request{req})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// CreateJobs queues several jobs at once. Nothing is queued when any
// request is invalid.
func (m *Manager) CreateJobs(ctx context.Context, reqs []Request) ([]*Job, error) {
	jobs := make([]*Job, 0, len(reqs))
	tasks := make([]*queue.Task, 0, len(reqs))
	for i, req := range reqs {
		job, err := m.newJob(req)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		jobs = append(jobs, job)
		tasks = append(tasks, task(job))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	for _, job := range jobs {
		m.jobs[job.ID] = job
	}
	m.mu.Unlock()

	if err := m.queue.PushBatch(tasks); err != nil {
		m.mu.Lock()
		for _, job := range jobs {
			delete(m.jobs, job.ID)
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue jobs: %w", err)
	}

	out := make([]*Job, len(jobs))
	for i, job := range jobs {
		m.logger.Info("job created", "id", job.ID, "site", job.Site, "query", job.Query)
		out[i] = m.snapshot(job)
	}
	return out, nil
}

// GetJob returns a copy of the job.
func (m *Manager) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	c := *job
	return &c, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (m *Manager) ListJobs(ctx context.Context, status string, limit int) []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*Job
	for _, job := range m.jobs {
		if status != "" && job.Status != status {
			continue
		}
		c := *job
		jobs = append(jobs, &c)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// CancelJob stops a running job or drops a pending one.
func (m *Manager) CancelJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.finished() {
		return fmt.Errorf("%w: %s", ErrJobFinished, job.Status)
	}
	if cancel, running := m.cancels[id]; running {
		cancel()
		return nil
	}
	now := time.Now().UTC()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	return nil
}

func (m *Manager) GetStats(ctx context.Context) *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs), QueueSize: m.queue.Size()}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		case StatusCancelled:
			stats.CancelledJobs++
		}
		stats.TotalProducts += job.Products
		stats.TotalReviews += job.Reviews
	}
	if done := stats.CompletedJobs + stats.FailedJobs; done > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(done) * 100
	}
	return stats
}

func (m *Manager) snapshot(job *Job) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := *job
	return &c
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}
