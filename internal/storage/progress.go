package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var ErrTargetNotFound = errors.New("target not found")

// Target is a product URL queued for a batch crawl.
type Target struct {
	Site      string    `json:"site"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// ProgressStore persists batch crawl targets so an interrupted crawl can
// resume with the targets that are not completed yet.
type ProgressStore struct {
	mu       sync.RWMutex
	targets  map[string]*Target
	filename string
}

func NewProgressStore(filename string) (*ProgressStore, error) {
	ps := &ProgressStore{
		targets:  make(map[string]*Target),
		filename: filename,
	}

	if err := ps.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return ps, nil
}

// AddBatch registers urls for site. Known URLs keep their status.
func (ps *ProgressStore) AddBatch(site string, urls []string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, exists := ps.targets[u]; exists {
			continue
		}
		ps.targets[u] = &Target{
			Site:      site,
			URL:       u,
			Status:    StatusPending,
			AddedAt:   now,
			UpdatedAt: now,
		}
	}

	return ps.save()
}

func (ps *ProgressStore) Get(url string) (Target, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	t, exists := ps.targets[url]
	if !exists {
		return Target{}, false
	}
	return *t, true
}

// Remaining returns targets of site that still need work, failed ones
// included, oldest first. Targets left in processing by a crash count too.
func (ps *ProgressStore) Remaining(site string) []Target {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var out []Target
	for _, t := range ps.targets {
		if t.Site == site && t.Status != StatusCompleted {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].URL < out[j].URL
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

func (ps *ProgressStore) UpdateStatus(url, status string, cause error) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	t, exists := ps.targets[url]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, url)
	}

	t.Status = status
	t.UpdatedAt = time.Now()
	t.Error = ""
	if status == StatusProcessing {
		t.Attempts++
	}
	if cause != nil {
		t.Error = cause.Error()
	}

	return ps.save()
}

func (ps *ProgressStore) Stats() map[string]int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	stats := make(map[string]int)
	for _, t := range ps.targets {
		stats[t.Status]++
	}
	stats["total"] = len(ps.targets)
	return stats
}

func (ps *ProgressStore) save() error {
	data, err := json.MarshalIndent(ps.targets, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(ps.filename), 0o755); err != nil {
		return err
	}
	tmpFile := ps.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, ps.filename)
}

func (ps *ProgressStore) Load() error {
	data, err := os.ReadFile(ps.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &ps.targets)
}
