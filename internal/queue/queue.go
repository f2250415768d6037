// Package queue is an in-memory priority queue of crawl tasks.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// Task references a crawl job waiting for a worker. Higher Priority runs
// first; equal priorities run in push order.
type Task struct {
	ID        string
	Site      string
	Query     string
	Priority  int
	Retries   int
	CreatedAt time.Time

	seq uint64
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  taskHeap
	seq    uint64
	wake   chan struct{}
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{wake: make(chan struct{})}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.push(task)
	q.broadcast()
	return nil
}

// PushBatch adds all tasks or none.
func (q *InMemoryQueue) PushBatch(tasks []*Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for _, task := range tasks {
		q.push(task)
	}
	q.broadcast()
	return nil
}

func (q *InMemoryQueue) push(task *Task) {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	q.seq++
	task.seq = q.seq
	heap.Push(&q.tasks, task)
}

// broadcast wakes every waiting Pop. Callers hold q.mu.
func (q *InMemoryQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Pop blocks until a task is available, the queue is closed or ctx is done.
// Tasks still queued when the queue closes are drained first.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if q.tasks.Len() > 0 {
			task := heap.Pop(&q.tasks).(*Task)
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// TryPop returns ErrQueueEmpty instead of blocking.
func (q *InMemoryQueue) TryPop() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.tasks.Len() == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}
	return heap.Pop(&q.tasks).(*Task), nil
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.broadcast()
	}
	return nil
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}
