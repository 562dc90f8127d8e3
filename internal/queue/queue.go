// Package queue implements the bounded deduplicating task queues feeding
// the worker pool: the task queue drained in batches and the retry queue
// drained whole.
package queue

import (
	"log/slog"
	"sync"
)

// Dedup is a bounded FIFO of task paths with no duplicate entries.
// A push above half capacity warn-logs; a push at capacity is rejected
// with an error log. Both queue flavors share this structure.
type Dedup struct {
	name   string
	logger *slog.Logger

	mu    sync.Mutex
	tasks []string
	limit int
}

// NewDedup creates a queue with the given capacity.
func NewDedup(name string, limit int, logger *slog.Logger) *Dedup {
	return &Dedup{name: name, limit: limit, logger: logger}
}

// Push appends the task unless it is already queued or the queue is full.
// Duplicates are dropped silently; the queue keeps at most one copy.
func (q *Dedup) Push(task string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.tasks {
		if t == task {
			return
		}
	}
	n := len(q.tasks)
	if n >= q.limit {
		q.logger.Error("task queue full, dropping task",
			"queue", q.name, "limit", q.limit, "task", task)
		return
	}
	if n > q.limit/2 {
		q.logger.Warn("task queue above half capacity",
			"queue", q.name, "len", n, "half", q.limit/2)
	}
	q.tasks = append(q.tasks, task)
}

// Len returns the current queue length.
func (q *Dedup) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Snapshot returns a copy of the queued tasks, oldest first.
func (q *Dedup) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// TakeAll atomically pops and returns the entire contents. Used by the
// retry loop, which re-runs everything it finds in one pass.
func (q *Dedup) TakeAll() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

// TakeBatch pops a prefix sized for one worker and returns it. The size
// heuristic keeps per-worker batches bounded while letting short bursts
// amortize tail latency: above 100 queued tasks each worker takes an
// equal share, mid-range queues hand out fixed slices, and small queues
// drain at once. A non-empty queue always yields a non-empty batch.
func (q *Dedup) TakeBatch(workerCount int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tasks)
	if n == 0 {
		return nil
	}
	q.logger.Debug("task queue drain", "queue", q.name, "len", n)

	var size int
	switch {
	case n > 100:
		size = n / workerCount
	case n >= 50:
		size = 15
	case n > 8:
		size = 8
	default:
		size = n
	}
	if size < 1 {
		size = 1
	}

	out := q.tasks[:size]
	q.tasks = q.tasks[size:]
	return out
}
