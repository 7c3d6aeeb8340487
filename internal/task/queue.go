// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package task

import (
	"sync"

	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/metrics"
)

// Queue is the three-lane strict-priority task queue. Capacity is shared
// across lanes; submission beyond it fails immediately with a resource
// error (backpressure, never blocking). Within a lane, FIFO by enqueue.
type Queue struct {
	mu         sync.Mutex
	lanes      [3][]*Task // indexed by Priority
	capacity   int
	size       int
	supervisor string
}

// NewQueue creates a queue bounded at capacity, labeled with the owning
// supervisor id for metrics.
func NewQueue(supervisor string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{capacity: capacity, supervisor: supervisor}
}

// Enqueue adds a queued task. Returns a resource error at capacity.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size >= q.capacity {
		metrics.TasksRejected.WithLabelValues(q.supervisor).Inc()
		return errs.New(errs.KindResource, "queue.Enqueue",
			"queue at capacity: %d/%d", q.size, q.capacity)
	}

	q.lanes[t.Priority] = append(q.lanes[t.Priority], t)
	q.size++
	metrics.QueuedTasks.WithLabelValues(q.supervisor, t.Priority.String()).Inc()
	return nil
}

// Dequeue removes and returns the next task: the oldest task in the highest
// non-empty lane. Returns nil when the queue is empty. The queue never
// inspects task state; a task cancelled while queued still dequeues, and the
// store refuses its processing transition.
func (q *Queue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := PriorityHigh; p >= PriorityLow; p-- {
		if len(q.lanes[p]) > 0 {
			t := q.lanes[p][0]
			q.lanes[p] = q.lanes[p][1:]
			q.size--
			metrics.QueuedTasks.WithLabelValues(q.supervisor, p.String()).Dec()
			return t
		}
	}
	return nil
}

// Requeue returns a just-dequeued task to the front of its lane. It bypasses
// the capacity check: the caller is handing back the slot it took, and a
// concurrent Enqueue may already have reused it, so size can sit one above
// capacity until the next Dequeue.
func (q *Queue) Requeue(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.lanes[t.Priority] = append([]*Task{t}, q.lanes[t.Priority]...)
	q.size++
	metrics.QueuedTasks.WithLabelValues(q.supervisor, t.Priority.String()).Inc()
}

// Len returns the total queued count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// LaneLen returns the queued count for one lane.
func (q *Queue) LaneLen(p Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[p])
}

// Drain removes and returns every queued task, oldest-first within each
// lane, highest lane first. Used during shutdown to fail queued work.
func (q *Queue) Drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Task
	for p := PriorityHigh; p >= PriorityLow; p-- {
		out = append(out, q.lanes[p]...)
		metrics.QueuedTasks.WithLabelValues(q.supervisor, p.String()).Set(0)
		q.lanes[p] = nil
	}
	q.size = 0
	return out
}
