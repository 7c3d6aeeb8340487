// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package task

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/vigilcore/vigil/internal/cache"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/metrics"
)

// Store owns every task the supervisor knows about. Tasks stay queryable
// after reaching a terminal status until the bounded history evicts them;
// an evicted id is gone for good and never reused.
//
// Reads proceed concurrently; mutations take exclusive access for the single
// logical update and are never held across external calls.
type Store struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	cancels    map[string]context.CancelFunc
	history    *cache.Ring[string]
	supervisor string
}

// NewStore creates a store retaining up to historySize terminal tasks.
func NewStore(supervisor string, historySize int) *Store {
	return &Store{
		tasks:      make(map[string]*Task),
		cancels:    make(map[string]context.CancelFunc),
		history:    cache.NewRing[string](historySize),
		supervisor: supervisor,
	}
}

// Add registers a task. Fails with an internal error on a duplicate id,
// which would mean id reuse and is an invariant violation.
func (s *Store) Add(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return errs.New(errs.KindInternal, "store.Add", "duplicate task id %s", t.ID)
	}
	s.tasks[t.ID] = t
	return nil
}

// Discard forgets a task that never left Queued, used to unwind a
// submission the queue rejected. Discarded ids do not enter the history.
func (s *Store) Discard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok && t.Status == StatusQueued {
		delete(s.tasks, id)
	}
}

// Get returns a copy of the task, or a not-found error for unknown ids.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "store.Get", "unknown task id %s", id)
	}
	return t.Clone(), nil
}

// MarkProcessing transitions a queued task to Processing, assigns the
// executing supervisor, and registers the cancel handle for cooperative
// cancellation.
func (s *Store) MarkProcessing(id, supervisor string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return errs.New(errs.KindNotFound, "store.MarkProcessing", "unknown task id %s", id)
	}
	if t.Status != StatusQueued {
		return errs.New(errs.KindInternal, "store.MarkProcessing",
			"task %s is %s, not queued", id, t.Status)
	}

	now := time.Now().UTC()
	t.Status = StatusProcessing
	t.AssignedSupervisor = supervisor
	t.StartedAt = &now
	s.cancels[id] = cancel
	metrics.ActiveTasks.WithLabelValues(s.supervisor).Inc()
	return nil
}

// MarkSideEffecting records that externally-visible work has begun.
func (s *Store) MarkSideEffecting(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.SideEffecting = true
	}
}

// Complete finishes a Processing task successfully.
func (s *Store) Complete(id string, result json.RawMessage) error {
	return s.finish(id, StatusCompleted, result, "")
}

// Fail finishes a task with an error reason. Valid from Queued (routing
// failure) or Processing (execution failure).
func (s *Store) Fail(id, reason string) error {
	return s.finish(id, StatusFailed, nil, reason)
}

// Timeout transitions a Processing task to TimedOut.
func (s *Store) Timeout(id string) error {
	return s.finish(id, StatusTimedOut, nil, "task timeout exceeded")
}

// Cancel marks the task Cancelled and signals the executing context if the
// task is in flight. Calling Cancel on an already-terminal task returns the
// terminal status without error, so a second cancel is a no-op.
func (s *Store) Cancel(id string) (Status, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return "", errs.New(errs.KindNotFound, "store.Cancel", "unknown task id %s", id)
	}
	if t.Status.Terminal() {
		status := t.Status
		s.mu.Unlock()
		return status, nil
	}

	wasProcessing := t.Status == StatusProcessing
	now := time.Now().UTC()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	cancel := s.cancels[id]
	delete(s.cancels, id)
	s.retire(t, wasProcessing)
	s.mu.Unlock()

	// Signal outside the lock; the executor observes ctx.Done at its next
	// safe point and is not guaranteed to stop immediately.
	if cancel != nil {
		cancel()
	}
	return StatusCancelled, nil
}

// Processing returns the ids of tasks currently in Processing.
func (s *Store) Processing() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, t := range s.tasks {
		if t.Status == StatusProcessing {
			out = append(out, id)
		}
	}
	return out
}

// finish performs a terminal transition. Already-terminal tasks are left
// untouched: the first terminal outcome wins (a timed-out task that later
// returns a result stays TimedOut).
func (s *Store) finish(id string, status Status, result json.RawMessage, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return errs.New(errs.KindNotFound, "store.finish", "unknown task id %s", id)
	}
	if t.Status.Terminal() {
		return nil
	}

	wasProcessing := t.Status == StatusProcessing
	now := time.Now().UTC()
	t.Status = status
	t.Result = result
	t.Error = reason
	t.CompletedAt = &now
	delete(s.cancels, id)
	s.retire(t, wasProcessing)
	return nil
}

// retire records terminal metrics and pushes the task into the bounded
// history, evicting the oldest retained task. Caller holds mu.
func (s *Store) retire(t *Task, wasProcessing bool) {
	if wasProcessing {
		metrics.ActiveTasks.WithLabelValues(s.supervisor).Dec()
		if t.StartedAt != nil && t.CompletedAt != nil {
			metrics.TaskDuration.WithLabelValues(s.supervisor).
				Observe(t.CompletedAt.Sub(*t.StartedAt).Seconds())
		}
	}
	metrics.TasksCompleted.WithLabelValues(s.supervisor, string(t.Status)).Inc()

	if evictedID, evicted := s.history.Push(t.ID); evicted {
		delete(s.tasks, evictedID)
	}
}
