// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/broker"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/events"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/metrics"
	"github.com/vigilcore/vigil/internal/task"
)

// Serve implements suture.Service: runs the dispatch loop, the mailbox
// loop, and the heartbeat until ctx is cancelled, then shuts the
// supervisor down.
func (b *Base) Serve(ctx context.Context) error {
	b.mu.Lock()
	ready := b.ready
	heartbeat := b.cfg.HeartbeatInterval
	b.mu.Unlock()
	if !ready {
		return errs.New(errs.KindInit, "supervisor.Serve", "%s not initialized", b.id)
	}

	go b.mailboxLoop(ctx)
	if heartbeat > 0 {
		go b.heartbeatLoop(ctx, heartbeat)
	}

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			//nolint:errcheck // terminal state is reached regardless
			b.Shutdown(shutdownCtx)
			return ctx.Err()
		case <-b.wake:
		case <-poll.C:
		}
		b.dispatch(ctx)
	}
}

// String implements fmt.Stringer for suture logging.
func (b *Base) String() string {
	return "supervisor-" + b.id
}

// dispatch starts queued tasks while Running and below the concurrency
// limit. The single dispatch goroutine is the only dequeuer, so lane order
// is preserved.
func (b *Base) dispatch(ctx context.Context) {
	for {
		b.mu.Lock()
		if b.state != StateRunning || b.active >= b.cfg.MaxConcurrentTasks {
			b.mu.Unlock()
			return
		}
		queue := b.queue
		b.mu.Unlock()

		t := queue.Dequeue()
		if t == nil {
			return
		}

		b.mu.Lock()
		// Recheck under the lock; Pause may have landed since.
		if b.state != StateRunning {
			// Requeue cannot fail on capacity, so the task stays
			// dispatchable even if another Accept already reused the slot.
			b.mu.Unlock()
			queue.Requeue(t)
			return
		}
		b.active++
		timeout := b.cfg.TaskTimeout
		b.mu.Unlock()

		go b.run(ctx, t, timeout)
	}
}

// run executes one task under its deadline with cooperative cancellation.
func (b *Base) run(ctx context.Context, t *task.Task, timeout time.Duration) {
	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
		b.touch()
		b.nudge()
	}()

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.store.MarkProcessing(t.ID, b.id, cancel); err != nil {
		// Cancelled between dequeue and start.
		logging.Debug().Err(err).Str("task", t.ID).Msg("task not started")
		return
	}

	result, execErr := b.deps.Executor.Execute(taskCtx, t)

	switch {
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		//nolint:errcheck // first terminal outcome wins
		b.store.Timeout(t.ID)
		b.publishEvent(events.TypeTaskTimedOut, map[string]string{"task_id": t.ID})
		b.raiseTimeoutAnomaly(t.ID, timeout)

	case errors.Is(taskCtx.Err(), context.Canceled) && ctx.Err() == nil:
		// cancel_task fired; the store already holds Cancelled.

	case execErr != nil:
		b.errorCount.Add(1)
		metrics.SupervisorErrors.WithLabelValues(b.id, errs.KindOf(execErr).String()).Inc()
		//nolint:errcheck
		b.store.Fail(t.ID, execErr.Error())
		b.publishEvent(events.TypeTaskFailed, map[string]string{"task_id": t.ID, "error": execErr.Error()})
		logging.Err(execErr).Str("supervisor", b.id).Str("task", t.ID).Msg("task failed")

	default:
		//nolint:errcheck
		b.store.Complete(t.ID, result)
		b.publishEvent(events.TypeTaskCompleted, map[string]string{"task_id": t.ID})
	}
}

// raiseTimeoutAnomaly reports the Behavioral anomaly a deadline overrun
// generates.
func (b *Base) raiseTimeoutAnomaly(taskID string, timeout time.Duration) {
	if b.deps.Anomalies == nil {
		return
	}
	b.deps.Anomalies(anomaly.NewTaskTimeout(b.id, taskID, timeout))
}

// mailboxLoop answers broker traffic addressed to this supervisor. Health
// requests get a snapshot response; everything else is logged into the
// replay history only.
func (b *Base) mailboxLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.inbox:
			if !ok {
				return
			}
			b.handleMessage(msg)
		}
	}
}

func (b *Base) handleMessage(msg broker.Message) {
	switch msg.Type {
	case broker.TypeHealth:
		if msg.CorrelationID != "" || msg.Destination == b.id {
			snapshot, _ := json.Marshal(b.Health())
			if err := b.deps.Broker.Respond(msg, snapshot); err != nil {
				logging.Debug().Err(err).Str("supervisor", b.id).Msg("health response undeliverable")
			}
		}
	case broker.TypeStatus, broker.TypeEvent:
		// Peer lifecycle traffic; retained in the mailbox history.
	default:
		logging.Debug().
			Str("supervisor", b.id).
			Str("type", string(msg.Type)).
			Str("source", msg.Source).
			Msg("unhandled message")
	}
}

// heartbeatLoop reports health to the parent's mailbox on the configured
// interval.
func (b *Base) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sendHeartbeat()
		}
	}
}

// sendHeartbeat delivers a health snapshot to the parent, when one exists.
func (b *Base) sendHeartbeat() {
	b.mu.Lock()
	parent := b.cfg.Parent
	b.mu.Unlock()
	if parent == "" {
		return
	}

	snapshot, _ := json.Marshal(b.Health())
	msg := broker.NewMessage(broker.TypeHealth, b.id, parent, snapshot)
	if err := b.deps.Broker.SendDirect(msg); err != nil {
		logging.Debug().Err(err).Str("supervisor", b.id).Msg("heartbeat undeliverable")
	}
}
