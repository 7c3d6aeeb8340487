// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package supervisor implements the hierarchical supervision core: the
// supervisor contract and lifecycle state machine, the task-processing
// worker loop, the meta-supervisor's routing registry, and the suture tree
// that keeps every long-running service restarted under backoff.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/broker"
	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/events"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/metrics"
	"github.com/vigilcore/vigil/internal/task"
)

// Executor runs one task's payload. Implementations are selected by the
// kind factory and must honor ctx cancellation at safe points.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t *task.Task) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, t *task.Task) (json.RawMessage, error) {
	return f(ctx, t)
}

// Supervisor is the closed contract every variant implements. Kind-specific
// behavior lives behind the same lifecycle operations, selected by the kind
// factory; there is no deeper hierarchy.
type Supervisor interface {
	ID() string
	Kind() string
	Capabilities() []string
	State() State
	Errored() bool

	Initialize(cfg config.SupervisorConfig) error
	Start() error
	Pause() error
	Resume() error
	Restart(ctx context.Context) error
	Shutdown(ctx context.Context) error

	Health() Health
	Accept(t *task.Task) error
	SubmitTask(payload json.RawMessage, priority task.Priority) (string, error)
	TaskStatus(id string) (*task.Task, error)
	CancelTask(id string) (task.Status, error)
	SendMessage(ctx context.Context, msg broker.Message) (broker.Message, error)

	Parameters() map[string]float64
	UpdateConfig(params map[string]float64) error
}

// Deps are the shared collaborators a supervisor is wired to.
type Deps struct {
	Broker *broker.Broker

	// Bus carries lifecycle events for external observers. Optional.
	Bus *events.Bus

	// Anomalies receives task-timeout anomalies. Optional.
	Anomalies anomaly.Sink

	// Executor runs this supervisor's tasks.
	Executor Executor
}

// Base is the single supervisor implementation behind every kind. The meta
// variant composes it with a child registry.
type Base struct {
	id   string
	kind string
	caps []string

	deps  Deps
	inbox <-chan broker.Message

	mu      sync.Mutex
	cfg     config.SupervisorConfig
	state   State
	errored bool
	active  int
	ready   bool // Initialize completed

	errorCount atomic.Uint64
	lastActive atomic.Int64 // unix nanos

	queue *task.Queue
	store *task.Store

	// wake nudges the dispatch loop after enqueue or slot release.
	wake chan struct{}
}

// New creates a supervisor in Initializing. Initialize must run before
// Start.
func New(id, kind string, deps Deps) *Base {
	b := &Base{
		id:    id,
		kind:  kind,
		deps:  deps,
		state: StateInitializing,
		wake:  make(chan struct{}, 1),
	}
	b.touch()
	metrics.SupervisorState.WithLabelValues(id).Set(float64(StateInitializing))
	return b
}

// ID implements Supervisor.
func (b *Base) ID() string { return b.id }

// Kind implements Supervisor.
func (b *Base) Kind() string { return b.kind }

// Capabilities implements Supervisor.
func (b *Base) Capabilities() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.caps...)
}

// State implements Supervisor.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Errored reports the orthogonal error flag.
func (b *Base) Errored() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errored
}

// SetErrored sets or clears the error flag. The supervisor keeps serving
// health queries either way.
func (b *Base) SetErrored(v bool) {
	b.mu.Lock()
	b.errored = v
	b.mu.Unlock()
	b.publishState()
}

// Initialize applies configuration and registers the mailbox. Calling it
// past Initializing is an init error.
func (b *Base) Initialize(cfg config.SupervisorConfig) error {
	b.mu.Lock()
	if b.state != StateInitializing {
		state := b.state
		b.mu.Unlock()
		return errs.New(errs.KindInit, "supervisor.Initialize",
			"%s is %s, already past initialization", b.id, state)
	}
	if b.ready {
		b.mu.Unlock()
		return errs.New(errs.KindInit, "supervisor.Initialize", "%s already initialized", b.id)
	}
	b.cfg = cfg
	b.caps = append([]string(nil), cfg.Capabilities...)
	b.queue = task.NewQueue(b.id, cfg.MaxQueuedTasks)
	b.store = task.NewStore(b.id, cfg.HistorySize)
	b.ready = true
	b.mu.Unlock()

	inbox, err := b.deps.Broker.Register(b.id)
	if err != nil {
		return err
	}
	b.inbox = inbox
	logging.Info().Str("supervisor", b.id).Str("kind", b.kind).Msg("supervisor initialized")
	return nil
}

// Start implements Supervisor: Initializing or Paused to Running,
// idempotent when already Running.
func (b *Base) Start() error {
	b.mu.Lock()
	if !b.ready {
		b.mu.Unlock()
		return errs.New(errs.KindInit, "supervisor.Start", "%s not initialized", b.id)
	}
	switch b.state {
	case StateRunning:
		b.mu.Unlock()
		return nil
	case StateInitializing, StatePaused:
		b.state = StateRunning
	default:
		state := b.state
		b.mu.Unlock()
		return errs.New(errs.KindInternal, "supervisor.Start", "%s cannot start from %s", b.id, state)
	}
	b.mu.Unlock()

	b.publishState()
	b.nudge()
	return nil
}

// Pause implements Supervisor: Running to Paused. In-flight tasks finish;
// only new dequeues stop.
func (b *Base) Pause() error {
	b.mu.Lock()
	if b.state != StateRunning {
		state := b.state
		b.mu.Unlock()
		return errs.New(errs.KindInternal, "supervisor.Pause", "%s is %s, not running", b.id, state)
	}
	b.state = StatePaused
	b.mu.Unlock()
	b.publishState()
	return nil
}

// Resume implements Supervisor: Paused to Running.
func (b *Base) Resume() error {
	b.mu.Lock()
	if b.state != StatePaused {
		state := b.state
		b.mu.Unlock()
		return errs.New(errs.KindInternal, "supervisor.Resume", "%s is %s, not paused", b.id, state)
	}
	b.state = StateRunning
	b.mu.Unlock()
	b.publishState()
	b.nudge()
	return nil
}

// Restart cycles the supervisor in place: in-flight tasks are cancelled
// cooperatively, the error flag clears, and processing resumes. Used by
// the recovery restart strategy.
func (b *Base) Restart(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateShuttingDown || b.state == StateTerminated {
		state := b.state
		b.mu.Unlock()
		return errs.New(errs.KindInternal, "supervisor.Restart", "%s is %s", b.id, state)
	}
	b.errored = false
	b.state = StateRunning
	store := b.store
	b.mu.Unlock()

	for _, id := range store.Processing() {
		//nolint:errcheck // terminal races are benign here
		store.Cancel(id)
	}
	b.publishState()
	b.nudge()
	logging.Info().Str("supervisor", b.id).Msg("supervisor restarted")
	return nil
}

// Shutdown implements Supervisor: reachable from any state. Queued tasks
// fail immediately; in-flight tasks get the grace period, then force
// cancellation. Terminated is absorbing.
func (b *Base) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateTerminated {
		b.mu.Unlock()
		return nil
	}
	b.state = StateShuttingDown
	grace := b.cfg.ShutdownGrace
	queue, store := b.queue, b.store
	b.mu.Unlock()
	b.publishState()

	if queue != nil {
		for _, t := range queue.Drain() {
			//nolint:errcheck // task may have raced to terminal
			store.Fail(t.ID, "supervisor shutting down")
		}
	}

	if store != nil {
		deadline := time.Now().Add(grace)
		for len(store.Processing()) > 0 && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				break
			case <-time.After(20 * time.Millisecond):
			}
			if ctx.Err() != nil {
				break
			}
		}
		for _, id := range store.Processing() {
			//nolint:errcheck
			store.Cancel(id)
		}
	}

	b.mu.Lock()
	b.state = StateTerminated
	b.mu.Unlock()
	b.publishState()

	if b.inbox != nil {
		//nolint:errcheck // double shutdown is a no-op
		b.deps.Broker.Unregister(b.id)
	}
	logging.Info().Str("supervisor", b.id).Msg("supervisor terminated")
	return nil
}

// Accept registers and queues an externally-created task, used by the
// meta-supervisor to route work here. Submission backpressure surfaces as
// a resource error with no partial registration left behind.
func (b *Base) Accept(t *task.Task) error {
	b.mu.Lock()
	if !b.ready || b.state == StateShuttingDown || b.state == StateTerminated {
		state := b.state
		b.mu.Unlock()
		return errs.New(errs.KindInternal, "supervisor.Accept", "%s is %s, not accepting tasks", b.id, state)
	}
	queue, store := b.queue, b.store
	b.mu.Unlock()

	if err := store.Add(t); err != nil {
		return err
	}
	if err := queue.Enqueue(t); err != nil {
		store.Discard(t.ID)
		return err
	}
	metrics.TasksSubmitted.WithLabelValues(b.id, t.Priority.String()).Inc()
	b.publishEvent(events.TypeTaskSubmitted, taskEventPayload(t))
	b.nudge()
	return nil
}

// SubmitTask implements Supervisor: creates a task and queues it, returning
// the new id, or a resource error and no id under backpressure.
func (b *Base) SubmitTask(payload json.RawMessage, priority task.Priority) (string, error) {
	t := task.New(payload, priority)
	if err := b.Accept(t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// TaskStatus implements Supervisor.
func (b *Base) TaskStatus(id string) (*task.Task, error) {
	b.mu.Lock()
	store := b.store
	b.mu.Unlock()
	if store == nil {
		return nil, errs.New(errs.KindInit, "supervisor.TaskStatus", "%s not initialized", b.id)
	}
	return store.Get(id)
}

// CancelTask implements Supervisor. A second cancel of the same id returns
// the terminal status without error.
func (b *Base) CancelTask(id string) (task.Status, error) {
	b.mu.Lock()
	store := b.store
	b.mu.Unlock()
	if store == nil {
		return "", errs.New(errs.KindInit, "supervisor.CancelTask", "%s not initialized", b.id)
	}
	status, err := store.Cancel(id)
	if err == nil && status == task.StatusCancelled {
		b.publishEvent(events.TypeTaskCancelled, map[string]string{"task_id": id})
	}
	return status, err
}

// SendMessage implements Supervisor: a request/response round trip through
// the broker, bounded by ctx or the broker's request timeout.
func (b *Base) SendMessage(ctx context.Context, msg broker.Message) (broker.Message, error) {
	msg.Source = b.id
	return b.deps.Broker.Request(ctx, msg)
}

// Parameters implements Supervisor: the tunable surface the recovery
// strategies adjust, merged with kind-specific extras.
func (b *Base) Parameters() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := map[string]float64{
		"max_concurrent_tasks": float64(b.cfg.MaxConcurrentTasks),
		"max_queued_tasks":     float64(b.cfg.MaxQueuedTasks),
		"task_timeout_ms":      float64(b.cfg.TaskTimeout.Milliseconds()),
	}
	for k, v := range b.cfg.AdditionalConfig {
		out[k] = v
	}
	return out
}

// UpdateConfig implements Supervisor: commits recovery-derived parameters
// onto the live configuration. Unknown keys land in AdditionalConfig.
func (b *Base) UpdateConfig(params map[string]float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, v := range params {
		switch k {
		case "max_concurrent_tasks":
			if v >= 1 {
				b.cfg.MaxConcurrentTasks = int(v)
			}
		case "max_queued_tasks":
			if v >= 1 {
				b.cfg.MaxQueuedTasks = int(v)
			}
		case "task_timeout_ms":
			if v > 0 {
				b.cfg.TaskTimeout = time.Duration(v) * time.Millisecond
			}
		default:
			if b.cfg.AdditionalConfig == nil {
				b.cfg.AdditionalConfig = make(map[string]float64)
			}
			b.cfg.AdditionalConfig[k] = v
		}
	}
	logging.Info().Str("supervisor", b.id).Interface("params", params).Msg("configuration updated")
	return nil
}

// nudge wakes the dispatch loop without ever blocking.
func (b *Base) nudge() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// touch records activity for the health snapshot.
func (b *Base) touch() {
	b.lastActive.Store(time.Now().UTC().UnixNano())
}

// publishState broadcasts the lifecycle transition on the broker and the
// event bus.
func (b *Base) publishState() {
	b.mu.Lock()
	state, errored := b.state, b.errored
	b.mu.Unlock()

	metrics.SupervisorState.WithLabelValues(b.id).Set(float64(state))

	payload, _ := json.Marshal(map[string]any{
		"supervisor": b.id,
		"state":      state.String(),
		"errored":    errored,
	})
	b.deps.Broker.Broadcast(broker.NewMessage(broker.TypeStatus, b.id, "", payload))
	b.publishEvent(events.TypeSupervisorState, map[string]any{
		"state":   state.String(),
		"errored": errored,
	})
}

// publishEvent emits on the event bus when one is wired.
func (b *Base) publishEvent(eventType string, payload any) {
	if b.deps.Bus == nil {
		return
	}
	b.deps.Bus.Publish(events.NewEvent(eventType, b.id, payload))
}

func taskEventPayload(t *task.Task) map[string]any {
	return map[string]any{
		"task_id":  t.ID,
		"priority": t.Priority.String(),
		"status":   string(t.Status),
	}
}
