// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package supervisor

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/vigilcore/vigil/internal/broker"
	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/events"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/task"
)

// Meta is the root supervisor: the sole entry point for external task
// submission and escalation. It owns its children exclusively, routes
// tasks to the first healthy capability-matching child, and activates
// standbys when a child goes quiet.
type Meta struct {
	*Base

	cmu         sync.RWMutex
	children    map[string]Supervisor
	order       []string
	standbys    []Supervisor
	assignments map[string]string // task id -> child id
	lastBeat    map[string]time.Time
}

// NewMeta builds and initializes the root supervisor. The meta kind never
// executes payloads itself; a task reaching its executor is an invariant
// violation.
func NewMeta(cfg config.SupervisorConfig, deps Deps) (*Meta, error) {
	if deps.Executor == nil {
		deps.Executor = ExecutorFunc(func(context.Context, *task.Task) (json.RawMessage, error) {
			return nil, errs.New(errs.KindInternal, "supervisor.meta", "meta-supervisor does not execute tasks")
		})
	}
	cfg.Kind = KindMeta

	b := New(cfg.ID, KindMeta, deps)
	if err := b.Initialize(cfg); err != nil {
		return nil, err
	}
	return &Meta{
		Base:        b,
		children:    make(map[string]Supervisor),
		assignments: make(map[string]string),
		lastBeat:    make(map[string]time.Time),
	}, nil
}

// RegisterChild takes exclusive ownership of a child. Duplicate ids are an
// init error. Registration is announced on the broadcast channel.
func (m *Meta) RegisterChild(child Supervisor) error {
	m.cmu.Lock()
	if _, exists := m.children[child.ID()]; exists {
		m.cmu.Unlock()
		return errs.New(errs.KindInit, "supervisor.RegisterChild", "child %s already registered", child.ID())
	}
	m.children[child.ID()] = child
	m.order = append(m.order, child.ID())
	m.lastBeat[child.ID()] = time.Now()
	m.cmu.Unlock()

	payload, _ := json.Marshal(map[string]string{"child": child.ID(), "kind": child.Kind()})
	m.deps.Broker.Broadcast(broker.NewMessage(broker.TypeEvent, m.id, "", payload))
	m.publishEvent(events.TypeSupervisorState, map[string]string{"child_registered": child.ID()})
	logging.Info().Str("child", child.ID()).Str("kind", child.Kind()).Msg("child registered")
	return nil
}

// UnregisterChild releases a child. Unknown ids are a not-found error.
func (m *Meta) UnregisterChild(id string) error {
	m.cmu.Lock()
	defer m.cmu.Unlock()

	if _, exists := m.children[id]; !exists {
		return errs.New(errs.KindNotFound, "supervisor.UnregisterChild", "child %s not registered", id)
	}
	delete(m.children, id)
	delete(m.lastBeat, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
	return nil
}

// RegisterStandby adds an initialized but idle supervisor to the standby
// pool, activated when a registered child fails.
func (m *Meta) RegisterStandby(s Supervisor) {
	m.cmu.Lock()
	defer m.cmu.Unlock()
	m.standbys = append(m.standbys, s)
}

// ChildHealthEntry pairs a child id with a health snapshot.
type ChildHealthEntry struct {
	ID     string `json:"id"`
	Health Health `json:"health"`
}

// ChildHealth snapshots every registered child in routing order.
func (m *Meta) ChildHealth() []ChildHealthEntry {
	m.cmu.RLock()
	children := make([]Supervisor, 0, len(m.order))
	for _, id := range m.order {
		children = append(children, m.children[id])
	}
	m.cmu.RUnlock()

	out := make([]ChildHealthEntry, 0, len(children))
	for _, child := range children {
		out = append(out, ChildHealthEntry{ID: child.ID(), Health: child.Health()})
	}
	return out
}

// Children returns the registered child ids in routing order.
func (m *Meta) Children() []string {
	m.cmu.RLock()
	defer m.cmu.RUnlock()
	return append([]string(nil), m.order...)
}

// SubmitTask implements Supervisor: routes to any healthy Running child.
func (m *Meta) SubmitTask(payload json.RawMessage, priority task.Priority) (string, error) {
	return m.SubmitTaskRequiring("", payload, priority)
}

// SubmitTaskRequiring routes to the first Running, non-errored child that
// carries the capability (empty matches all), linear scan in registration
// order. With no child able to accept, the task is marked Failed with
// reason "no available supervisor" and never requeued; the id is still
// returned so the failure is queryable.
func (m *Meta) SubmitTaskRequiring(capability string, payload json.RawMessage, priority task.Priority) (string, error) {
	t := task.New(payload, priority)

	for _, child := range m.candidates(capability) {
		if err := child.Accept(t); err != nil {
			logging.Debug().Err(err).Str("child", child.ID()).Str("task", t.ID).Msg("routing attempt refused")
			continue
		}
		m.cmu.Lock()
		m.assignments[t.ID] = child.ID()
		m.cmu.Unlock()
		return t.ID, nil
	}

	// Fail fast, no retry loop.
	if err := m.store.Add(t); err != nil {
		return "", err
	}
	//nolint:errcheck // freshly added, cannot be terminal
	m.store.Fail(t.ID, "no available supervisor")
	m.publishEvent(events.TypeTaskFailed, map[string]string{"task_id": t.ID, "error": "no available supervisor"})
	return t.ID, nil
}

// candidates snapshots the routable children for one submission.
func (m *Meta) candidates(capability string) []Supervisor {
	m.cmu.RLock()
	defer m.cmu.RUnlock()

	var out []Supervisor
	for _, id := range m.order {
		child := m.children[id]
		if child.State() != StateRunning || child.Errored() {
			continue
		}
		if capability != "" && !slices.Contains(child.Capabilities(), capability) {
			continue
		}
		out = append(out, child)
	}
	return out
}

// TaskStatus implements Supervisor: routed tasks resolve through their
// assigned child, fail-fast tasks through the meta's own store.
func (m *Meta) TaskStatus(id string) (*task.Task, error) {
	if child := m.assignedChild(id); child != nil {
		return child.TaskStatus(id)
	}
	return m.Base.TaskStatus(id)
}

// CancelTask implements Supervisor.
func (m *Meta) CancelTask(id string) (task.Status, error) {
	if child := m.assignedChild(id); child != nil {
		return child.CancelTask(id)
	}
	return m.Base.CancelTask(id)
}

func (m *Meta) assignedChild(taskID string) Supervisor {
	m.cmu.RLock()
	defer m.cmu.RUnlock()
	if childID, ok := m.assignments[taskID]; ok {
		return m.children[childID]
	}
	return nil
}

// Shutdown cascades bottom-up: children terminate before the root does.
func (m *Meta) Shutdown(ctx context.Context) error {
	m.cmu.RLock()
	children := make([]Supervisor, 0, len(m.order))
	for _, id := range m.order {
		children = append(children, m.children[id])
	}
	m.cmu.RUnlock()

	for _, child := range children {
		if err := child.Shutdown(ctx); err != nil {
			logging.Err(err).Str("child", child.ID()).Msg("child shutdown failed")
		}
	}
	return m.Base.Shutdown(ctx)
}

// Serve implements suture.Service: runs the heartbeat monitor and the
// escalation mailbox until cancellation.
func (m *Meta) Serve(ctx context.Context) error {
	m.mu.Lock()
	ready := m.ready
	interval := m.cfg.HeartbeatInterval
	m.mu.Unlock()
	if !ready {
		return errs.New(errs.KindInit, "supervisor.Serve", "%s not initialized", m.id)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			//nolint:errcheck
			m.Shutdown(shutdownCtx)
			return ctx.Err()
		case msg, ok := <-m.inbox:
			if !ok {
				return nil
			}
			m.handleMetaMessage(msg)
		case <-ticker.C:
			m.sweepHeartbeats(2 * interval)
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (m *Meta) String() string {
	return "meta-" + m.id
}

// handleMetaMessage consumes child heartbeats and peer traffic.
func (m *Meta) handleMetaMessage(msg broker.Message) {
	switch msg.Type {
	case broker.TypeHealth:
		m.cmu.Lock()
		if _, known := m.children[msg.Source]; known {
			m.lastBeat[msg.Source] = time.Now()
		}
		m.cmu.Unlock()

		var h Health
		if err := json.Unmarshal(msg.Payload, &h); err == nil && h.Status == "error" {
			m.failChild(msg.Source, "reported error health")
		}
	default:
		m.handleMessage(msg)
	}
}

// sweepHeartbeats fails children whose heartbeat went stale.
func (m *Meta) sweepHeartbeats(staleAfter time.Duration) {
	now := time.Now()

	m.cmu.RLock()
	var stale []string
	for id, last := range m.lastBeat {
		if now.Sub(last) > staleAfter {
			stale = append(stale, id)
		}
	}
	m.cmu.RUnlock()

	for _, id := range stale {
		m.failChild(id, "missed heartbeat")
	}
}

// failChild takes a child out of rotation and, when a standby exists,
// activates it and replays the failed child's unfinished tasks. A task
// that already produced an external side effect is replayed only if
// marked idempotent-safe.
func (m *Meta) failChild(childID, reason string) {
	m.cmu.Lock()
	child, ok := m.children[childID]
	if !ok || child.Errored() {
		// Unknown, or already failed. A failed child is handled exactly
		// once; a child that stays stale across sweeps cannot drain the
		// standby pool or replay the same tasks again.
		m.cmu.Unlock()
		return
	}

	var standby Supervisor
	if len(m.standbys) > 0 {
		standby = m.standbys[0]
		m.standbys = m.standbys[1:]
	}

	// Collect this child's unfinished assignments before rerouting, and
	// stop heartbeat-tracking it so later sweeps skip it.
	var orphaned []string
	for taskID, owner := range m.assignments {
		if owner == childID {
			orphaned = append(orphaned, taskID)
		}
	}
	delete(m.lastBeat, childID)
	m.cmu.Unlock()

	if marker, canMark := child.(interface{ SetErrored(bool) }); canMark {
		marker.SetErrored(true)
	}
	logging.Warn().Str("child", childID).Str("reason", reason).Msg("child failed")

	if standby == nil {
		return
	}
	if err := standby.Start(); err != nil {
		logging.Err(err).Str("standby", standby.ID()).Msg("standby activation failed")
		return
	}
	if err := m.RegisterChild(standby); err != nil {
		logging.Err(err).Str("standby", standby.ID()).Msg("standby registration failed")
		return
	}
	logging.Info().Str("standby", standby.ID()).Str("failed", childID).Msg("standby activated")

	for _, taskID := range orphaned {
		m.replayTask(child, standby, taskID)
	}

	// The dead child's routing entries are finished: replayed work runs
	// under new ids on the standby.
	m.cmu.Lock()
	for _, taskID := range orphaned {
		delete(m.assignments, taskID)
	}
	m.cmu.Unlock()
}

// replayTask resubmits an unfinished task's original payload as a new task
// on the standby, honoring the side-effect guard.
func (m *Meta) replayTask(failed, standby Supervisor, taskID string) {
	t, err := failed.TaskStatus(taskID)
	if err != nil || t.Status.Terminal() {
		return
	}
	if t.SideEffecting && !t.IdempotentSafe {
		logging.Warn().Str("task", taskID).Msg("skipping replay of side-effecting task")
		return
	}

	replay := task.New(t.Payload, t.Priority)
	replay.IdempotentSafe = t.IdempotentSafe
	if err := standby.Accept(replay); err != nil {
		logging.Err(err).Str("task", taskID).Str("standby", standby.ID()).Msg("replay refused")
		return
	}

	m.cmu.Lock()
	m.assignments[replay.ID] = standby.ID()
	m.cmu.Unlock()
	logging.Info().Str("original", taskID).Str("replay", replay.ID).Msg("task replayed on standby")
}

// RestartComponent restarts a child in place; part of the recovery control
// surface.
func (m *Meta) RestartComponent(ctx context.Context, component string) error {
	child, err := m.child(component)
	if err != nil {
		return err
	}
	return child.Restart(ctx)
}

// ChildParameters exposes a child's tunable parameters to recovery.
func (m *Meta) ChildParameters(component string) (map[string]float64, error) {
	child, err := m.child(component)
	if err != nil {
		return nil, err
	}
	return child.Parameters(), nil
}

// UpdateChildConfig commits recovery-derived parameters to a child.
func (m *Meta) UpdateChildConfig(component string, params map[string]float64) error {
	child, err := m.child(component)
	if err != nil {
		return err
	}
	return child.UpdateConfig(params)
}

// CheckChildHealth reports nil when the child is Running without the error
// flag; recovery verification uses it as the health signal.
func (m *Meta) CheckChildHealth(_ context.Context, component string) error {
	child, err := m.child(component)
	if err != nil {
		return err
	}
	if child.State() != StateRunning {
		return errs.New(errs.KindTask, "supervisor.CheckChildHealth", "%s is %s", component, child.State())
	}
	if child.Errored() {
		return errs.New(errs.KindTask, "supervisor.CheckChildHealth", "%s has the error flag set", component)
	}
	return nil
}

func (m *Meta) child(id string) (Supervisor, error) {
	m.cmu.RLock()
	defer m.cmu.RUnlock()
	child, ok := m.children[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "supervisor.child", "child %s not registered", id)
	}
	return child, nil
}
