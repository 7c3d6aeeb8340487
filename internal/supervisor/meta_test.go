// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vigilcore/vigil/internal/broker"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/task"
)

func newTestMeta(t *testing.T, br *broker.Broker) *Meta {
	t.Helper()
	m, err := NewMeta(testConfig("meta-1", 1), Deps{Broker: br})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	return m
}

// newChild builds a child that shares the meta's broker. The caller starts
// its serve loop when tasks should actually execute.
func newChild(t *testing.T, br *broker.Broker, id string, exec Executor, caps ...string) *Base {
	t.Helper()
	cfg := testConfig(id, 1)
	cfg.Capabilities = caps
	b := New(id, cfg.Kind, Deps{Broker: br, Executor: exec})
	if err := b.Initialize(cfg); err != nil {
		t.Fatal(err)
	}
	return b
}

func serveChild(t *testing.T, b *Base) {
	t.Helper()
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSubmitWithNoChildrenFailsFast(t *testing.T) {
	m := newTestMeta(t, broker.New(broker.DefaultConfig()))

	id, err := m.SubmitTask(json.RawMessage(`{}`), task.PriorityHigh)
	if err != nil {
		t.Fatalf("submit = %v, want queryable failure instead of error", err)
	}
	if id == "" {
		t.Fatal("no task id returned")
	}

	got, err := m.TaskStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error != "no available supervisor" {
		t.Errorf("error = %q, want %q", got.Error, "no available supervisor")
	}
}

func TestRoutingSkipsUnhealthyChildren(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	paused := newChild(t, br, "child-paused", ExecutorFunc(echoExec))
	serveChild(t, paused)
	if err := paused.Pause(); err != nil {
		t.Fatal(err)
	}

	errored := newChild(t, br, "child-errored", ExecutorFunc(echoExec))
	serveChild(t, errored)
	errored.SetErrored(true)

	healthy := newChild(t, br, "child-healthy", ExecutorFunc(echoExec))
	serveChild(t, healthy)

	for _, c := range []*Base{paused, errored, healthy} {
		if err := m.RegisterChild(c); err != nil {
			t.Fatal(err)
		}
	}

	id, err := m.SubmitTask(json.RawMessage(`"ping"`), task.PriorityMedium)
	if err != nil {
		t.Fatal(err)
	}
	got := waitTerminal(t, m, id)
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if string(got.Result) != `"ping"` {
		t.Errorf("result = %s, want the echoed payload", got.Result)
	}
	if owner := m.assignedChildID(id); owner != "child-healthy" {
		t.Errorf("task assigned to %s, want child-healthy", owner)
	}
}

func (m *Meta) assignedChildID(taskID string) string {
	m.cmu.RLock()
	defer m.cmu.RUnlock()
	return m.assignments[taskID]
}

func TestCapabilityMatchedRouting(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	general := newChild(t, br, "child-general", ExecutorFunc(echoExec))
	serveChild(t, general)
	gpu := newChild(t, br, "child-gpu", ExecutorFunc(echoExec), "gpu")
	serveChild(t, gpu)

	if err := m.RegisterChild(general); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterChild(gpu); err != nil {
		t.Fatal(err)
	}

	id, err := m.SubmitTaskRequiring("gpu", nil, task.PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, m, id)
	if owner := m.assignedChildID(id); owner != "child-gpu" {
		t.Errorf("gpu task routed to %s", owner)
	}

	// An unsatisfiable capability fails fast like an empty tree.
	id, err = m.SubmitTaskRequiring("quantum", nil, task.PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.TaskStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestRegisterChildDuplicateAndUnregisterUnknown(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	c := newChild(t, br, "child-a", ExecutorFunc(echoExec))
	if err := m.RegisterChild(c); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterChild(c); !errors.Is(err, errs.ErrInit) {
		t.Errorf("duplicate register = %v, want InitError", err)
	}
	if err := m.UnregisterChild("child-a"); err != nil {
		t.Fatal(err)
	}
	if err := m.UnregisterChild("child-a"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unregister unknown = %v, want NotFound", err)
	}
}

func TestFailChildActivatesStandbyAndReplays(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	// The primary never finishes anything, so its tasks stay non-terminal
	// and eligible for replay.
	stuck := make(chan struct{})
	defer close(stuck)
	primary := newChild(t, br, "child-primary", ExecutorFunc(func(ctx context.Context, _ *task.Task) (json.RawMessage, error) {
		select {
		case <-stuck:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}))
	serveChild(t, primary)
	if err := m.RegisterChild(primary); err != nil {
		t.Fatal(err)
	}

	standby := newChild(t, br, "child-standby", ExecutorFunc(echoExec))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = standby.Serve(ctx) }()
	m.RegisterStandby(standby)

	safeID, err := m.SubmitTask(json.RawMessage(`"safe"`), task.PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}

	// A side-effecting task without the idempotent-safe mark must not be
	// replayed.
	unsafe := task.New(json.RawMessage(`"unsafe"`), task.PriorityHigh)
	unsafe.SideEffecting = true
	if err := primary.Accept(unsafe); err != nil {
		t.Fatal(err)
	}
	m.cmu.Lock()
	m.assignments[unsafe.ID] = primary.ID()
	m.cmu.Unlock()

	m.failChild("child-primary", "test-induced")

	if !primary.Errored() {
		t.Error("failed child not marked errored")
	}
	if got := m.Children(); len(got) != 2 || got[1] != "child-standby" {
		t.Fatalf("children after failover = %v, want primary plus standby", got)
	}
	if standby.State() != StateRunning {
		t.Errorf("standby state = %s, want running", standby.State())
	}

	// The safe task's replay lands on the standby and completes.
	deadline := time.After(5 * time.Second)
	for {
		m.cmu.RLock()
		var replayID string
		for taskID, owner := range m.assignments {
			if owner == "child-standby" && taskID != safeID && taskID != unsafe.ID {
				replayID = taskID
			}
		}
		m.cmu.RUnlock()
		if replayID != "" {
			got := waitTerminal(t, standby, replayID)
			if got.Status != task.StatusCompleted {
				t.Fatalf("replay status = %s, want completed", got.Status)
			}
			if string(got.Result) != `"safe"` {
				t.Errorf("replay result = %s, want the safe payload", got.Result)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("replay never assigned to standby")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The unsafe task stays on the dead child only.
	if _, err := standby.TaskStatus(unsafe.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("side-effecting task present on standby: %v", err)
	}
}

func TestFailChildWithoutStandbyOnlyFlags(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	c := newChild(t, br, "child-lone", ExecutorFunc(echoExec))
	serveChild(t, c)
	if err := m.RegisterChild(c); err != nil {
		t.Fatal(err)
	}

	m.failChild("child-lone", "test-induced")
	if !c.Errored() {
		t.Error("child not marked errored")
	}
	// Idempotent when already failed and no standby remains.
	m.failChild("child-lone", "again")

	// Routing now has nowhere to go.
	id, err := m.SubmitTask(nil, task.PriorityLow)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.TaskStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("status = %s, want failed with no healthy children", got.Status)
	}
}

func TestFailChildHandledOnce(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	stuck := make(chan struct{})
	defer close(stuck)
	primary := newChild(t, br, "child-primary", ExecutorFunc(func(ctx context.Context, _ *task.Task) (json.RawMessage, error) {
		select {
		case <-stuck:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}))
	serveChild(t, primary)
	if err := m.RegisterChild(primary); err != nil {
		t.Fatal(err)
	}

	first := newChild(t, br, "child-standby-1", ExecutorFunc(echoExec))
	second := newChild(t, br, "child-standby-2", ExecutorFunc(echoExec))
	m.RegisterStandby(first)
	m.RegisterStandby(second)

	id, err := m.SubmitTask(json.RawMessage(`"safe"`), task.PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}

	// Repeated sweeps keep flagging a dead child; only the first one may
	// activate a standby and replay.
	m.failChild("child-primary", "missed heartbeat")
	m.failChild("child-primary", "missed heartbeat")
	m.failChild("child-primary", "missed heartbeat")

	m.cmu.RLock()
	pooled := len(m.standbys)
	replays := 0
	for _, owner := range m.assignments {
		if owner == "child-standby-1" {
			replays++
		}
	}
	_, tracked := m.assignments[id]
	_, beating := m.lastBeat["child-primary"]
	m.cmu.RUnlock()

	if pooled != 1 {
		t.Errorf("standbys remaining = %d, want the second still pooled", pooled)
	}
	if replays != 1 {
		t.Errorf("replays on first standby = %d, want 1", replays)
	}
	if tracked {
		t.Error("dead child's assignment entry not removed")
	}
	if beating {
		t.Error("dead child still heartbeat-tracked after failure")
	}
	if got := m.Children(); len(got) != 2 {
		t.Errorf("children = %v, want primary plus one standby", got)
	}
}

func TestErrorHealthReportFailsChild(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	c := newChild(t, br, "child-sick", ExecutorFunc(echoExec))
	serveChild(t, c)
	if err := m.RegisterChild(c); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(Health{Status: "error"})
	m.handleMetaMessage(broker.NewMessage(broker.TypeHealth, "child-sick", m.ID(), payload))

	if !c.Errored() {
		t.Error("child reporting error health not failed")
	}
}

func TestSweepHeartbeatsFailsStaleChild(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	c := newChild(t, br, "child-quiet", ExecutorFunc(echoExec))
	serveChild(t, c)
	if err := m.RegisterChild(c); err != nil {
		t.Fatal(err)
	}

	// Fresh heartbeat survives the sweep.
	m.sweepHeartbeats(time.Minute)
	if c.Errored() {
		t.Fatal("fresh child failed by sweep")
	}

	m.cmu.Lock()
	m.lastBeat["child-quiet"] = time.Now().Add(-time.Hour)
	m.cmu.Unlock()

	m.sweepHeartbeats(time.Minute)
	if !c.Errored() {
		t.Error("stale child not failed by sweep")
	}
}

func TestShutdownCascadesBottomUp(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	a := newChild(t, br, "child-x", ExecutorFunc(echoExec))
	serveChild(t, a)
	b := newChild(t, br, "child-y", ExecutorFunc(echoExec))
	serveChild(t, b)
	for _, c := range []*Base{a, b} {
		if err := m.RegisterChild(c); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Base{a, b} {
		if got := c.State(); got != StateTerminated {
			t.Errorf("%s state = %s, want terminated", c.ID(), got)
		}
	}
	if got := m.State(); got != StateTerminated {
		t.Errorf("meta state = %s, want terminated", got)
	}
}

func TestControlAdapterDrivesChildren(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	c := newChild(t, br, "child-ctl", ExecutorFunc(echoExec))
	serveChild(t, c)
	if err := m.RegisterChild(c); err != nil {
		t.Fatal(err)
	}

	ctl := ControlAdapter{Meta: m}

	params, err := ctl.Parameters("child-ctl")
	if err != nil {
		t.Fatal(err)
	}
	if params["max_concurrent_tasks"] != 1 {
		t.Errorf("max_concurrent_tasks = %v, want 1", params["max_concurrent_tasks"])
	}

	params["max_concurrent_tasks"] = 4
	if err := ctl.UpdateConfig("child-ctl", params); err != nil {
		t.Fatal(err)
	}
	after, err := ctl.Parameters("child-ctl")
	if err != nil {
		t.Fatal(err)
	}
	if after["max_concurrent_tasks"] != 4 {
		t.Errorf("after update = %v, want 4", after["max_concurrent_tasks"])
	}

	if err := ctl.RestartComponent(context.Background(), "child-ctl"); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != StateRunning {
		t.Errorf("state after restart = %s, want running", got)
	}

	if _, err := ctl.Parameters("child-none"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown component = %v, want NotFound", err)
	}
}

func TestCheckChildHealth(t *testing.T) {
	br := broker.New(broker.DefaultConfig())
	m := newTestMeta(t, br)

	c := newChild(t, br, "child-hc", ExecutorFunc(echoExec))
	serveChild(t, c)
	if err := m.RegisterChild(c); err != nil {
		t.Fatal(err)
	}

	if err := m.CheckChildHealth(context.Background(), "child-hc"); err != nil {
		t.Errorf("healthy child = %v, want nil", err)
	}

	if err := c.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := m.CheckChildHealth(context.Background(), "child-hc"); !errors.Is(err, errs.ErrTask) {
		t.Errorf("paused child = %v, want TaskError", err)
	}
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}

	c.SetErrored(true)
	if err := m.CheckChildHealth(context.Background(), "child-hc"); !errors.Is(err, errs.ErrTask) {
		t.Errorf("errored child = %v, want TaskError", err)
	}

	if err := m.CheckChildHealth(context.Background(), "child-none"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown child = %v, want NotFound", err)
	}
}
