// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package events

import (
	"context"
	"testing"
	"time"

	"github.com/vigilcore/vigil/internal/config"
)

func gochannelBus(t *testing.T) *Bus {
	t.Helper()
	b, err := NewBus(config.EventsConfig{Transport: "gochannel", BufferSize: 16})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := gochannelBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := b.Subscribe(ctx, TopicTask)
	if err != nil {
		t.Fatal(err)
	}

	sent := NewEvent(TypeTaskCompleted, "worker-1", map[string]string{"task_id": "t-1"})
	b.Publish(sent)

	select {
	case got := <-stream:
		if got.EventID != sent.EventID {
			t.Errorf("event id = %s, want %s", got.EventID, sent.EventID)
		}
		if got.Type != TypeTaskCompleted {
			t.Errorf("type = %s, want %s", got.Type, TypeTaskCompleted)
		}
		if got.SchemaVersion != SchemaVersion {
			t.Errorf("schema version = %d, want %d", got.SchemaVersion, SchemaVersion)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestTopicRouting(t *testing.T) {
	cases := map[string]string{
		TypeSupervisorState:   TopicSupervisor,
		TypeTaskSubmitted:     TopicTask,
		TypeTaskTimedOut:      TopicTask,
		TypeAnomalyDetected:   TopicAnomaly,
		TypeRecoveryEscalated: TopicRecovery,
		TypeApprovalDecided:   TopicApproval,
	}
	for eventType, want := range cases {
		if got := TopicFor(eventType); got != want {
			t.Errorf("TopicFor(%s) = %s, want %s", eventType, got, want)
		}
	}
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	b, err := NewBus(config.EventsConfig{Transport: "gochannel"})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	// Must not panic or block.
	b.Publish(NewEvent(TypeTaskFailed, "worker-1", nil))
	if err := b.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestUnknownTransportRejected(t *testing.T) {
	if _, err := NewBus(config.EventsConfig{Transport: "carrier-pigeon"}); err == nil {
		t.Error("unknown transport accepted")
	}
}

func TestSerializerRejectsInvalidEvent(t *testing.T) {
	s := NewSerializer()
	if _, err := s.Marshal(&Event{Type: TypeTaskSubmitted}); err == nil {
		t.Error("event without id marshalled")
	}

	e := NewEvent(TypeTaskSubmitted, "worker-1", nil)
	data, err := s.Marshal(&e)
	if err != nil {
		t.Fatal(err)
	}
	back, err := s.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.EventID != e.EventID {
		t.Errorf("round trip id = %s, want %s", back.EventID, e.EventID)
	}
}
