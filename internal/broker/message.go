// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package broker implements addressed and broadcast messaging between
// supervisors: bounded per-destination mailboxes with drop-oldest overflow,
// topic publish, TTL expiry, request/response correlation, and a
// fixed-size replay history per destination.
package broker

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Type tags the message semantics.
type Type string

const (
	TypeStatus  Type = "status"
	TypeHealth  Type = "health"
	TypeForward Type = "forward"
	TypeEvent   Type = "event"
	TypeCustom  Type = "custom"
)

// DestinationBroadcast addresses every registered supervisor except the
// source.
const DestinationBroadcast = "*"

// Message is the unit of communication between supervisors. Transient:
// retained only in the bounded per-destination history ring.
type Message struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload,omitempty"`

	// CorrelationID links a response to its request.
	CorrelationID string `json:"correlation_id,omitempty"`

	// ExpiresAt, when set, makes the message eligible for discard before
	// delivery.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(t Type, source, destination string, payload json.RawMessage) Message {
	return Message{
		ID:          uuid.New().String(),
		Type:        t,
		Source:      source,
		Destination: destination,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
}

// WithTTL returns a copy expiring after d.
func (m Message) WithTTL(d time.Duration) Message {
	exp := time.Now().UTC().Add(d)
	m.ExpiresAt = &exp
	return m
}

// Expired reports whether the message's TTL has elapsed.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}
