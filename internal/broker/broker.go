// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/vigilcore/vigil/internal/cache"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/metrics"
)

// Config tunes the broker.
type Config struct {
	// MailboxSize bounds each destination's inbound buffer.
	MailboxSize int

	// HistorySize bounds each destination's replay ring.
	HistorySize int

	// RequestTimeout bounds Request round trips when the caller's context
	// carries no earlier deadline.
	RequestTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MailboxSize:    128,
		HistorySize:    64,
		RequestTimeout: 10 * time.Second,
	}
}

// mailbox is one destination's bounded inbound buffer plus replay history.
type mailbox struct {
	mu      sync.Mutex // serializes senders; receivers drain ch directly
	ch      chan Message
	history *cache.Ring[Message]
	drops   atomic.Uint64
}

// Broker routes messages between registered supervisors. Delivery is
// fire-and-forget: a slow or blocked receiver never stalls a sender; its
// mailbox overflows oldest-first instead.
type Broker struct {
	cfg Config

	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	topics    map[string]map[string]struct{} // topic -> subscriber ids

	pendingMu sync.Mutex
	pending   map[string]chan Message // correlation id -> response waiter
}

// New creates a broker.
func New(cfg Config) *Broker {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultConfig().MailboxSize
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Broker{
		cfg:       cfg,
		mailboxes: make(map[string]*mailbox),
		topics:    make(map[string]map[string]struct{}),
		pending:   make(map[string]chan Message),
	}
}

// Register creates the inbound channel for a supervisor id. Fails with an
// init error on a duplicate id.
func (b *Broker) Register(id string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.mailboxes[id]; exists {
		return nil, errs.New(errs.KindInit, "broker.Register", "destination %s already registered", id)
	}
	mb := &mailbox{
		ch:      make(chan Message, b.cfg.MailboxSize),
		history: cache.NewRing[Message](b.cfg.HistorySize),
	}
	b.mailboxes[id] = mb
	return mb.ch, nil
}

// Unregister removes a destination and its topic subscriptions. Unknown ids
// return a not-found error.
func (b *Broker) Unregister(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.mailboxes[id]; !exists {
		return errs.New(errs.KindNotFound, "broker.Unregister", "destination %s not registered", id)
	}
	delete(b.mailboxes, id)
	for _, subs := range b.topics {
		delete(subs, id)
	}
	return nil
}

// SendDirect delivers to exactly one destination. Unknown destinations fail
// with a not-found error; TTL-expired messages are discarded and counted,
// not delivered.
func (b *Broker) SendDirect(msg Message) error {
	if msg.Expired(time.Now()) {
		metrics.MessagesDropped.WithLabelValues(msg.Destination, "ttl").Inc()
		return nil
	}

	b.mu.RLock()
	mb, ok := b.mailboxes[msg.Destination]
	b.mu.RUnlock()
	if !ok {
		return errs.New(errs.KindNotFound, "broker.SendDirect",
			"destination %s not registered", msg.Destination)
	}

	b.deliver(msg.Destination, mb, msg)
	return nil
}

// Broadcast delivers best-effort to every registered destination except the
// source.
func (b *Broker) Broadcast(msg Message) {
	msg.Destination = DestinationBroadcast
	if msg.Expired(time.Now()) {
		metrics.MessagesDropped.WithLabelValues(DestinationBroadcast, "ttl").Inc()
		return
	}

	b.mu.RLock()
	targets := make(map[string]*mailbox, len(b.mailboxes))
	for id, mb := range b.mailboxes {
		if id != msg.Source {
			targets[id] = mb
		}
	}
	b.mu.RUnlock()

	for id, mb := range targets {
		b.deliver(id, mb, msg)
	}
}

// Subscribe adds a registered destination to a topic. Unknown destinations
// fail with a not-found error.
func (b *Broker) Subscribe(topic, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.mailboxes[id]; !exists {
		return errs.New(errs.KindNotFound, "broker.Subscribe", "destination %s not registered", id)
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		b.topics[topic] = subs
	}
	subs[id] = struct{}{}
	return nil
}

// Unsubscribe removes a destination from a topic.
func (b *Broker) Unsubscribe(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[topic]; ok {
		delete(subs, id)
	}
}

// Publish delivers best-effort to every current subscriber of the topic.
func (b *Broker) Publish(topic string, msg Message) {
	if msg.Expired(time.Now()) {
		metrics.MessagesDropped.WithLabelValues(topic, "ttl").Inc()
		return
	}

	b.mu.RLock()
	targets := make(map[string]*mailbox)
	for id := range b.topics[topic] {
		if mb, ok := b.mailboxes[id]; ok {
			targets[id] = mb
		}
	}
	b.mu.RUnlock()

	for id, mb := range targets {
		b.deliver(id, mb, msg)
	}
}

// Request sends a message and waits for the correlated response. The round
// trip is bounded by the caller's context or the configured request
// timeout, whichever ends first; expiry yields a communication error.
func (b *Broker) Request(ctx context.Context, msg Message) (Message, error) {
	if msg.CorrelationID == "" {
		msg.CorrelationID = msg.ID
	}

	waiter := make(chan Message, 1)
	b.pendingMu.Lock()
	b.pending[msg.CorrelationID] = waiter
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, msg.CorrelationID)
		b.pendingMu.Unlock()
	}()

	if err := b.SendDirect(msg); err != nil {
		return Message{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	select {
	case resp := <-waiter:
		return resp, nil
	case <-ctx.Done():
		return Message{}, errs.Wrap(errs.KindCommunication, "broker.Request", ctx.Err())
	}
}

// Respond delivers a response for a received request. The response reuses
// the request's correlation id and is handed to the waiting requester if
// one exists, falling back to the source's mailbox otherwise.
func (b *Broker) Respond(req Message, payload json.RawMessage) error {
	resp := NewMessage(req.Type, req.Destination, req.Source, payload)
	resp.CorrelationID = req.CorrelationID
	if resp.CorrelationID == "" {
		resp.CorrelationID = req.ID
	}

	b.pendingMu.Lock()
	waiter, ok := b.pending[resp.CorrelationID]
	b.pendingMu.Unlock()
	if ok {
		select {
		case waiter <- resp:
			return nil
		default:
			// Waiter already satisfied; fall through to mailbox delivery.
		}
	}
	return b.SendDirect(resp)
}

// History returns the destination's replay ring oldest-first. Debugging
// aid only.
func (b *Broker) History(id string) []Message {
	b.mu.RLock()
	mb, ok := b.mailboxes[id]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return mb.history.Snapshot()
}

// Drops returns the destination's overflow drop count.
func (b *Broker) Drops(id string) uint64 {
	b.mu.RLock()
	mb, ok := b.mailboxes[id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return mb.drops.Load()
}

// deliver enqueues without ever blocking the sender. A full mailbox sheds
// its oldest buffered message first.
func (b *Broker) deliver(id string, mb *mailbox, msg Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.history.Push(msg)

	select {
	case mb.ch <- msg:
	default:
		// Full: shed the oldest, then retry once. The receiver may have
		// drained concurrently, in which case nothing is shed.
		select {
		case <-mb.ch:
			mb.drops.Add(1)
			metrics.MessagesDropped.WithLabelValues(id, "overflow").Inc()
			logging.Warn().Str("destination", id).Msg("mailbox overflow, dropped oldest message")
		default:
		}
		select {
		case mb.ch <- msg:
		default:
			mb.drops.Add(1)
			metrics.MessagesDropped.WithLabelValues(id, "overflow").Inc()
		}
	}
	metrics.MessagesDelivered.WithLabelValues(string(msg.Type)).Inc()
}
