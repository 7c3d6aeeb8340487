// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package events

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/logging"
)

// Bus is the lifecycle event stream. Publishing never blocks the
// orchestration path: marshal or transport errors are logged and counted,
// not propagated to the caller's control flow.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	serializer *Serializer
	logger     watermill.LoggerAdapter

	mu     sync.Mutex
	closed bool
}

// NewBus builds the bus for the configured transport. "gochannel" keeps
// everything in-process; "nats" connects to cfg.URL.
func NewBus(cfg config.EventsConfig) (*Bus, error) {
	logger := NewWatermillLogger()

	switch cfg.Transport {
	case "", "gochannel":
		ps := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(cfg.BufferSize),
		}, logger)
		return &Bus{publisher: ps, subscriber: ps, serializer: NewSerializer(), logger: logger}, nil

	case "nats":
		natsOpts := []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(time.Second),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				if err != nil {
					logger.Error("NATS disconnected", err, nil)
				}
			}),
			natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
				logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
			}),
		}

		pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
			URL:         cfg.URL,
			NatsOptions: natsOpts,
			Marshaler:   &wmNats.NATSMarshaler{},
			JetStream:   wmNats.JetStreamConfig{Disabled: true},
		}, logger)
		if err != nil {
			return nil, errs.Wrap(errs.KindInit, "events.NewBus", err)
		}

		sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
			URL:         cfg.URL,
			NatsOptions: natsOpts,
			Unmarshaler: &wmNats.NATSMarshaler{},
			JetStream:   wmNats.JetStreamConfig{Disabled: true},
		}, logger)
		if err != nil {
			return nil, errs.Wrap(errs.KindInit, "events.NewBus", err)
		}
		return &Bus{publisher: pub, subscriber: sub, serializer: NewSerializer(), logger: logger}, nil

	default:
		return nil, errs.New(errs.KindInit, "events.NewBus", "unknown transport %q", cfg.Transport)
	}
}

// Publish emits an event on its topic. Failures are logged, never fatal to
// the caller.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	data, err := b.serializer.Marshal(&event)
	if err != nil {
		logging.Err(err).Str("type", event.Type).Msg("event serialization failed")
		return
	}

	msg := message.NewMessage(event.EventID, data)
	msg.Metadata.Set("type", event.Type)
	msg.Metadata.Set("component", event.Component)

	if err := b.publisher.Publish(TopicFor(event.Type), msg); err != nil {
		logging.Err(err).Str("type", event.Type).Msg("event publish failed")
	}
}

// Subscribe returns the decoded event stream for a topic. The channel
// closes when ctx is cancelled or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	msgs, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, errs.Wrap(errs.KindCommunication, "events.Subscribe", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range msgs {
			event, err := b.serializer.Unmarshal(msg.Payload)
			if err != nil {
				logging.Err(err).Str("message", msg.UUID).Msg("dropping undecodable event")
				msg.Ack()
				continue
			}
			select {
			case out <- *event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the transport down. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.publisher.Close()
	if any(b.subscriber) != any(b.publisher) {
		if serr := b.subscriber.Close(); err == nil {
			err = serr
		}
	}
	if err != nil {
		return errs.Wrap(errs.KindInternal, "events.Close", err)
	}
	return nil
}
