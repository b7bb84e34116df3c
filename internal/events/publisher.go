// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/relay"
)

// ErrPublisherClosed is returned by Run after Close.
var ErrPublisherClosed = errors.New("event publisher closed")

// PublisherConfig configures the NATS connection and the event queue.
type PublisherConfig struct {
	URL           string
	SubjectPrefix string
	QueueSize     int

	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
}

// DefaultPublisherConfig returns defaults for a local NATS server.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		URL:             natsgo.DefaultURL,
		SubjectPrefix:   "syncrelay",
		QueueSize:       1024,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
	}
}

// PublisherConfigFrom maps the nats config section onto PublisherConfig.
func PublisherConfigFrom(c config.NATSConfig) PublisherConfig {
	cfg := DefaultPublisherConfig()
	if c.URL != "" {
		cfg.URL = c.URL
	}
	if c.SubjectPrefix != "" {
		cfg.SubjectPrefix = c.SubjectPrefix
	}
	if c.QueueSize > 0 {
		cfg.QueueSize = c.QueueSize
	}
	return cfg
}

// ListenerRegistry is the relay surface a Publisher attaches to.
type ListenerRegistry interface {
	AddServerListener(fn relay.ServerListener) string
	AddPathListener(pathID *string, fn relay.PathListener) string
	AddClientListener(pathID *string, fn relay.ClientListener) string
	RemoveListener(id string)
}

// Publisher forwards relay lifecycle events to NATS. Listener callbacks
// only enqueue; Run performs the network writes.
type Publisher struct {
	publisher message.Publisher
	prefix    string
	queue     chan Event
	logger    watermill.LoggerAdapter

	closed atomic.Bool

	mu          sync.Mutex
	listenerIDs []string
}

// NewPublisher connects a Watermill NATS publisher. The connection retries
// in the background, so a NATS server that is down at startup does not
// fail construction.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = logging.NewWatermillAdapter()
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("syncrelay"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
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
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return NewPublisherWith(pub, cfg.SubjectPrefix, cfg.QueueSize, logger), nil
}

// NewPublisherWith wraps an existing Watermill publisher.
func NewPublisherWith(pub message.Publisher, prefix string, queueSize int, logger watermill.LoggerAdapter) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultPublisherConfig().QueueSize
	}
	if prefix == "" {
		prefix = DefaultPublisherConfig().SubjectPrefix
	}
	if logger == nil {
		logger = logging.NewWatermillAdapter()
	}
	return &Publisher{
		publisher: pub,
		prefix:    prefix,
		queue:     make(chan Event, queueSize),
		logger:    logger,
	}
}

// Attach registers the publisher as a listener for every path and for
// relay start and stop.
func (p *Publisher) Attach(r ListenerRegistry) {
	ids := []string{
		r.AddServerListener(func(ev relay.ServerEvent) { p.Enqueue(FromServerEvent(ev)) }),
		r.AddPathListener(nil, func(ev relay.PathEvent) { p.Enqueue(FromPathEvent(ev)) }),
		r.AddClientListener(nil, func(ev relay.ClientEvent) { p.Enqueue(FromClientEvent(ev)) }),
	}
	p.mu.Lock()
	p.listenerIDs = append(p.listenerIDs, ids...)
	p.mu.Unlock()
}

// Detach removes the listeners added by Attach.
func (p *Publisher) Detach(r ListenerRegistry) {
	p.mu.Lock()
	ids := p.listenerIDs
	p.listenerIDs = nil
	p.mu.Unlock()

	for _, id := range ids {
		r.RemoveListener(id)
	}
}

// Enqueue queues ev for publishing. It never blocks; a full queue drops
// the event.
func (p *Publisher) Enqueue(ev Event) bool {
	if p.closed.Load() {
		metrics.RecordEventDropped("closed")
		return false
	}
	select {
	case p.queue <- ev:
		return true
	default:
		metrics.RecordEventDropped("queue_full")
		return false
	}
}

// Pending returns the number of queued events.
func (p *Publisher) Pending() int {
	return len(p.queue)
}

// Run publishes queued events until ctx is canceled, then publishes what
// is still queued and returns ctx.Err().
func (p *Publisher) Run(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case ev := <-p.queue:
			p.publish(ev)
		}
	}
}

// Flush publishes what is queued without waiting for more. Call it after
// Run returned and before Close.
func (p *Publisher) Flush() {
	p.drain()
}

func (p *Publisher) drain() {
	for {
		select {
		case ev := <-p.queue:
			p.publish(ev)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ev Event) {
	data, err := ev.Marshal()
	if err != nil {
		metrics.RecordEventDropped("marshal_error")
		p.logger.Error("Event encode failed", err, watermill.LogFields{"event_id": ev.EventID})
		return
	}

	msg := message.NewMessage(ev.EventID, data)
	msg.Metadata.Set("type", ev.Type)
	msg.Metadata.Set("action", ev.Action)
	if ev.PathID != "" {
		msg.Metadata.Set("path_id", ev.PathID)
	}

	topic := ev.Subject(p.prefix)
	if err := p.publisher.Publish(topic, msg); err != nil {
		metrics.RecordEventDropped("publish_error")
		p.logger.Error("Event publish failed", err, watermill.LogFields{"topic": topic, "event_id": ev.EventID})
		return
	}
	metrics.RecordEventPublished(topic)
}

// Close stops accepting events and closes the underlying publisher.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.publisher.Close(); err != nil {
		return fmt.Errorf("close watermill publisher: %w", err)
	}
	return nil
}

// String implements fmt.Stringer for supervisor logs.
func (p *Publisher) String() string {
	return "event-publisher"
}
