// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/syncrelay/internal/events"
)

// EventRunner matches the events.Publisher drain loop.
type EventRunner interface {
	Run(ctx context.Context) error
}

// EventPublisherService runs the lifecycle event queue drain loop. A closed
// publisher is not restarted.
type EventPublisherService struct {
	publisher EventRunner
	name      string
}

// NewEventPublisherService wraps publisher as a supervised service.
func NewEventPublisherService(publisher EventRunner) *EventPublisherService {
	return &EventPublisherService{publisher: publisher, name: "event-publisher"}
}

// Serve implements suture.Service.
func (s *EventPublisherService) Serve(ctx context.Context) error {
	err := s.publisher.Run(ctx)
	if errors.Is(err, events.ErrPublisherClosed) {
		return suture.ErrDoNotRestart
	}
	return err
}

// String implements fmt.Stringer for logging.
func (s *EventPublisherService) String() string {
	return s.name
}

// NATSServerService runs the embedded NATS server under supervision.
//
//  1. Starts the server and waits until it accepts connections
//  2. Blocks until the context is canceled
//  3. Shuts the server down with the configured timeout
type NATSServerService struct {
	cfg             events.ServerConfig
	shutdownTimeout time.Duration
	name            string

	mu        sync.Mutex
	clientURL string
}

// NewNATSServerService creates an embedded NATS server service.
func NewNATSServerService(cfg events.ServerConfig, shutdownTimeout time.Duration) *NATSServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &NATSServerService{
		cfg:             cfg,
		shutdownTimeout: shutdownTimeout,
		name:            "nats-server",
	}
}

// Serve implements suture.Service.
func (s *NATSServerService) Serve(ctx context.Context) error {
	srv, err := events.NewEmbeddedServer(s.cfg)
	if err != nil {
		return fmt.Errorf("embedded NATS start failed: %w", err)
	}
	s.setClientURL(srv.ClientURL())
	defer s.setClientURL("")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("embedded NATS shutdown failed: %w", err)
	}
	return ctx.Err()
}

// ClientURL returns the running server's client URL, or "" when it is
// not running.
func (s *NATSServerService) ClientURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientURL
}

func (s *NATSServerService) setClientURL(url string) {
	s.mu.Lock()
	s.clientURL = url
	s.mu.Unlock()
}

// String implements fmt.Stringer for logging.
func (s *NATSServerService) String() string {
	return s.name
}
