// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RelayRunner matches the relay.Service lifecycle.
//
// Satisfied by *relay.Service:
//   - Start(ctx context.Context) error - opens the listener and accepts connections
//   - Stop(ctx context.Context) error - closes every connection and resource
type RelayRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ListenerErrors reports a listener failure after the relay started.
// Satisfied by *api.Server.
type ListenerErrors interface {
	Errors() <-chan error
}

// errListenerStopped is returned when the listener ends without an error
// while the relay should still be serving.
var errListenerStopped = errors.New("listener stopped unexpectedly")

// RelayService wraps the relay as a supervised service.
//
// It adapts the Start/Stop lifecycle to suture's Serve pattern:
//  1. Calls Start(ctx), which binds the listener
//  2. Waits for context cancellation or a listener failure
//  3. Calls Stop with the shutdown timeout
//
// A listener failure stops the relay and returns an error so suture
// restarts the whole service.
type RelayService struct {
	relay           RelayRunner
	listener        ListenerErrors
	shutdownTimeout time.Duration
	name            string
}

// NewRelayService creates a relay service wrapper. listener may be nil
// when the relay has no listener to watch.
func NewRelayService(relay RelayRunner, listener ListenerErrors, shutdownTimeout time.Duration) *RelayService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &RelayService{
		relay:           relay,
		listener:        listener,
		shutdownTimeout: shutdownTimeout,
		name:            "relay",
	}
}

// Serve implements suture.Service.
func (s *RelayService) Serve(ctx context.Context) error {
	if err := s.relay.Start(ctx); err != nil {
		return fmt.Errorf("relay start failed: %w", err)
	}

	var errCh <-chan error
	if s.listener != nil {
		errCh = s.listener.Errors()
	}

	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			err = errListenerStopped
		} else {
			err = fmt.Errorf("listener failed: %w", err)
		}
		if stopErr := s.stop(); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err

	case <-ctx.Done():
		// The original context is canceled; Stop gets a fresh one.
		if err := s.stop(); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *RelayService) stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.relay.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("relay stop failed: %w", err)
	}
	return nil
}

// String implements fmt.Stringer for logging.
func (s *RelayService) String() string {
	return s.name
}
