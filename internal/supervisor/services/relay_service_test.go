// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// mockRelay is a test double for RelayRunner.
type mockRelay struct {
	startErr   error
	stopErr    error
	startCount atomic.Int32
	stopCount  atomic.Int32
	started    chan struct{}
}

func newMockRelay() *mockRelay {
	return &mockRelay{started: make(chan struct{}, 1)}
}

func (m *mockRelay) Start(ctx context.Context) error {
	m.startCount.Add(1)
	if m.startErr != nil {
		return m.startErr
	}
	select {
	case m.started <- struct{}{}:
	default:
	}
	return nil
}

func (m *mockRelay) Stop(ctx context.Context) error {
	m.stopCount.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("stop context has no deadline")
	}
	return m.stopErr
}

type mockListener struct {
	errCh chan error
}

func (m *mockListener) Errors() <-chan error { return m.errCh }

func TestRelayService_Interface(t *testing.T) {
	var _ suture.Service = (*RelayService)(nil)
}

func TestNewRelayService_DefaultTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, -5 * time.Second} {
		svc := NewRelayService(newMockRelay(), nil, timeout)
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("timeout %v: got %v, want 10s", timeout, svc.shutdownTimeout)
		}
	}
	if got := NewRelayService(newMockRelay(), nil, time.Second).String(); got != "relay" {
		t.Errorf("String() = %q, want relay", got)
	}
}

func TestRelayService_Serve(t *testing.T) {
	t.Run("stops relay on context cancellation", func(t *testing.T) {
		relay := newMockRelay()
		svc := NewRelayService(relay, &mockListener{errCh: make(chan error)}, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		<-relay.started
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Serve() error = %v, want context.Canceled", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Serve did not return")
		}
		if relay.stopCount.Load() != 1 {
			t.Errorf("stop count = %d, want 1", relay.stopCount.Load())
		}
	})

	t.Run("returns start error", func(t *testing.T) {
		relay := newMockRelay()
		relay.startErr = errors.New("address in use")
		svc := NewRelayService(relay, nil, time.Second)

		err := svc.Serve(context.Background())
		if err == nil || !errors.Is(err, relay.startErr) {
			t.Errorf("Serve() error = %v, want wrapped start error", err)
		}
		if relay.stopCount.Load() != 0 {
			t.Error("Stop called after failed Start")
		}
	})

	t.Run("listener failure stops relay and returns error", func(t *testing.T) {
		relay := newMockRelay()
		listener := &mockListener{errCh: make(chan error, 1)}
		svc := NewRelayService(relay, listener, time.Second)

		serveErr := errors.New("accept: too many open files")
		listener.errCh <- serveErr

		err := svc.Serve(context.Background())
		if !errors.Is(err, serveErr) {
			t.Errorf("Serve() error = %v, want listener error", err)
		}
		if relay.stopCount.Load() != 1 {
			t.Errorf("stop count = %d, want 1", relay.stopCount.Load())
		}
	})

	t.Run("closed listener channel is a failure", func(t *testing.T) {
		listener := &mockListener{errCh: make(chan error)}
		close(listener.errCh)
		svc := NewRelayService(newMockRelay(), listener, time.Second)

		if err := svc.Serve(context.Background()); !errors.Is(err, errListenerStopped) {
			t.Errorf("Serve() error = %v, want errListenerStopped", err)
		}
	})

	t.Run("stop error is reported", func(t *testing.T) {
		relay := newMockRelay()
		relay.stopErr = errors.New("resource stop timed out")
		svc := NewRelayService(relay, nil, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := svc.Serve(ctx); !errors.Is(err, relay.stopErr) {
			t.Errorf("Serve() error = %v, want stop error", err)
		}
	})
}

func TestRelayService_UnderSupervisor(t *testing.T) {
	relay := newMockRelay()
	listener := &mockListener{errCh: make(chan error, 1)}
	listener.errCh <- errors.New("boom")

	sup := suture.New("test", suture.Spec{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          time.Second,
	})
	sup.Add(NewRelayService(relay, listener, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	errCh := sup.ServeBackground(ctx)

	deadline := time.Now().Add(time.Second)
	for relay.startCount.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if relay.startCount.Load() < 2 {
		t.Errorf("relay started %d times, want restart after listener failure", relay.startCount.Load())
	}

	cancel()
	<-errCh
}
