// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTreeConfigDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   TreeConfig
		want TreeConfig
	}{
		{name: "zero value", in: TreeConfig{}, want: DefaultTreeConfig()},
		{name: "negative values", in: TreeConfig{FailureThreshold: -1, ShutdownTimeout: -time.Second}, want: DefaultTreeConfig()},
		{
			name: "explicit values kept",
			in:   TreeConfig{FailureThreshold: 2, FailureDecay: 1, FailureBackoff: time.Millisecond, ShutdownTimeout: time.Second},
			want: TreeConfig{FailureThreshold: 2, FailureDecay: 1, FailureBackoff: time.Millisecond, ShutdownTimeout: time.Second},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.withDefaults(); got != tt.want {
				t.Errorf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if got := NewTree(nil, TreeConfig{}).config; got != DefaultTreeConfig() {
		t.Errorf("NewTree config = %+v, want defaults", got)
	}
}

func TestTreeLayout(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{})

	if got := tree.Root().String(); got != "syncrelay" {
		t.Errorf("root name = %q, want syncrelay", got)
	}
	for layer, want := range map[Layer]string{Messaging: "messaging-layer", API: "api-layer"} {
		sup, ok := tree.layers[layer]
		if !ok {
			t.Fatalf("layer %v missing", layer)
		}
		if got := sup.String(); got != want {
			t.Errorf("layer name = %q, want %q", got, want)
		}
	}

	if _, err := tree.Add(Layer(42), NewMockService("stray")); err == nil {
		t.Error("Add to unknown layer should fail")
	}
}

func TestTreeRunsServicesInEachLayer(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})

	publisher := NewMockService("publisher")
	relay := NewMockService("relay")
	if _, err := tree.Add(Messaging, publisher); err != nil {
		t.Fatalf("Add(Messaging) error = %v", err)
	}
	if _, err := tree.Add(API, relay); err != nil {
		t.Fatalf("Add(API) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitFor(t, "services started", func() bool {
		return publisher.StartCount() == 1 && relay.StartCount() == 1
	})
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("ServeBackground() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
	waitFor(t, "services stopped", func() bool {
		return publisher.StopCount() == 1 && relay.StopCount() == 1
	})
	if report, err := tree.UnstoppedServiceReport(); err != nil || len(report) != 0 {
		t.Errorf("UnstoppedServiceReport() = %v, %v", report, err)
	}
}

func TestTreeRemoveStopsService(t *testing.T) {
	tree := NewTree(nil, TreeConfig{ShutdownTimeout: time.Second})

	svc := NewMockService("nats-server")
	token, err := tree.Add(Messaging, svc)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tree.Serve(ctx) }()

	waitFor(t, "service started", func() bool { return svc.StartCount() == 1 })
	if err := tree.Remove(Messaging, token); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	waitFor(t, "service stopped", func() bool { return svc.StopCount() == 1 })

	if err := tree.Remove(Layer(-1), token); err == nil {
		t.Error("Remove from unknown layer should fail")
	}
}

func TestTreeRestartIsolatedToLayer(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	flaky := NewMockService("publisher")
	flaky.SetFailCount(2)
	relay := NewMockService("relay")

	if _, err := tree.Add(Messaging, flaky); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Add(API, relay); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tree.Serve(ctx) }()

	waitFor(t, "flaky service restarted", func() bool { return flaky.StartCount() >= 3 })
	if n := relay.StartCount(); n != 1 {
		t.Errorf("relay starts = %d, want 1", n)
	}
}
