// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/syncrelay/internal/logging"
)

// Layer selects the child supervisor a service runs under.
type Layer int

const (
	// Messaging holds the embedded NATS server and the event publisher.
	Messaging Layer = iota

	// API holds the relay and its HTTP listener.
	API
)

func (l Layer) String() string {
	switch l {
	case Messaging:
		return "messaging-layer"
	case API:
		return "api-layer"
	default:
		return "unknown-layer"
	}
}

// TreeConfig holds the restart policy shared by every supervisor in the tree.
type TreeConfig struct {
	// FailureThreshold is the failure count that triggers backoff.
	FailureThreshold float64

	// FailureDecay is the half-life of the failure count in seconds.
	FailureDecay float64

	// FailureBackoff is the pause once the threshold is crossed.
	FailureBackoff time.Duration

	// ShutdownTimeout is how long each service gets to return from Serve.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig mirrors suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func (c TreeConfig) withDefaults() TreeConfig {
	d := DefaultTreeConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.FailureDecay <= 0 {
		c.FailureDecay = d.FailureDecay
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = d.FailureBackoff
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

func (c TreeConfig) spec(hook suture.EventHook) suture.Spec {
	return suture.Spec{
		EventHook:        hook,
		FailureThreshold: c.FailureThreshold,
		FailureDecay:     c.FailureDecay,
		FailureBackoff:   c.FailureBackoff,
		Timeout:          c.ShutdownTimeout,
	}
}

// Tree is the SyncRelay supervisor: a root with one child per Layer.
// Each layer counts failures on its own.
type Tree struct {
	root   *suture.Supervisor
	layers map[Layer]*suture.Supervisor
	config TreeConfig
}

// NewTree builds the tree. A nil logger sends supervisor events to the
// global zerolog logger.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if logger == nil {
		logger = logging.NewSlogLogger()
	}
	cfg = cfg.withDefaults()

	handler := &sutureslog.Handler{Logger: logger}
	t := &Tree{
		root:   suture.New("syncrelay", cfg.spec(handler.MustHook())),
		layers: make(map[Layer]*suture.Supervisor, 2),
		config: cfg,
	}
	// Layers inherit the root's event hook.
	for _, l := range []Layer{Messaging, API} {
		sup := suture.New(l.String(), cfg.spec(nil))
		t.root.Add(sup)
		t.layers[l] = sup
	}
	return t
}

// Add runs svc under layer.
func (t *Tree) Add(layer Layer, svc suture.Service) (suture.ServiceToken, error) {
	sup, ok := t.layers[layer]
	if !ok {
		return suture.ServiceToken{}, fmt.Errorf("add %v: unknown layer %d", svc, layer)
	}
	return sup.Add(svc), nil
}

// Remove stops and removes a service added to layer.
func (t *Tree) Remove(layer Layer, token suture.ServiceToken) error {
	sup, ok := t.layers[layer]
	if !ok {
		return fmt.Errorf("remove from unknown layer %d", layer)
	}
	return sup.Remove(token)
}

// Root returns the root supervisor.
func (t *Tree) Root() *suture.Supervisor {
	return t.root
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine. The channel yields the
// result of Serve.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that outlived the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
