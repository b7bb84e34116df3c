// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package resource manages the per-path server-side resource lifecycle.
//
// The Manager creates a PathResource lazily through a Factory, at most once
// per path at a time, drives it through Configure and Start when the first
// client arrives and removes it with Stop when the path empties. Start and
// Stop are bounded by the operation timeout. Their failures are forwarded to
// the ErrorHandler and never leave a resource stuck in Starting.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the resource's current state.
	ErrInvalidTransition = errors.New("invalid resource state transition")

	// ErrStopped is returned when operating on a resource that was removed.
	ErrStopped = errors.New("resource stopped")
)

// Factory builds the persister for a path. Returning a nil Persister and a
// nil error means the path is not served and the connection must be refused.
type Factory func(ctx context.Context, pathID string) (Persister, error)

// LoadCallback is invoked by Configure with the resource's persister.
type LoadCallback func(p Persister) error

// ErrorHandler receives errors that are absorbed rather than returned.
type ErrorHandler func(pathID, operation string, err error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// OperationTimeout bounds factory, Start and Stop calls.
	OperationTimeout time.Duration

	// MaxPending caps the server-targeted messages a resource holds while
	// it is not ready. Zero means unbounded.
	MaxPending int

	// OnError receives ignored errors. Defaults to logging them.
	OnError ErrorHandler
}

// Manager owns the path resources.
type Manager struct {
	factory    Factory
	timeout    time.Duration
	maxPending int
	onError    ErrorHandler

	mu        sync.Mutex
	resources map[string]*PathResource
	stopping  map[string]chan struct{}

	group singleflight.Group
}

// NewManager creates a Manager.
func NewManager(factory Factory, cfg ManagerConfig) *Manager {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.OnError == nil {
		cfg.OnError = logIgnoredError
	}
	return &Manager{
		factory:    factory,
		timeout:    cfg.OperationTimeout,
		maxPending: cfg.MaxPending,
		onError:    cfg.OnError,
		resources:  make(map[string]*PathResource),
		stopping:   make(map[string]chan struct{}),
	}
}

func logIgnoredError(pathID, operation string, err error) {
	logging.Warn().Err(err).Str("path_id", pathID).Str("operation", operation).Msg("Path resource error ignored")
}

// Get returns the registered resource for pathID.
func (m *Manager) Get(pathID string) (*PathResource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[pathID]
	return r, ok
}

// GetOrCreate returns the resource for pathID, creating it with the factory
// if none is registered. Concurrent calls for the same new path share one
// factory invocation. A nil resource with a nil error means the factory
// declined the path.
func (m *Manager) GetOrCreate(ctx context.Context, pathID string) (*PathResource, error) {
	if r, ok := m.Get(pathID); ok {
		return r, nil
	}

	v, err, _ := m.group.Do(pathID, func() (interface{}, error) {
		if err := m.waitStopped(ctx, pathID); err != nil {
			return nil, err
		}
		if r, ok := m.Get(pathID); ok {
			return r, nil
		}

		fctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		start := time.Now()
		p, err := m.factory(fctx, pathID)
		metrics.RecordResourceOperation("create", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("create resource for path %q: %w", pathID, err)
		}
		if p == nil {
			return nil, nil
		}

		r := newPathResource(pathID, p, m.maxPending)
		m.mu.Lock()
		m.resources[pathID] = r
		metrics.ActiveResources.Set(float64(len(m.resources)))
		m.mu.Unlock()

		logging.Debug().Str("path_id", pathID).Msg("Path resource created")
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	r, _ := v.(*PathResource)
	return r, nil
}

// waitStopped blocks while a Stop of pathID is in progress so that the old
// persister finishes before a new one is built.
func (m *Manager) waitStopped(ctx context.Context, pathID string) error {
	m.mu.Lock()
	ch, ok := m.stopping[pathID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Configure moves r from Ready to Configured, stores send and invokes
// onLoadComplete with the persister. Callback failures and panics go to the
// error handler.
func (m *Manager) Configure(pathID string, r *PathResource, send SendFunc, onLoadComplete LoadCallback) error {
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return ErrStopped
	}
	if r.state != Ready {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("configure path %q in state %s: %w", pathID, state, ErrInvalidTransition)
	}
	r.send = send
	r.setState(Configured)
	r.mu.Unlock()

	if onLoadComplete != nil {
		m.invokeLoad(pathID, r, onLoadComplete)
	}
	return nil
}

func (m *Manager) invokeLoad(pathID string, r *PathResource, fn LoadCallback) {
	defer func() {
		if rec := recover(); rec != nil {
			m.onError(pathID, "load", fmt.Errorf("load callback panic: %v", rec))
		}
	}()
	if err := fn(r.persister); err != nil {
		m.onError(pathID, "load", err)
	}
}

// Start runs the persister's Start under the operation timeout. The resource
// returns to Ready whether or not Start succeeds; on failure the error is
// forwarded to the error handler and also returned. Messages buffered while
// the resource was not ready are then delivered through the send function.
func (m *Manager) Start(ctx context.Context, pathID string, r *PathResource) error {
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return ErrStopped
	}
	switch r.state {
	case Ready, Configured:
		r.setState(Starting)
	case Starting:
		r.mu.Unlock()
		return fmt.Errorf("start path %q: already starting: %w", pathID, ErrInvalidTransition)
	}
	r.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	began := time.Now()
	err := r.persister.Start(sctx)
	metrics.RecordResourceOperation("start", time.Since(began), err)
	if err != nil {
		err = fmt.Errorf("start path %q: %w", pathID, err)
		m.onError(pathID, "start", err)
	}

	m.becomeReady(ctx, r)

	if err == nil {
		logging.Info().Str("path_id", pathID).Dur("took", time.Since(began)).Msg("Path resource started")
	}
	return err
}

func (m *Manager) becomeReady(ctx context.Context, r *PathResource) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	r.setState(Ready)
	var pending []string
	send := r.send
	if send != nil && !r.removed {
		pending = r.takePending()
	}
	r.mu.Unlock()
	r.signalReady()

	for _, envelope := range pending {
		if err := send(ctx, envelope); err != nil {
			m.onError(r.PathID, "drain", err)
		}
	}
}

// Stop removes the resource for pathID and stops its persister under the
// operation timeout. Errors are forwarded, never returned.
func (m *Manager) Stop(ctx context.Context, pathID string) {
	m.mu.Lock()
	r, ok := m.resources[pathID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.resources, pathID)
	done := make(chan struct{})
	m.stopping[pathID] = done
	metrics.ActiveResources.Set(float64(len(m.resources)))
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.stopping, pathID)
		m.mu.Unlock()
		close(done)
	}()

	r.mu.Lock()
	r.removed = true
	dropped := r.takePending()
	r.mu.Unlock()
	if len(dropped) > 0 {
		logging.Warn().Str("path_id", pathID).Int("dropped", len(dropped)).Msg("Discarding undelivered server messages")
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	began := time.Now()
	err := r.persister.Stop(sctx)
	metrics.RecordResourceOperation("stop", time.Since(began), err)
	if err != nil {
		m.onError(pathID, "stop", fmt.Errorf("stop path %q: %w", pathID, err))
		return
	}
	logging.Info().Str("path_id", pathID).Msg("Path resource stopped")
}

// StopAll stops every registered resource concurrently.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.resources))
	for id := range m.resources {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Stop(ctx, id)
		}(id)
	}
	wg.Wait()
}

// Info describes a registered resource.
type Info struct {
	PathID  string `json:"path_id"`
	State   string `json:"state"`
	Pending int    `json:"pending"`
}

// Snapshot lists the registered resources.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	rs := make([]*PathResource, 0, len(m.resources))
	for _, r := range m.resources {
		rs = append(rs, r)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(rs))
	for _, r := range rs {
		r.mu.Lock()
		out = append(out, Info{PathID: r.PathID, State: r.state.String(), Pending: len(r.pending)})
		r.mu.Unlock()
	}
	return out
}
