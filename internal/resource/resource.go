// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package resource

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/syncrelay/internal/metrics"
)

// State is the lifecycle state of a PathResource.
//
//	Ready -> Configured -> Starting -> Ready
//
// A failed start also returns to Ready. Stopped resources are removed from
// the manager rather than moved to a terminal state.
type State int

const (
	Ready State = iota
	Configured
	Starting
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Configured:
		return "configured"
	case Starting:
		return "starting"
	default:
		return "unknown"
	}
}

// Persister is the server-side component owned by a path resource.
type Persister interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SendFunc delivers an enveloped server-targeted message to the persister.
type SendFunc func(ctx context.Context, envelope string) error

// PathResource wraps the persister of one path together with its state, its
// send function and the messages that arrived before it was ready.
type PathResource struct {
	PathID string

	persister Persister

	mu         sync.Mutex
	state      State
	send       SendFunc
	pending    []string
	maxPending int
	removed    bool

	// sendMu orders live deliveries after the drain of pending messages.
	sendMu sync.Mutex

	claimed atomic.Bool
	readyCh chan struct{}
	once    sync.Once
}

func newPathResource(pathID string, p Persister, maxPending int) *PathResource {
	return &PathResource{
		PathID:     pathID,
		persister:  p,
		state:      Ready,
		maxPending: maxPending,
		readyCh:    make(chan struct{}),
	}
}

// Persister returns the owned persister handle.
func (r *PathResource) Persister() Persister {
	return r.persister
}

// State returns the current state.
func (r *PathResource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsReady reports whether messages can be routed to the path right away:
// the resource is Ready, has a send function and has not been stopped.
func (r *PathResource) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isReadyLocked()
}

func (r *PathResource) isReadyLocked() bool {
	return r.state == Ready && r.send != nil && !r.removed
}

// Removed reports whether the resource was stopped and dropped from its
// manager. A removed resource never becomes ready again.
func (r *PathResource) Removed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed
}

// ReadyC is closed the first time the resource finishes starting.
func (r *PathResource) ReadyC() <-chan struct{} {
	return r.readyCh
}

// ClaimStartup returns true for exactly one caller over the resource's
// lifetime. The winner is responsible for Configure and Start.
func (r *PathResource) ClaimStartup() bool {
	return r.claimed.CompareAndSwap(false, true)
}

// PendingLen returns the number of messages waiting for the resource.
func (r *PathResource) PendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Deliver sends envelope through the send function when the resource is
// ready, otherwise appends it to the pending buffer, discarding the oldest
// message once the buffer is full. It reports whether the message was
// delivered live.
func (r *PathResource) Deliver(ctx context.Context, envelope string) (bool, error) {
	r.mu.Lock()
	if !r.isReadyLocked() {
		if r.maxPending > 0 && len(r.pending) >= r.maxPending {
			r.pending[0] = ""
			r.pending = r.pending[1:]
			metrics.BufferOverflows.Inc()
			metrics.BufferedMessages.Dec()
		}
		r.pending = append(r.pending, envelope)
		r.mu.Unlock()
		metrics.BufferedMessages.Inc()
		return false, nil
	}
	send := r.send
	r.mu.Unlock()

	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return true, send(ctx, envelope)
}

// setState must be called with mu held.
func (r *PathResource) setState(to State) {
	if r.state != to {
		metrics.RecordResourceTransition(r.state.String(), to.String())
	}
	r.state = to
}

// takePending must be called with mu held.
func (r *PathResource) takePending() []string {
	out := r.pending
	r.pending = nil
	if len(out) > 0 {
		metrics.BufferedMessages.Sub(float64(len(out)))
	}
	return out
}

func (r *PathResource) signalReady() {
	r.once.Do(func() { close(r.readyCh) })
}
