// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package persister

import (
	"context"
	"errors"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
)

// Breaker fails fast while the wrapped backend keeps erroring.
//
// A missing document is not a failure: Load returns an empty document for it.
// Context cancellation is also excluded so that shutdown timeouts do not
// trip the breaker.
type Breaker struct {
	next Backend
	cb   *gobreaker.CircuitBreaker[interface{}]
	name string
}

// WithCircuitBreaker wraps b with a breaker configured from cfg.
func WithCircuitBreaker(b Backend, cfg config.CircuitBreakerConfig) *Breaker {
	name := "persister-" + b.Name()

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Breaker{next: b, cb: cb, name: name}
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return result, err
}

func (b *Breaker) Name() string { return b.next.Name() }

func (b *Breaker) Load(ctx context.Context, pathID string) (Document, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.next.Load(ctx, pathID)
	})
	if err != nil {
		return nil, err
	}
	doc, _ := result.(Document)
	return doc, nil
}

func (b *Breaker) Save(ctx context.Context, pathID string, doc Document) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.next.Save(ctx, pathID, doc)
	})
	return err
}

func (b *Breaker) Delete(ctx context.Context, pathID string) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, pathID)
	})
	return err
}

func (b *Breaker) Close() error { return b.next.Close() }

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
