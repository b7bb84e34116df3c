// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/tomtom215/syncrelay/internal/persister"
	"github.com/tomtom215/syncrelay/internal/resource"
	"github.com/tomtom215/syncrelay/internal/validation"
)

// FactoryOptions selects the paths a factory serves and configures their stores.
type FactoryOptions struct {
	Store Options

	// PathPattern further restricts path ids. Empty accepts every valid id.
	PathPattern string

	// MaxPathLength rejects longer path ids. Zero means no limit.
	MaxPathLength int
}

// NewFactory returns a resource.Factory creating one Store per accepted path.
// Paths that are malformed, too long or outside PathPattern are declined,
// which refuses the connection.
func NewFactory(backend persister.Backend, opts FactoryOptions) (resource.Factory, error) {
	var pattern *regexp.Regexp
	if opts.PathPattern != "" {
		re, err := regexp.Compile(opts.PathPattern)
		if err != nil {
			return nil, fmt.Errorf("compile path pattern: %w", err)
		}
		pattern = re
	}

	return func(_ context.Context, pathID string) (resource.Persister, error) {
		if !Accepts(pathID, pattern, opts.MaxPathLength) {
			return nil, nil
		}
		return New(pathID, backend, opts.Store), nil
	}, nil
}

// Accepts reports whether pathID may be served.
func Accepts(pathID string, pattern *regexp.Regexp, maxLen int) bool {
	if maxLen > 0 && len(pathID) > maxLen {
		return false
	}
	if !validation.IsPathID(pathID) {
		return false
	}
	return pattern == nil || pattern.MatchString(pathID)
}
