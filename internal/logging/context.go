// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	pathIDKey        contextKey = "path_id"
	clientIDKey      contextKey = "client_id"
)

// GenerateCorrelationID returns a short random id for grouping log lines of
// one connection or request.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a context carrying id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation id or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithConnection tags ctx with the path and client of a relay
// connection. Log lines produced through Ctx carry both ids.
func ContextWithConnection(ctx context.Context, pathID, clientID string) context.Context {
	ctx = context.WithValue(ctx, pathIDKey, pathID)
	ctx = context.WithValue(ctx, clientIDKey, clientID)
	if CorrelationIDFromContext(ctx) == "" {
		ctx = ContextWithCorrelationID(ctx, GenerateCorrelationID())
	}
	return ctx
}

// ConnectionFromContext returns the path and client ids stored by
// ContextWithConnection.
func ConnectionFromContext(ctx context.Context) (pathID, clientID string) {
	pathID, _ = ctx.Value(pathIDKey).(string)
	clientID, _ = ctx.Value(clientIDKey).(string)
	return pathID, clientID
}

// Ctx returns the global logger enriched with whatever ids ctx carries.
//
//	logging.Ctx(ctx).Info().Msg("Client connected")
func Ctx(ctx context.Context) *zerolog.Logger {
	lc := Logger().With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		lc = lc.Str("correlation_id", id)
	}
	pathID, clientID := ConnectionFromContext(ctx)
	if pathID != "" {
		lc = lc.Str("path_id", pathID)
	}
	if clientID != "" {
		lc = lc.Str("client_id", clientID)
	}
	l := lc.Logger()
	return &l
}
