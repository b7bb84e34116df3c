// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRoute(t *testing.T) {
	kinds := []string{RouteBroadcast, RouteServer, RouteBuffered, RouteDirect, RouteDropped, RouteRaw}

	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			before := testutil.ToFloat64(MessagesRouted.WithLabelValues(kind))
			RecordRoute(kind)
			after := testutil.ToFloat64(MessagesRouted.WithLabelValues(kind))
			if after != before+1 {
				t.Errorf("MessagesRouted{kind=%q} = %v, want %v", kind, after, before+1)
			}
		})
	}
}

func TestRecordResourceOperation(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		err       error
		wantErrs  float64
	}{
		{"successful start", "start", nil, 0},
		{"failed start", "start", errors.New("load failed"), 1},
		{"failed stop", "stop", errors.New("save failed"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(ResourceErrors.WithLabelValues(tt.operation))
			RecordResourceOperation(tt.operation, 25*time.Millisecond, tt.err)
			after := testutil.ToFloat64(ResourceErrors.WithLabelValues(tt.operation))
			if after-before != tt.wantErrs {
				t.Errorf("ResourceErrors delta = %v, want %v", after-before, tt.wantErrs)
			}
		})
	}
}

func TestRecordPersisterOperation(t *testing.T) {
	before := testutil.ToFloat64(PersisterErrors.WithLabelValues("memory", "save"))
	RecordPersisterOperation("memory", "save", time.Millisecond, errors.New("boom"))
	RecordPersisterOperation("memory", "save", time.Millisecond, nil)
	after := testutil.ToFloat64(PersisterErrors.WithLabelValues("memory", "save"))
	if after != before+1 {
		t.Errorf("PersisterErrors = %v, want %v", after, before+1)
	}
}

func TestUpdateRegistryGauges(t *testing.T) {
	UpdateRegistryGauges(3, 11)
	if got := testutil.ToFloat64(ActivePaths); got != 3 {
		t.Errorf("ActivePaths = %v, want 3", got)
	}
	if got := testutil.ToFloat64(ActiveConnections); got != 11 {
		t.Errorf("ActiveConnections = %v, want 11", got)
	}
	UpdateRegistryGauges(0, 0)
}

func TestRecordInboundAndRejected(t *testing.T) {
	before := testutil.ToFloat64(MessagesReceived)
	RecordInbound(128)
	if got := testutil.ToFloat64(MessagesReceived); got != before+1 {
		t.Errorf("MessagesReceived = %v, want %v", got, before+1)
	}

	beforeDup := testutil.ToFloat64(ConnectionsRejected.WithLabelValues("duplicate"))
	RecordRejected("duplicate")
	if got := testutil.ToFloat64(ConnectionsRejected.WithLabelValues("duplicate")); got != beforeDup+1 {
		t.Errorf("ConnectionsRejected{duplicate} = %v, want %v", got, beforeDup+1)
	}
}

func TestRecordEvents(t *testing.T) {
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("syncrelay.path"))
	RecordEventPublished("syncrelay.path")
	if got := testutil.ToFloat64(EventsPublished.WithLabelValues("syncrelay.path")); got != before+1 {
		t.Errorf("EventsPublished = %v, want %v", got, before+1)
	}

	beforeDrop := testutil.ToFloat64(EventsDropped.WithLabelValues("queue_full"))
	RecordEventDropped("queue_full")
	if got := testutil.ToFloat64(EventsDropped.WithLabelValues("queue_full")); got != beforeDrop+1 {
		t.Errorf("EventsDropped = %v, want %v", got, beforeDrop+1)
	}
}
