// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package testinfra starts database containers for integration tests.
//
// It uses testcontainers-go, so every file is behind the integration build
// tag and tests must skip when Docker is unavailable:
//
//	func TestPostgresBackend(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, pg.Container)
//
//	    backend, err := persister.OpenPostgres(ctx, config.PostgresConfig{DSN: pg.DSN, MaxConns: 4})
//	    // ...
//	}
//
// Run with:
//
//	go test -tags integration ./internal/persister/...
package testinfra
