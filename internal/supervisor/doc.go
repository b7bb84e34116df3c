// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package supervisor provides process supervision for SyncRelay using suture v4.

The tree organizes long-running services into two layers:

	root ("syncrelay")
	├── Messaging ("messaging-layer")
	│   ├── NATSServerService (if NATS_EMBEDDED)
	│   └── EventPublisherService (if NATS_ENABLED)
	└── API ("api-layer")
	    └── RelayService

Crashed services restart with suture's backoff. Each layer counts failures
independently, so a NATS outage that keeps the publisher restarting does not
touch the relay and its client connections.

# Usage

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if _, err := tree.Add(supervisor.API, services.NewRelayService(relaySvc, httpServer, 10*time.Second)); err != nil {
	    return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := tree.ServeBackground(ctx)
	<-ctx.Done()
	<-errCh

	if report, _ := tree.UnstoppedServiceReport(); len(report) > 0 {
	    // log services that ignored the shutdown timeout
	}

Supervisor events (restarts, backoff, timeouts) are logged through the
sutureslog hook. A nil logger uses the global zerolog logger through the
logging package's slog bridge.
*/
package supervisor
