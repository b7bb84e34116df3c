// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package main is the entry point for the SyncRelay server.

SyncRelay accepts WebSocket connections on arbitrary URL paths. Clients on the
same path exchange pipe-delimited messages through the relay, and each path
gets a server-side document store that answers requests addressed to "S" and
persists its document to the configured backend.

# Application Architecture

	RootSupervisor ("syncrelay")
	├── MessagingSupervisor ("messaging-layer")
	│   ├── NATSServerService (NATS_EMBEDDED=true)
	│   └── EventPublisherService (NATS_ENABLED=true)
	└── APISupervisor ("api-layer")
	    └── RelayService (HTTP listener + WebSocket relay)

Initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Persister: memory, badger, sqlite, duckdb, postgres or mongo, behind a circuit breaker
 4. Relay: connection registry, path resources, message router
 5. HTTP: Chi router with monitoring API, /metrics and the WebSocket upgrade handler
 6. Events: optional NATS publisher for relay lifecycle events
 7. Supervisor Tree: Suture v4 process supervision

# Configuration

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	HTTP_HOST=0.0.0.0
	HTTP_PORT=5000
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console
	CORS_ORIGINS=*               # comma separated

	RELAY_MAX_CONNECTIONS_PER_PATH=0
	RELAY_AUTO_CLEANUP=true
	RELAY_MESSAGE_RATE=0         # frames per second per socket, 0 = unlimited
	RELAY_PATH_PATTERN=          # optional regexp for served paths

	PERSISTER_BACKEND=memory     # memory, badger, sqlite, duckdb, postgres, mongo
	PERSISTER_SAVE_INTERVAL=5s
	POSTGRES_DSN=postgres://...
	MONGO_URI=mongodb://...

	NATS_ENABLED=false
	NATS_URL=nats://127.0.0.1:4222
	NATS_EMBEDDED=false
	NATS_SUBJECT_PREFIX=syncrelay

CONFIG_PATH points at an optional YAML file. When it is set, edits to
logging.level are applied without a restart.

# Signal Handling

SIGINT and SIGTERM cancel the supervisor tree. The relay closes every socket
with 1001 (going away), stops all path resources so their documents are saved,
and closes the HTTP listener. Services that miss the shutdown timeout are
reported before the persister backend is closed.
*/
package main
