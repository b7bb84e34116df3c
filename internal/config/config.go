// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package config loads SyncRelay configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in values from defaultConfig()
//  2. Config File: optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment Variables: the names listed in envMappings
//
// The result is validated with struct tags (go-playground/validator) and
// then with cross-field checks in Validate.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Relay     RelayConfig     `koanf:"relay"`
	Persister PersisterConfig `koanf:"persister"`
	NATS      NATSConfig      `koanf:"nats"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener and WebSocket upgrades.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	// Timeout bounds HTTP reads and writes of the monitoring API and the
	// graceful shutdown of the listener.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// HandshakeTimeout bounds the WebSocket upgrade.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`

	// ReadBufferSize is the receive buffer size of each socket in bytes.
	ReadBufferSize  int `koanf:"read_buffer_size" validate:"min=256,max=1048576"`
	WriteBufferSize int `koanf:"write_buffer_size" validate:"min=256,max=1048576"`

	// CORSOrigins lists origins allowed to call the API and open sockets.
	// "*" allows any origin.
	CORSOrigins []string `koanf:"cors_origins"`

	// UpgradeRateLimit is the number of upgrades per IP per minute. Zero
	// disables the limit.
	UpgradeRateLimit int `koanf:"upgrade_rate_limit" validate:"min=0"`
}

// RelayConfig configures connection handling and path resources.
type RelayConfig struct {
	// MaxMessageSize is the largest accepted inbound frame in bytes.
	MaxMessageSize int64 `koanf:"max_message_size" validate:"min=64"`

	// MaxConnectionsPerPath caps clients on one path. Zero means unlimited.
	MaxConnectionsPerPath int `koanf:"max_connections_per_path" validate:"min=0"`

	// OperationTimeout bounds path resource start and stop.
	OperationTimeout time.Duration `koanf:"operation_timeout" validate:"gt=0"`

	// AutoCleanup stops a path's resource when its last client leaves.
	AutoCleanup bool `koanf:"auto_cleanup"`

	// MessageRate is the sustained inbound frames per second per
	// connection. Zero disables rate limiting.
	MessageRate  float64 `koanf:"message_rate" validate:"min=0"`
	MessageBurst int     `koanf:"message_burst" validate:"min=0"`

	// MaxBufferedMessages caps each per-client pending buffer.
	MaxBufferedMessages int `koanf:"max_buffered_messages" validate:"min=0"`

	// SendQueueSize is the number of outbound frames queued per socket.
	SendQueueSize int `koanf:"send_queue_size" validate:"min=1"`

	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	PingInterval time.Duration `koanf:"ping_interval" validate:"gt=0"`

	// PathPattern is an optional regular expression path ids must match to
	// get a server-side store. Non-matching paths are refused.
	PathPattern string `koanf:"path_pattern"`

	MaxPathLength int `koanf:"max_path_length" validate:"min=1,max=1024"`
}

// PersisterConfig selects and configures the document store backend.
type PersisterConfig struct {
	Backend string `koanf:"backend" validate:"backend"`

	// SaveInterval is how often dirty documents are flushed.
	SaveInterval time.Duration `koanf:"save_interval" validate:"gt=0"`

	Badger         BadgerConfig         `koanf:"badger"`
	SQLite         SQLConfig            `koanf:"sqlite"`
	DuckDB         SQLConfig            `koanf:"duckdb"`
	Postgres       PostgresConfig       `koanf:"postgres"`
	Mongo          MongoConfig          `koanf:"mongo"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// BadgerConfig configures the embedded BadgerDB backend.
type BadgerConfig struct {
	Path       string `koanf:"path"`
	SyncWrites bool   `koanf:"sync_writes"`
	InMemory   bool   `koanf:"in_memory"`
}

// SQLConfig configures a database/sql file backend (SQLite or DuckDB).
type SQLConfig struct {
	Path string `koanf:"path"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MinConns int    `koanf:"min_conns" validate:"min=0"`
	MaxConns int    `koanf:"max_conns" validate:"min=1"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI         string        `koanf:"uri"`
	Database    string        `koanf:"database"`
	Collection  string        `koanf:"collection"`
	MaxPoolSize uint64        `koanf:"max_pool_size"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
}

// CircuitBreakerConfig configures the breaker in front of the backend.
type CircuitBreakerConfig struct {
	Enabled bool `koanf:"enabled"`

	// MaxRequests is the number of trial requests in half-open state.
	MaxRequests uint32 `koanf:"max_requests" validate:"min=1"`

	// Interval resets the failure counts while closed.
	Interval time.Duration `koanf:"interval"`

	// Timeout is how long the breaker stays open.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// FailureThreshold is the number of consecutive failures that opens it.
	FailureThreshold uint32 `koanf:"failure_threshold" validate:"min=1"`
}

// NATSConfig configures lifecycle event publishing.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	SubjectPrefix  string `koanf:"subject_prefix"`

	// QueueSize is the number of events buffered before dropping.
	QueueSize int `koanf:"queue_size" validate:"min=1"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, the optional config file and
// environment variables.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
