// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/syncrelay/config.yaml",
	"/etc/syncrelay/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             5000,
			Timeout:          30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CORSOrigins:      []string{"*"},
			UpgradeRateLimit: 120,
		},
		Relay: RelayConfig{
			MaxMessageSize:        1 << 20,
			MaxConnectionsPerPath: 0,
			OperationTimeout:      30 * time.Second,
			AutoCleanup:           true,
			MessageRate:           0,
			MessageBurst:          100,
			MaxBufferedMessages:   1000,
			SendQueueSize:         256,
			WriteTimeout:          10 * time.Second,
			PingInterval:          54 * time.Second,
			PathPattern:           "",
			MaxPathLength:         256,
		},
		Persister: PersisterConfig{
			Backend:      "memory",
			SaveInterval: 5 * time.Second,
			Badger: BadgerConfig{
				Path:       "/data/syncrelay/badger",
				SyncWrites: false,
			},
			SQLite: SQLConfig{Path: "/data/syncrelay/documents.sqlite"},
			DuckDB: SQLConfig{Path: "/data/syncrelay/documents.duckdb"},
			Postgres: PostgresConfig{
				MinConns: 1,
				MaxConns: 10,
			},
			Mongo: MongoConfig{
				URI:         "mongodb://127.0.0.1:27017",
				Database:    "syncrelay",
				Collection:  "documents",
				MaxPoolSize: 20,
				Timeout:     10 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				MaxRequests:      3,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			SubjectPrefix:  "syncrelay",
			QueueSize:      1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration with precedence ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigFilePath returns the config file that LoadWithKoanf would read.
func ConfigFilePath() string {
	return findConfigFile()
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values of slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to config keys.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_timeout":          "server.timeout",
	"ws_handshake_timeout":  "server.handshake_timeout",
	"ws_read_buffer_size":   "server.read_buffer_size",
	"ws_write_buffer_size":  "server.write_buffer_size",
	"cors_origins":          "server.cors_origins",
	"ws_upgrade_rate_limit": "server.upgrade_rate_limit",

	// Relay
	"relay_max_message_size":         "relay.max_message_size",
	"relay_max_connections_per_path": "relay.max_connections_per_path",
	"relay_operation_timeout":        "relay.operation_timeout",
	"relay_auto_cleanup":             "relay.auto_cleanup",
	"relay_message_rate":             "relay.message_rate",
	"relay_message_burst":            "relay.message_burst",
	"relay_max_buffered_messages":    "relay.max_buffered_messages",
	"relay_send_queue_size":          "relay.send_queue_size",
	"relay_write_timeout":            "relay.write_timeout",
	"relay_ping_interval":            "relay.ping_interval",
	"relay_path_pattern":             "relay.path_pattern",
	"relay_max_path_length":          "relay.max_path_length",

	// Persister
	"persister_backend":       "persister.backend",
	"persister_save_interval": "persister.save_interval",
	"badger_path":             "persister.badger.path",
	"badger_sync_writes":      "persister.badger.sync_writes",
	"badger_in_memory":        "persister.badger.in_memory",
	"sqlite_path":             "persister.sqlite.path",
	"duckdb_path":             "persister.duckdb.path",
	"postgres_dsn":            "persister.postgres.dsn",
	"postgres_min_conns":      "persister.postgres.min_conns",
	"postgres_max_conns":      "persister.postgres.max_conns",
	"mongo_uri":               "persister.mongo.uri",
	"mongo_database":          "persister.mongo.database",
	"mongo_collection":        "persister.mongo.collection",
	"mongo_max_pool_size":     "persister.mongo.max_pool_size",
	"mongo_timeout":           "persister.mongo.timeout",
	"breaker_enabled":         "persister.circuit_breaker.enabled",
	"breaker_max_requests":    "persister.circuit_breaker.max_requests",
	"breaker_interval":        "persister.circuit_breaker.interval",
	"breaker_timeout":         "persister.circuit_breaker.timeout",
	"breaker_failures":        "persister.circuit_breaker.failure_threshold",

	// NATS
	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_embedded":       "nats.embedded_server",
	"nats_subject_prefix": "nats.subject_prefix",
	"nats_queue_size":     "nats.queue_size",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to a config key, or
// "" to skip it.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// envNameFor returns the environment variable that sets a config key, for
// error messages.
func envNameFor(configKey string) string {
	for envName, key := range envMappings {
		if key == configKey {
			return strings.ToUpper(envName)
		}
	}
	return configKey
}

// WatchConfigFile calls callback whenever the file at path changes. The
// callback must synchronize its own access to configuration.
func WatchConfigFile(path string, callback func()) error {
	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
