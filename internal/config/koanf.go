// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

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

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/warehousevault/config.yaml",
	"/etc/warehousevault/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Backup: BackupConfig{
			Dir:              "/data/backups",
			Verify:           false,
			Compression:      "gzip",
			CompressionLevel: 6,
			ChunkSize:        0, // encryption default (1 MiB)
		},
		Encryption: EncryptionConfig{
			Enabled:     true,
			Keys:        []string{},
			RevokedKeys: []string{},
		},
		Retention: RetentionConfig{
			Days:          30,
			MinCount:      3,
			RemoteDays:    0,
			SweepInterval: 6 * time.Hour,
		},
		Schedule: ScheduleConfig{
			Enabled:           false, // opt-in
			Interval:          24 * time.Hour,
			PreferredHour:     2,
			BackupType:        "incremental",
			SkipWhenUnchanged: true,
			SweepAfterBackup:  true,
		},
		Remote: RemoteConfig{
			Backend: "none",
			Prefix:  "warehousevault",
			S3: S3Config{
				Region: "us-east-1",
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Timeout:          time.Minute,
			},
		},
		Ledger: LedgerConfig{
			Path: "/data/ledger",
		},
		Warehouse: WarehouseConfig{
			Driver: "duckdb",
			DSN:    "/data/warehouse.duckdb",
		},
		Events: EventsConfig{
			Transport: "gochannel",
			NATSURL:   "nats://127.0.0.1:4222",
			Topic:     "warehousevault.jobs",
			Buffer:    256,
		},
		Server: ServerConfig{
			Port:              8470,
			Host:              "0.0.0.0",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			RateLimitReqs:     30,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is LoadWithKoanf with an explicit config file, which must exist.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
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

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
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

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"encryption.keys",
	"encryption.revoked_keys",
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unmapped variables are ignored so the process environment cannot pollute
// the configuration.
var envMappings = map[string]string{
	// Backup
	"backup_dir":               "backup.dir",
	"backup_verify":            "backup.verify",
	"backup_compression":       "backup.compression",
	"backup_compression_level": "backup.compression_level",
	"backup_chunk_size":        "backup.chunk_size",
	"backup_producer_version":  "backup.producer_version",

	// Encryption
	"backup_encryption_enabled": "encryption.enabled",
	"backup_encryption_keys":    "encryption.keys",
	"backup_active_key":         "encryption.active_key",
	"backup_revoked_keys":       "encryption.revoked_keys",

	// Retention
	"retention_days":            "retention.days",
	"retention_min_count":       "retention.min_count",
	"retention_remote_days":     "retention.remote_days",
	"retention_storage_backend": "retention.storage_backend",
	"retention_sweep_interval":  "retention.sweep_interval",

	// Schedule
	"backup_schedule_enabled":        "schedule.enabled",
	"backup_schedule_interval":       "schedule.interval",
	"backup_schedule_preferred_hour": "schedule.preferred_hour",
	"backup_schedule_type":           "schedule.backup_type",
	"backup_schedule_upload":         "schedule.upload",
	"backup_schedule_skip_unchanged": "schedule.skip_when_unchanged",
	"backup_schedule_sweep":          "schedule.sweep_after_backup",

	// Remote
	"remote_backend":           "remote.backend",
	"remote_dir":               "remote.dir",
	"remote_prefix":            "remote.prefix",
	"s3_bucket":                "remote.s3.bucket",
	"s3_region":                "remote.s3.region",
	"s3_endpoint":              "remote.s3.endpoint",
	"s3_access_key":            "remote.s3.access_key",
	"s3_secret_key":            "remote.s3.secret_key",
	"s3_use_path_style":        "remote.s3.use_path_style",
	"s3_storage_class":         "remote.s3.storage_class",
	"remote_breaker_threshold": "remote.breaker.failure_threshold",
	"remote_breaker_timeout":   "remote.breaker.timeout",

	// Ledger
	"ledger_path":      "ledger.path",
	"ledger_in_memory": "ledger.in_memory",

	// Warehouse
	"warehouse_driver":         "warehouse.driver",
	"warehouse_dsn":            "warehouse.dsn",
	"warehouse_max_open_conns": "warehouse.max_open_conns",

	// Events
	"events_transport": "events.transport",
	"nats_url":         "events.nats_url",
	"events_topic":     "events.topic",
	"events_buffer":    "events.buffer",

	// Server
	"http_port":             "server.port",
	"http_host":             "server.host",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"rate_limit_requests":   "server.rate_limit_reqs",
	"rate_limit_window":     "server.rate_limit_window",
	"disable_rate_limit":    "server.rate_limit_disabled",
	"cors_origins":          "server.cors_origins",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - BACKUP_DIR -> backup.dir
//   - S3_BUCKET -> remote.s3.bucket
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
