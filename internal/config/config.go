// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from defaults, an
// optional config file and environment variables.
type Config struct {
	Backup     BackupConfig     `koanf:"backup"`
	Encryption EncryptionConfig `koanf:"encryption"`
	Retention  RetentionConfig  `koanf:"retention"`
	Schedule   ScheduleConfig   `koanf:"schedule"`
	Remote     RemoteConfig     `koanf:"remote"`
	Ledger     LedgerConfig     `koanf:"ledger"`
	Warehouse  WarehouseConfig  `koanf:"warehouse"`
	Events     EventsConfig     `koanf:"events"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// BackupConfig holds artifact production settings.
type BackupConfig struct {
	// Dir holds artifacts, manifests and per-job work directories.
	Dir string `koanf:"dir"`

	// Verify inserts the verifying step when a request does not say.
	Verify bool `koanf:"verify"`

	// Compression is gzip, zstd or none.
	Compression      string `koanf:"compression"`
	CompressionLevel int    `koanf:"compression_level"`

	// ChunkSize is the plaintext size of each encrypted chunk (0 = default).
	ChunkSize int `koanf:"chunk_size"`

	// ProducerVersion overrides the version recorded in manifests.
	ProducerVersion string `koanf:"producer_version"`
}

// EncryptionConfig holds the master keys for artifact encryption.
//
// Environment Variables:
//   - BACKUP_ENCRYPTION_ENABLED: encrypt when a request does not say (default: true)
//   - BACKUP_ENCRYPTION_KEYS: comma-separated id:base64 32-byte keys
//   - BACKUP_ACTIVE_KEY: id used for new artifacts
//   - BACKUP_REVOKED_KEYS: comma-separated ids that may no longer decrypt
type EncryptionConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Keys        []string `koanf:"keys"`
	ActiveKey   string   `koanf:"active_key"`
	RevokedKeys []string `koanf:"revoked_keys"`
}

// RetentionConfig controls the sweeper.
type RetentionConfig struct {
	Days     int `koanf:"days"`
	MinCount int `koanf:"min_count"`

	// RemoteDays keeps remote copies longer than local files when > Days.
	RemoteDays int `koanf:"remote_days"`

	// StorageBackend limits sweeps to one backend; empty sweeps all.
	StorageBackend string `koanf:"storage_backend"`

	// SweepInterval is how often the server sweeps; 0 disables the sweeper.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// ScheduleConfig defines automatic backups.
type ScheduleConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Interval          time.Duration `koanf:"interval"`
	PreferredHour     int           `koanf:"preferred_hour"`
	BackupType        string        `koanf:"backup_type"`
	Upload            bool          `koanf:"upload"`
	SkipWhenUnchanged bool          `koanf:"skip_when_unchanged"`
	SweepAfterBackup  bool          `koanf:"sweep_after_backup"`
}

// RemoteConfig selects the object store for off-host copies.
type RemoteConfig struct {
	// Backend is none, filesystem or s3.
	Backend string `koanf:"backend"`

	// Dir is the root of the filesystem backend.
	Dir string `koanf:"dir"`

	// Prefix is prepended to every object key.
	Prefix string `koanf:"prefix"`

	S3      S3Config      `koanf:"s3"`
	Breaker BreakerConfig `koanf:"breaker"`
}

// S3Config holds S3 or S3-compatible connection settings. Empty keys fall
// back to the AWS default credential chain.
type S3Config struct {
	Bucket       string `koanf:"bucket"`
	Region       string `koanf:"region"`
	Endpoint     string `koanf:"endpoint"`
	AccessKey    string `koanf:"access_key"`
	SecretKey    string `koanf:"secret_key"`
	UsePathStyle bool   `koanf:"use_path_style"`
	StorageClass string `koanf:"storage_class"`
}

// BreakerConfig tunes the circuit breaker around the remote store.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	Timeout          time.Duration `koanf:"timeout"`
}

// LedgerConfig holds the job ledger location.
type LedgerConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// WarehouseConfig selects the record source database.
type WarehouseConfig struct {
	// Driver is duckdb or pgx.
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// EventsConfig selects the job event transport.
type EventsConfig struct {
	// Transport is gochannel (in-process) or nats (requires the nats build tag).
	Transport string `koanf:"transport"`
	NATSURL   string `koanf:"nats_url"`
	Topic     string `koanf:"topic"`
	Buffer    int64  `koanf:"buffer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logging configuration.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load loads configuration using Koanf with layered sources.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
