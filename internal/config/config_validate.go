// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateBackup,
		c.validateEncryption,
		c.validateRetention,
		c.validateSchedule,
		c.validateRemote,
		c.validateLedger,
		c.validateWarehouse,
		c.validateEvents,
		c.validateServer,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateBackup() error {
	if c.Backup.Dir == "" {
		return fmt.Errorf("BACKUP_DIR is required")
	}
	switch c.Backup.Compression {
	case "gzip":
		if c.Backup.CompressionLevel < 0 || c.Backup.CompressionLevel > 9 {
			return fmt.Errorf("BACKUP_COMPRESSION_LEVEL must be between 0 and 9 for gzip, got: %d", c.Backup.CompressionLevel)
		}
	case "zstd":
		if c.Backup.CompressionLevel < 0 || c.Backup.CompressionLevel > 4 {
			return fmt.Errorf("BACKUP_COMPRESSION_LEVEL must be between 0 and 4 for zstd, got: %d", c.Backup.CompressionLevel)
		}
	case "none":
	default:
		return fmt.Errorf("BACKUP_COMPRESSION must be gzip, zstd or none, got: %s", c.Backup.Compression)
	}
	if c.Backup.ChunkSize < 0 || c.Backup.ChunkSize > 16<<20 {
		return fmt.Errorf("BACKUP_CHUNK_SIZE must be between 0 and 16 MiB, got: %d", c.Backup.ChunkSize)
	}
	return nil
}

// validateEncryption requires a usable active key when encryption is the
// default. Keys may also be configured with encryption disabled, so that
// older encrypted artifacts stay restorable.
func (c *Config) validateEncryption() error {
	e := c.Encryption
	if !e.Enabled && len(e.Keys) == 0 {
		return nil
	}
	if len(e.Keys) == 0 {
		return fmt.Errorf("BACKUP_ENCRYPTION_KEYS is required when encryption is enabled (set BACKUP_ENCRYPTION_ENABLED=false to disable)")
	}
	ids := make(map[string]bool, len(e.Keys))
	for _, spec := range e.Keys {
		id, _, ok := strings.Cut(spec, ":")
		if !ok || id == "" {
			return fmt.Errorf("BACKUP_ENCRYPTION_KEYS entries must be id:base64")
		}
		if ids[id] {
			return fmt.Errorf("BACKUP_ENCRYPTION_KEYS contains duplicate key id %q", id)
		}
		ids[id] = true
	}
	if e.ActiveKey == "" {
		if len(ids) != 1 {
			return fmt.Errorf("BACKUP_ACTIVE_KEY is required when more than one key is configured")
		}
	} else if !ids[e.ActiveKey] {
		return fmt.Errorf("BACKUP_ACTIVE_KEY %q is not among the configured keys", e.ActiveKey)
	}
	for _, id := range e.RevokedKeys {
		if id == e.ActiveKey {
			return fmt.Errorf("BACKUP_ACTIVE_KEY %q is revoked", id)
		}
	}
	return nil
}

func (c *Config) validateRetention() error {
	r := c.Retention
	if r.Days < 1 {
		return fmt.Errorf("RETENTION_DAYS must be at least 1, got: %d", r.Days)
	}
	if r.MinCount < 0 {
		return fmt.Errorf("RETENTION_MIN_COUNT cannot be negative, got: %d", r.MinCount)
	}
	if r.RemoteDays < 0 {
		return fmt.Errorf("RETENTION_REMOTE_DAYS cannot be negative, got: %d", r.RemoteDays)
	}
	if r.SweepInterval != 0 && r.SweepInterval < time.Minute {
		return fmt.Errorf("RETENTION_SWEEP_INTERVAL must be at least 1m or 0 to disable, got: %s", r.SweepInterval)
	}
	return nil
}

func (c *Config) validateSchedule() error {
	s := c.Schedule
	if !s.Enabled {
		return nil
	}
	if s.Interval < time.Hour {
		return fmt.Errorf("BACKUP_SCHEDULE_INTERVAL must be at least 1h, got: %s", s.Interval)
	}
	if s.PreferredHour < 0 || s.PreferredHour > 23 {
		return fmt.Errorf("BACKUP_SCHEDULE_PREFERRED_HOUR must be between 0 and 23, got: %d", s.PreferredHour)
	}
	switch s.BackupType {
	case "full", "incremental", "differential", "snapshot":
	default:
		return fmt.Errorf("BACKUP_SCHEDULE_TYPE must be full, incremental, differential or snapshot, got: %s", s.BackupType)
	}
	if s.Upload && c.Remote.Backend == "none" {
		return fmt.Errorf("BACKUP_SCHEDULE_UPLOAD requires REMOTE_BACKEND other than none")
	}
	return nil
}

func (c *Config) validateRemote() error {
	r := c.Remote
	switch r.Backend {
	case "none":
	case "filesystem":
		if r.Dir == "" {
			return fmt.Errorf("REMOTE_DIR is required when REMOTE_BACKEND=filesystem")
		}
	case "s3":
		if r.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when REMOTE_BACKEND=s3")
		}
		if r.S3.Endpoint != "" {
			if err := validateS3Endpoint(r.S3.Endpoint); err != nil {
				return err
			}
		}
		if (r.S3.AccessKey == "") != (r.S3.SecretKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	default:
		return fmt.Errorf("REMOTE_BACKEND must be none, filesystem or s3, got: %s", r.Backend)
	}
	if r.Breaker.Timeout < 0 {
		return fmt.Errorf("REMOTE_BREAKER_TIMEOUT cannot be negative")
	}
	return nil
}

func (c *Config) validateLedger() error {
	if !c.Ledger.InMemory && c.Ledger.Path == "" {
		return fmt.Errorf("LEDGER_PATH is required unless LEDGER_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateWarehouse() error {
	switch c.Warehouse.Driver {
	case "duckdb":
	case "pgx":
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("WAREHOUSE_DSN is required when WAREHOUSE_DRIVER=pgx")
		}
		if err := validatePostgresDSN(c.Warehouse.DSN); err != nil {
			return err
		}
	default:
		return fmt.Errorf("WAREHOUSE_DRIVER must be duckdb or pgx, got: %s", c.Warehouse.Driver)
	}
	if c.Warehouse.MaxOpenConns < 0 {
		return fmt.Errorf("WAREHOUSE_MAX_OPEN_CONNS cannot be negative")
	}
	return nil
}

func (c *Config) validateEvents() error {
	switch c.Events.Transport {
	case "gochannel":
	case "nats":
		if err := validateNATSURLs(c.Events.NATSURL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
	default:
		return fmt.Errorf("EVENTS_TRANSPORT must be gochannel or nats, got: %s", c.Events.Transport)
	}
	if c.Events.Topic == "" {
		return fmt.Errorf("EVENTS_TOPIC is required")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got: %d", c.Server.Port)
	}
	if !c.Server.RateLimitDisabled && c.Server.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got: %d", c.Server.RateLimitReqs)
	}
	if !c.Server.RateLimitDisabled && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got: %s", c.Server.RateLimitWindow)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be trace, debug, info, warn or error, got: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got: %s", c.Logging.Format)
	}
	return nil
}
