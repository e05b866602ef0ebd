// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
Package config provides centralized configuration management for WarehouseVault.

Configuration is layered with Koanf v2:

 1. Defaults: built-in values from defaultConfig()
 2. Config file: optional YAML, from CONFIG_PATH or the default search paths
 3. Environment variables: override any setting through an explicit mapping

# Configuration Structure

  - Backup: artifact directory, compression, chunk size, verification
  - Encryption: master keys (id:base64), active key, revoked keys
  - Retention: local and remote windows, minimum kept backups, sweep interval
  - Schedule: automatic backups (interval, preferred hour, type)
  - Remote: object store backend (none, filesystem, s3) and circuit breaker
  - Ledger: BadgerDB path for the job ledger
  - Warehouse: record source driver (duckdb, pgx) and DSN
  - Events: job event transport (gochannel, nats)
  - Server: HTTP trigger surface (host, port, timeouts, rate limit, CORS)
  - Logging: level, format, caller

# Environment Variables

Selected mappings (see envMappings in koanf.go for the full table):

  - BACKUP_DIR, BACKUP_COMPRESSION, BACKUP_COMPRESSION_LEVEL, BACKUP_VERIFY
  - BACKUP_ENCRYPTION_KEYS (comma-separated id:base64), BACKUP_ACTIVE_KEY
  - RETENTION_DAYS, RETENTION_MIN_COUNT, RETENTION_REMOTE_DAYS
  - BACKUP_SCHEDULE_ENABLED, BACKUP_SCHEDULE_INTERVAL, BACKUP_SCHEDULE_TYPE
  - REMOTE_BACKEND, REMOTE_DIR, S3_BUCKET, S3_REGION, S3_ENDPOINT
  - WAREHOUSE_DRIVER, WAREHOUSE_DSN
  - LEDGER_PATH, EVENTS_TRANSPORT, NATS_URL
  - HTTP_HOST, HTTP_PORT, LOG_LEVEL, LOG_FORMAT

# Example

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}
	mgrCfg := cfg.BackupManagerConfig()

# Thread Safety

Config is read-only after Load returns and may be shared freely.
*/
package config
