// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
convert.go - Mapping to component configuration

Each component package owns its own Config type; these helpers translate the
loaded configuration so that components never import this package.
*/

//nolint:staticcheck // File documentation, not package doc
package config

import (
	"os"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/encryption"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/remote"
	"github.com/tomtom215/warehousevault/internal/warehouse"
)

// BackupManagerConfig returns the backup.Manager configuration.
func (c *Config) BackupManagerConfig() backup.Config {
	return backup.Config{
		Dir: c.Backup.Dir,
		Compression: backup.CompressionConfig{
			Algorithm: c.Backup.Compression,
			Level:     c.Backup.CompressionLevel,
		},
		EncryptByDefault: c.Encryption.Enabled,
		ChunkSize:        c.Backup.ChunkSize,
		VerifyByDefault:  c.Backup.Verify,
		RemotePrefix:     c.Remote.Prefix,
		ProducerVersion:  c.Backup.ProducerVersion,
		Retention: backup.RetentionPolicy{
			Days:           c.Retention.Days,
			MinCount:       c.Retention.MinCount,
			RemoteDays:     c.Retention.RemoteDays,
			StorageBackend: c.Retention.StorageBackend,
		},
		Schedule: backup.ScheduleConfig{
			Enabled:           c.Schedule.Enabled,
			Interval:          c.Schedule.Interval,
			PreferredHour:     c.Schedule.PreferredHour,
			Type:              ledger.BackupType(c.Schedule.BackupType),
			Upload:            c.Schedule.Upload,
			SkipWhenUnchanged: c.Schedule.SkipWhenUnchanged,
			SweepAfterBackup:  c.Schedule.SweepAfterBackup,
		},
	}
}

// RemoteOptions returns the remote store selection.
func (c *Config) RemoteOptions() remote.Options {
	breaker := remote.DefaultBreakerConfig()
	if c.Remote.Breaker.FailureThreshold > 0 {
		breaker.FailureThreshold = c.Remote.Breaker.FailureThreshold
	}
	if c.Remote.Breaker.Timeout > 0 {
		breaker.Timeout = c.Remote.Breaker.Timeout
	}
	return remote.Options{
		Backend:  c.Remote.Backend,
		LocalDir: c.Remote.Dir,
		S3: remote.S3Options{
			Bucket:       c.Remote.S3.Bucket,
			Prefix:       c.Remote.Prefix,
			Region:       c.Remote.S3.Region,
			Endpoint:     c.Remote.S3.Endpoint,
			AccessKey:    c.Remote.S3.AccessKey,
			SecretKey:    c.Remote.S3.SecretKey,
			UsePathStyle: c.Remote.S3.UsePathStyle,
			StorageClass: c.Remote.S3.StorageClass,
		},
		Breaker: breaker,
	}
}

// WarehouseOptions returns the record source connection settings.
func (c *Config) WarehouseOptions() warehouse.Config {
	return warehouse.Config{
		Driver:       c.Warehouse.Driver,
		DSN:          c.Warehouse.DSN,
		MaxOpenConns: c.Warehouse.MaxOpenConns,
	}
}

// LoggingOptions returns the logger configuration.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Caller:    c.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	}
}

// Keyring builds the master keyring. It returns nil when no keys are
// configured, which leaves the manager unable to encrypt or decrypt.
func (c *Config) Keyring() (*encryption.Keyring, error) {
	if len(c.Encryption.Keys) == 0 {
		return nil, nil
	}
	keys, err := encryption.ParseKeySpecs(c.Encryption.Keys)
	if err != nil {
		return nil, err
	}
	active := c.Encryption.ActiveKey
	if active == "" {
		for id := range keys {
			active = id // validated: exactly one key
		}
	}
	kr, err := encryption.NewKeyring(active, keys)
	if err != nil {
		return nil, err
	}
	for _, id := range c.Encryption.RevokedKeys {
		kr.Revoke(id)
	}
	return kr, nil
}
