// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/warehousevault/internal/ledger"
)

// AppVersion is set at build time and recorded in every manifest.
var AppVersion = "dev"

// Config holds all backup-related configuration.
type Config struct {
	// Directory to store artifacts and job work directories.
	Dir string

	// Compression settings.
	Compression CompressionConfig

	// EncryptByDefault is applied when a request leaves Encrypt unset.
	EncryptByDefault bool

	// ChunkSize is the plaintext size of each encrypted chunk.
	ChunkSize int

	// VerifyByDefault inserts the verifying step when a request leaves
	// Verify unset.
	VerifyByDefault bool

	// RemotePrefix is prepended to remote object keys.
	RemotePrefix string

	// ProducerVersion is recorded in manifests. Empty means AppVersion.
	ProducerVersion string

	// Retention policy applied by Sweep.
	Retention RetentionPolicy

	// Schedule configuration for the Scheduler.
	Schedule ScheduleConfig
}

// CompressionConfig defines compression settings for artifacts.
type CompressionConfig struct {
	// Algorithm is gzip, zstd, or none.
	Algorithm string

	// Level is algorithm specific; 0 selects the default.
	Level int
}

// RetentionPolicy controls what Sweep deletes.
type RetentionPolicy struct {
	// Days is the default local retention window.
	Days int

	// MinCount restorable backups are always kept regardless of age.
	MinCount int

	// RemoteDays keeps the remote copy longer than the local file when
	// greater than Days. Zero means remote copies expire with the local one.
	RemoteDays int

	// StorageBackend limits the sweep to jobs recorded with this backend.
	// Empty sweeps every job.
	StorageBackend string
}

// ScheduleConfig defines automatic backups.
type ScheduleConfig struct {
	Enabled bool

	// Interval between backups; at least one hour.
	Interval time.Duration

	// PreferredHour (0-23) is used when Interval is a day or longer.
	PreferredHour int

	// Type of scheduled backups.
	Type ledger.BackupType

	// Upload scheduled artifacts to the remote store.
	Upload bool

	// SkipWhenUnchanged skips incremental and differential runs when no
	// record changed since the last successful backup.
	SkipWhenUnchanged bool

	// SweepAfterBackup runs the retention sweep after each scheduled backup.
	SweepAfterBackup bool
}

// DefaultRetentionPolicy returns the default retention policy.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Days:     30,
		MinCount: 3,
	}
}

// DefaultScheduleConfig returns the default schedule.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Enabled:           false,
		Interval:          24 * time.Hour,
		PreferredHour:     2,
		Type:              ledger.TypeIncremental,
		SkipWhenUnchanged: true,
		SweepAfterBackup:  true,
	}
}

// DefaultConfig returns a Config rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		Compression:      CompressionConfig{Algorithm: CompressionGzip, Level: 6},
		EncryptByDefault: true,
		VerifyByDefault:  false,
		Retention:        DefaultRetentionPolicy(),
		Schedule:         DefaultScheduleConfig(),
	}
}

// Validate checks that the configuration is valid.
//
//nolint:gocyclo // Validation function with many sequential checks
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("backup directory is required")
	}
	if _, err := NewCompressor(c.Compression.Algorithm, c.Compression.Level); err != nil {
		return err
	}
	if c.ChunkSize < 0 || c.ChunkSize > 16<<20 {
		return fmt.Errorf("chunk size must be between 0 and 16 MiB, got %d", c.ChunkSize)
	}

	if c.Retention.Days < 1 {
		return fmt.Errorf("retention days must be at least 1, got %d", c.Retention.Days)
	}
	if c.Retention.MinCount < 0 {
		return fmt.Errorf("retention min_count cannot be negative")
	}
	if c.Retention.RemoteDays < 0 {
		return fmt.Errorf("retention remote_days cannot be negative")
	}

	if c.Schedule.Enabled {
		if c.Schedule.Interval < time.Hour {
			return fmt.Errorf("interval must be at least 1 hour, got: %s", c.Schedule.Interval)
		}
		if c.Schedule.PreferredHour < 0 || c.Schedule.PreferredHour > 23 {
			return fmt.Errorf("preferred_hour must be between 0 and 23, got: %d", c.Schedule.PreferredHour)
		}
		if _, err := ledger.ParseBackupType(string(c.Schedule.Type)); err != nil {
			return err
		}
		if c.Schedule.Type == ledger.TypeSelective {
			return fmt.Errorf("scheduled backups cannot be selective")
		}
	}
	return nil
}

// WorkDir is the private directory of one job.
func (c *Config) WorkDir(jobID string) string {
	return filepath.Join(c.Dir, "work", jobID)
}

// EnsureDirs creates the backup directory tree.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Dir, filepath.Join(c.Dir, "work")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create backup directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) producerVersion() string {
	if c.ProducerVersion != "" {
		return c.ProducerVersion
	}
	return AppVersion
}
