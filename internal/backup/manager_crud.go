// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
manager_crud.go - Job History

Read access to the Job Ledger plus manual deletion of a backup.

Listing and Filtering:
  - Filter by type and status
  - Filter by age (created within the last N days)
  - Pagination with offset and limit
  - Newest first
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
)

// ListOptions filters backup history.
type ListOptions struct {
	Type   ledger.BackupType   `json:"type,omitempty" validate:"omitempty,oneof=full incremental differential snapshot selective"`
	Status ledger.BackupStatus `json:"status,omitempty" validate:"omitempty,oneof=pending running verifying verified completed failed"`

	// Days keeps backups created within the last Days days. Zero means all.
	Days   int `json:"days,omitempty" validate:"gte=0,lte=3650"`
	Limit  int `json:"limit,omitempty" validate:"gte=0,lte=1000"`
	Offset int `json:"offset,omitempty" validate:"gte=0"`
}

// GetBackup returns one backup job.
func (m *Manager) GetBackup(ctx context.Context, id string) (*ledger.BackupJob, error) {
	return m.ledger.GetBackup(ctx, id)
}

// ListBackups returns backup history, newest first.
func (m *Manager) ListBackups(ctx context.Context, opts ListOptions) ([]*ledger.BackupJob, error) {
	filter := ledger.BackupFilter{Limit: opts.Limit, Offset: opts.Offset}
	if opts.Type != "" {
		filter.Types = []ledger.BackupType{opts.Type}
	}
	if opts.Status != "" {
		filter.Statuses = []ledger.BackupStatus{opts.Status}
	}
	if opts.Days > 0 {
		filter.CreatedAfter = m.now().UTC().Add(-time.Duration(opts.Days) * 24 * time.Hour)
	}
	return m.ledger.ListBackups(ctx, filter)
}

// GetRestore returns one restore job.
func (m *Manager) GetRestore(ctx context.Context, id string) (*ledger.RestoreJob, error) {
	return m.ledger.GetRestore(ctx, id)
}

// ListRestores returns restore history, newest first. An empty backupID
// lists every restore.
func (m *Manager) ListRestores(ctx context.Context, backupID string, limit, offset int) ([]*ledger.RestoreJob, error) {
	return m.ledger.ListRestores(ctx, ledger.RestoreFilter{
		BackupJobID: backupID,
		Limit:       limit,
		Offset:      offset,
	})
}

// GetStatus looks id up as a backup, then as a restore.
func (m *Manager) GetStatus(ctx context.Context, id string) (*JobStatus, error) {
	b, err := m.ledger.GetBackup(ctx, id)
	if err == nil {
		return &JobStatus{Kind: JobKindBackup, Backup: b}, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}
	r, err := m.ledger.GetRestore(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobStatus{Kind: JobKindRestore, Restore: r}, nil
}

// DeleteBackup removes a terminal backup's artifacts and ledger row. The
// remote copy is deleted first; if that fails nothing else is touched. Local
// files are removed only once the ledger row is gone.
func (m *Manager) DeleteBackup(ctx context.Context, id string) error {
	job, err := m.ledger.GetBackup(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: backup %s is %s", ErrScopeBusy, id, job.Status)
	}
	if _, err := m.removeBackup(ctx, job); err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("backup_id", id).Msg("Backup deleted")
	return nil
}

// removeBackup deletes every copy of job and its ledger row, returning the
// bytes freed locally. The row goes before the local files so a failed ledger
// write never leaves a row naming an artifact that is gone. If the row cannot
// be deleted after the remote copy was, the row is rewritten without its
// remote location.
func (m *Manager) removeBackup(ctx context.Context, job *ledger.BackupJob) (int64, error) {
	if job.RemoteLocation != "" {
		if err := m.remote.Delete(ctx, job.RemoteLocation); err != nil {
			if !errors.Is(err, ErrRemoteDelete) {
				err = fmt.Errorf("%w: %v", ErrRemoteDelete, err)
			}
			return 0, err
		}
	}
	if err := m.ledger.DeleteBackup(ctx, job.ID); err != nil {
		if job.RemoteLocation != "" {
			kept := job.Clone()
			kept.RemoteLocation = ""
			if uerr := m.ledger.UpdateBackup(ctx, kept); uerr != nil {
				logging.Ctx(ctx).Error().Err(uerr).Str("backup_id", job.ID).
					Msg("Failed to clear remote location after remote delete")
			}
		}
		return 0, fmt.Errorf("failed to delete ledger row: %w", err)
	}
	return m.removeLocal(job), nil
}

// removeLocal deletes the local artifact and manifest sidecar.
func (m *Manager) removeLocal(job *ledger.BackupJob) int64 {
	var freed int64
	for _, p := range []string{job.ArtifactLocation, job.ManifestLocation} {
		if p == "" {
			continue
		}
		if size, err := fileSize(p); err == nil {
			freed += size
		}
	}
	removeFiles([]string{job.ArtifactLocation, job.ManifestLocation})
	return freed
}
