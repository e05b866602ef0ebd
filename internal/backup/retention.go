// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
retention.go - Retention Sweeper

Rules, applied to restorable backups newest first:
 1. The newest MinCount backups are always kept.
 2. A backup expires when completed_at is strictly before now minus its
    window. The window is the job's RetentionDays when set, otherwise the
    policy default. A backup exactly at the cutoff is kept.
 3. When RemoteDays is longer than the window and the remote copy is still
    inside it, only the local file is removed and the row stays remote-only.
 4. Otherwise the remote copy, local files, and ledger row are removed, in
    that order. A remote delete failure keeps everything for the next sweep.

Backups that a pending or running restore reads from are never touched.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/warehousevault/internal/events"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/metrics"
)

// sweepAction is what the sweeper decided for one backup.
type sweepAction int

const (
	sweepKeep sweepAction = iota
	sweepPruneLocal
	sweepDelete
)

// Sweep applies the retention policy once. Per-backup failures are
// collected in the result; the returned error wraps ErrRemoteDelete when any
// remote copy could not be removed.
func (m *Manager) Sweep(ctx context.Context) (*SweepResult, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	policy := m.cfg.Retention
	now := m.now().UTC()
	result := &SweepResult{
		RetentionDays: policy.Days,
		Deleted:       []string{},
		LocalPruned:   []string{},
		StartedAt:     now,
	}
	log := logging.Ctx(ctx).With().Str("component", "retention").Logger()

	candidates, err := m.sweepCandidates(ctx)
	if err != nil {
		return nil, err
	}
	busy, err := m.backupsInUse(ctx)
	if err != nil {
		return nil, err
	}

	var remoteFailures int
	for i, job := range candidates {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: sweep interrupted", ErrCancelled)
		}
		if _, ok := busy[job.ID]; ok || i < policy.MinCount {
			result.Kept++
			continue
		}

		switch m.sweepDecision(job, now) {
		case sweepKeep:
			result.Kept++

		case sweepPruneLocal:
			if job.ArtifactLocation == "" {
				result.Kept++
				continue
			}
			freed := m.pruneLocal(ctx, job)
			if freed < 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: failed to record local prune", job.ID))
				result.Kept++
				continue
			}
			result.LocalPruned = append(result.LocalPruned, job.ID)
			result.FreedBytes += freed
			result.Kept++
			metrics.RetentionDeleted.WithLabelValues("local").Inc()

		case sweepDelete:
			freed, err := m.removeBackup(ctx, job)
			if err != nil {
				if errors.Is(err, ErrRemoteDelete) {
					remoteFailures++
				}
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", job.ID, err))
				metrics.RetentionErrors.Inc()
				log.Warn().Err(err).Str("backup_id", job.ID).Msg("Failed to delete expired backup")
				result.Kept++
				continue
			}
			result.Deleted = append(result.Deleted, job.ID)
			result.FreedBytes += freed
			metrics.RetentionDeleted.WithLabelValues("local").Inc()
			if job.RemoteLocation != "" {
				metrics.RetentionDeleted.WithLabelValues("remote").Inc()
			}
		}
	}

	result.CompletedAt = m.now().UTC()
	metrics.RetentionFreedBytes.Add(float64(result.FreedBytes))

	e := events.NewJobEvent(events.RetentionSwept, "retention-"+result.StartedAt.Format("20060102T150405Z"), "completed")
	e.Details = map[string]any{
		"deleted":      len(result.Deleted),
		"local_pruned": len(result.LocalPruned),
		"freed_bytes":  result.FreedBytes,
		"errors":       len(result.Errors),
	}
	m.publish(ctx, e)

	log.Info().
		Int("deleted", len(result.Deleted)).
		Int("local_pruned", len(result.LocalPruned)).
		Int("kept", result.Kept).
		Int64("freed_bytes", result.FreedBytes).
		Int("errors", len(result.Errors)).
		Msg("Retention sweep finished")

	if remoteFailures > 0 {
		return result, fmt.Errorf("%w: %d remote copies could not be removed", ErrRemoteDelete, remoteFailures)
	}
	return result, nil
}

// sweepCandidates returns restorable backups in scope, newest first.
func (m *Manager) sweepCandidates(ctx context.Context) ([]*ledger.BackupJob, error) {
	jobs, err := m.ledger.ListBackups(ctx, ledger.BackupFilter{
		Statuses: []ledger.BackupStatus{ledger.BackupCompleted, ledger.BackupVerified},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups for retention: %w", err)
	}

	backend := m.cfg.Retention.StorageBackend
	out := jobs[:0]
	for _, j := range jobs {
		if backend != "" && j.StorageBackend != backend {
			continue
		}
		out = append(out, j)
	}
	sort.SliceStable(out, func(i, k int) bool {
		return completedAt(out[i]).After(completedAt(out[k]))
	})
	return out, nil
}

// backupsInUse returns the backups that unfinished restores read from or may
// roll back to.
func (m *Manager) backupsInUse(ctx context.Context) (map[string]struct{}, error) {
	restores, err := m.ledger.ListRestores(ctx, ledger.RestoreFilter{
		Statuses: []ledger.RestoreStatus{ledger.RestorePending, ledger.RestoreRunning, ledger.RestoreValidating},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active restores: %w", err)
	}
	busy := make(map[string]struct{}, len(restores))
	for _, r := range restores {
		busy[r.BackupJobID] = struct{}{}
		if r.RollbackBackupID != "" {
			busy[r.RollbackBackupID] = struct{}{}
		}
	}
	return busy, nil
}

func (m *Manager) sweepDecision(job *ledger.BackupJob, now time.Time) sweepAction {
	days := m.cfg.Retention.Days
	if job.RetentionDays > 0 {
		days = job.RetentionDays
	}
	if days <= 0 || job.CompletedAt == nil {
		return sweepKeep
	}

	done := job.CompletedAt.UTC()
	if !done.Before(now.AddDate(0, 0, -days)) {
		return sweepKeep
	}

	remoteDays := m.cfg.Retention.RemoteDays
	if job.RemoteLocation != "" && remoteDays > days && !done.Before(now.AddDate(0, 0, -remoteDays)) {
		return sweepPruneLocal
	}
	return sweepDelete
}

// pruneLocal removes the local artifact of a remote-retained backup. It
// returns the bytes freed, or -1 when the ledger could not be updated.
func (m *Manager) pruneLocal(ctx context.Context, job *ledger.BackupJob) int64 {
	path := job.ArtifactLocation
	freed, _ := fileSize(path)
	pruned := job.Clone()
	pruned.ArtifactLocation = ""
	if err := m.ledger.UpdateBackup(ctx, pruned); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("backup_id", job.ID).Msg("Failed to record local prune")
		metrics.RetentionErrors.Inc()
		return -1
	}
	removeFiles([]string{path})
	job.ArtifactLocation = ""
	logging.Ctx(ctx).Debug().Str("backup_id", job.ID).Msg("Local copy pruned; remote copy retained")
	return freed
}
