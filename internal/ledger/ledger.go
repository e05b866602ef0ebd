// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

// Package ledger is the Job Ledger: the persisted audit trail of backup and
// restore jobs. It enforces the job state machines on every write, so a
// terminal job can never be moved back to running.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrJobNotFound is returned when no job has the requested id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is taken.
	ErrJobExists = errors.New("job already exists")

	// ErrInvalidTransition is returned for writes the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// BackupFilter selects backups for ListBackups. Zero values match everything.
type BackupFilter struct {
	Types    []BackupType
	Statuses []BackupStatus
	// CreatedAfter keeps jobs created at or after this instant.
	CreatedAfter time.Time
	Limit        int
	Offset       int
}

// Matches reports whether j passes the filter (ignoring paging).
func (f BackupFilter) Matches(j *BackupJob) bool {
	if len(f.Types) > 0 && !containsType(f.Types, j.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, j.Status) {
		return false
	}
	if !f.CreatedAfter.IsZero() && j.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	return true
}

// RestoreFilter selects restores for ListRestores.
type RestoreFilter struct {
	BackupJobID string
	Statuses    []RestoreStatus
	Limit       int
	Offset      int
}

// Ledger persists jobs. Implementations serialize writes and reject
// transitions the state machines do not allow.
type Ledger interface {
	CreateBackup(ctx context.Context, job *BackupJob) error
	UpdateBackup(ctx context.Context, job *BackupJob) error
	GetBackup(ctx context.Context, id string) (*BackupJob, error)
	// ListBackups returns matching jobs, newest first.
	ListBackups(ctx context.Context, filter BackupFilter) ([]*BackupJob, error)
	DeleteBackup(ctx context.Context, id string) error

	CreateRestore(ctx context.Context, job *RestoreJob) error
	UpdateRestore(ctx context.Context, job *RestoreJob) error
	GetRestore(ctx context.Context, id string) (*RestoreJob, error)
	// ListRestores returns matching jobs, newest first.
	ListRestores(ctx context.Context, filter RestoreFilter) ([]*RestoreJob, error)

	Close() error
}

// LatestCompleted returns the restorable backup of one of the given types
// with the most recent CompletedAt, or nil if there is none.
func LatestCompleted(ctx context.Context, l Ledger, types ...BackupType) (*BackupJob, error) {
	jobs, err := l.ListBackups(ctx, BackupFilter{
		Types:    types,
		Statuses: []BackupStatus{BackupCompleted, BackupVerified},
	})
	if err != nil {
		return nil, err
	}
	var latest *BackupJob
	for _, j := range jobs {
		if j.CompletedAt == nil {
			continue
		}
		if latest == nil || j.CompletedAt.After(*latest.CompletedAt) {
			latest = j
		}
	}
	return latest, nil
}

func sortAndPageBackups(jobs []*BackupJob, limit, offset int) []*BackupJob {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return page(jobs, limit, offset)
}

func sortAndPageRestores(jobs []*RestoreJob, limit, offset int) []*RestoreJob {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return page(jobs, limit, offset)
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func containsType(list []BackupType, t BackupType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsStatus(list []BackupStatus, s BackupStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsRestoreStatus(list []RestoreStatus, s RestoreStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
