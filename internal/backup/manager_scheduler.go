// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
manager_scheduler.go - Backup Scheduling

The Scheduler creates backups of the configured type at a fixed cadence.

Timer Logic:
  - For intervals >= 24h: uses the preferred hour, scheduling for the next
    occurrence
  - For shorter intervals: adds the interval to the current time
  - The timer is reset after each run completes

Incremental and differential runs are skipped when SkipWhenUnchanged is set
and the source's change tracker saw no writes since the last backup. The
tracker only knows about writes made by this process, so the first run
after start-up always executes.

The Scheduler runs in the supervision tree; Run returns when ctx is done.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
)

// Scheduler runs periodic backups through a Manager.
type Scheduler struct {
	m   *Manager
	cfg ScheduleConfig
	now func() time.Time

	mu      sync.Mutex
	nextRun time.Time
	lastRun time.Time
	skipped int
}

// NewScheduler returns a scheduler for m's schedule configuration.
func NewScheduler(m *Manager) *Scheduler {
	return &Scheduler{m: m, cfg: m.cfg.Schedule, now: m.now}
}

// Enabled reports whether scheduled backups are configured.
func (s *Scheduler) Enabled() bool { return s.cfg.Enabled }

// NextRun returns the next scheduled run, or the zero time before Run starts.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// LastRun returns when the last scheduled run started.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Skipped returns how many runs were skipped because nothing changed.
func (s *Scheduler) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Run is the scheduler loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	next := s.setNext(s.calculateNext(s.now()))
	log := logging.With().Str("component", "scheduler").Logger()
	log.Info().Time("next_run", next).Str("backup_type", string(s.cfg.Type)).Msg("Backup scheduler started")

	timer := time.NewTimer(next.Sub(s.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.m.nextRun.Store(nil)
			return ctx.Err()
		case <-timer.C:
			s.RunOnce(ctx)
			next = s.setNext(s.calculateNext(s.now()))
			timer.Reset(next.Sub(s.now()))
		}
	}
}

// RunOnce performs one scheduled cycle: backup (unless skipped), then the
// retention sweep when configured.
func (s *Scheduler) RunOnce(ctx context.Context) {
	log := logging.Ctx(ctx).With().Str("component", "scheduler").Logger()

	s.mu.Lock()
	s.lastRun = s.now()
	s.mu.Unlock()

	if s.shouldSkip() {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		log.Info().Str("backup_type", string(s.cfg.Type)).Msg("No records changed since last backup; skipping scheduled run")
	} else {
		job, err := s.m.RunBackup(ctx, BackupRequest{
			Type:    s.cfg.Type,
			Upload:  s.cfg.Upload,
			Trigger: ledger.TriggerScheduled,
		})
		switch {
		case errors.Is(err, ErrScopeBusy):
			log.Warn().Err(err).Msg("Scheduled backup skipped; another job holds the scope")
		case err != nil:
			log.Error().Err(err).Msg("Scheduled backup failed")
		default:
			log.Info().Str("backup_id", job.ID).Msg("Scheduled backup completed")
		}
	}

	if s.cfg.SweepAfterBackup && ctx.Err() == nil {
		if _, err := s.m.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("Retention sweep after scheduled backup failed")
		}
	}
}

func (s *Scheduler) shouldSkip() bool {
	if !s.cfg.SkipWhenUnchanged {
		return false
	}
	if s.cfg.Type != ledger.TypeIncremental && s.cfg.Type != ledger.TypeDifferential {
		return false
	}
	t := s.m.ChangeTracker()
	return t != nil && t.Marked() && len(t.Changed()) == 0
}

func (s *Scheduler) setNext(next time.Time) time.Time {
	s.mu.Lock()
	s.nextRun = next
	s.mu.Unlock()
	n := next
	s.m.nextRun.Store(&n)
	return next
}

// calculateNext determines when the next scheduled backup should run.
func (s *Scheduler) calculateNext(now time.Time) time.Time {
	interval := s.cfg.Interval
	if interval >= 24*time.Hour {
		next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.PreferredHour, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		if days := int(interval.Hours() / 24); days > 1 {
			next = next.AddDate(0, 0, days-1)
		}
		return next
	}
	return now.Add(interval)
}
