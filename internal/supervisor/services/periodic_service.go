// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package services

import (
	"context"
	"time"

	"github.com/tomtom215/warehousevault/internal/logging"
)

// Task is one run of a periodic job. Errors are logged, not fatal; a task
// that should trigger a restart must panic.
type Task func(ctx context.Context) error

// PeriodicService runs a task on a fixed interval. The first run happens
// one interval after start, so a crash loop cannot hammer the task.
type PeriodicService struct {
	name     string
	interval time.Duration
	task     Task
	runNow   bool
}

// NewPeriodicService creates a periodic service. interval must be positive.
func NewPeriodicService(name string, interval time.Duration, task Task) *PeriodicService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &PeriodicService{name: name, interval: interval, task: task}
}

// RunOnStart makes the service run the task immediately when it starts.
func (p *PeriodicService) RunOnStart() *PeriodicService {
	p.runNow = true
	return p
}

// NewSweeperService runs the retention sweep every interval.
func NewSweeperService(interval time.Duration, sweep func(ctx context.Context) error) *PeriodicService {
	return NewPeriodicService("retention-sweeper", interval, Task(sweep))
}

// NewLedgerGCService reclaims ledger value log space every interval.
func NewLedgerGCService(interval time.Duration, gc func(discardRatio float64) (int, error)) *PeriodicService {
	return NewPeriodicService("ledger-gc", interval, func(context.Context) error {
		n, err := gc(0.5)
		if n > 0 {
			logging.Debug().Int("rewritten", n).Msg("Ledger value log compacted")
		}
		return err
	})
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	log := logging.WithComponent(p.name)
	if p.runNow {
		p.runTask(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Debug().Dur("interval", p.interval).Msg("Periodic task started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.runTask(ctx)
		}
	}
}

func (p *PeriodicService) runTask(ctx context.Context) {
	start := time.Now()
	err := p.task(ctx)
	log := logging.WithComponent(p.name)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("Periodic task failed")
		return
	}
	log.Debug().Dur("duration", time.Since(start)).Msg("Periodic task finished")
}

// String implements fmt.Stringer.
func (p *PeriodicService) String() string {
	return p.name
}
