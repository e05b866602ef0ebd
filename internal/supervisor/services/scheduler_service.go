// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package services

import (
	"context"
	"errors"
	"fmt"
)

// Runner is a blocking loop that returns when ctx is cancelled.
// Satisfied by *backup.Scheduler.
type Runner interface {
	Run(ctx context.Context) error
}

// SchedulerService supervises the automatic backup scheduler.
type SchedulerService struct {
	runner Runner
	name   string
}

// NewSchedulerService wraps the scheduler loop.
func NewSchedulerService(r Runner) *SchedulerService {
	return &SchedulerService{runner: r, name: "backup-scheduler"}
}

// Serve implements suture.Service. A loop that exits before cancellation is
// reported as a failure so suture restarts it.
func (s *SchedulerService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, context.Canceled) {
		err = errors.New("exited unexpectedly")
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

// String implements fmt.Stringer.
func (s *SchedulerService) String() string {
	return s.name
}
