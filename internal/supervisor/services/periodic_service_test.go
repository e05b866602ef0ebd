// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitForCount(t *testing.T, n *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least %d runs, got %d", want, n.Load())
}

func TestPeriodicServiceRunsOnInterval(t *testing.T) {
	var runs atomic.Int32
	svc := NewPeriodicService("test-task", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	waitForCount(t, &runs, 3)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPeriodicServiceRunOnStart(t *testing.T) {
	var runs atomic.Int32
	svc := NewPeriodicService("eager", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}).RunOnStart()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx) }()

	waitForCount(t, &runs, 1)
	if runs.Load() != 1 {
		t.Errorf("expected exactly one eager run, got %d", runs.Load())
	}
}

func TestPeriodicServiceDefaultsInterval(t *testing.T) {
	svc := NewPeriodicService("x", 0, func(context.Context) error { return nil })
	if svc.interval != time.Hour {
		t.Errorf("expected 1h default interval, got %v", svc.interval)
	}
	if svc.String() != "x" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestLedgerGCServicePassesRatio(t *testing.T) {
	var runs atomic.Int32
	var ratio atomic.Value
	svc := NewLedgerGCService(10*time.Millisecond, func(r float64) (int, error) {
		ratio.Store(r)
		runs.Add(1)
		return 1, nil
	})
	if svc.String() != "ledger-gc" {
		t.Errorf("String() = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx) }()

	waitForCount(t, &runs, 1)
	if r, _ := ratio.Load().(float64); r != 0.5 {
		t.Errorf("expected discard ratio 0.5, got %v", r)
	}
}

type fakeRunner struct {
	runs atomic.Int32
	err  error
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.runs.Add(1)
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSchedulerService(t *testing.T) {
	r := &fakeRunner{}
	svc := NewSchedulerService(r)
	if svc.String() != "backup-scheduler" {
		t.Errorf("String() = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	waitForCount(t, &r.runs, 1)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	boom := errors.New("ledger unavailable")
	failing := NewSchedulerService(&fakeRunner{err: boom})
	if err := failing.Serve(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected runner error, got %v", err)
	}

	early := NewSchedulerService(&fakeRunner{err: context.Canceled})
	if err := early.Serve(context.Background()); err == nil || errors.Is(err, context.Canceled) {
		t.Errorf("an early exit must be a failure, got %v", err)
	}
}
