// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestLedger(t *testing.T) *BadgerLedger {
	t.Helper()
	l, err := OpenBadger("", true)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func at(day int) time.Time {
	return time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC)
}

func newBackup(id string, typ BackupType, created time.Time) *BackupJob {
	return &BackupJob{ID: id, Type: typ, Status: BackupPending, Trigger: TriggerManual, CreatedAt: created}
}

func TestBackupTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to BackupStatus
		ok       bool
	}{
		{BackupPending, BackupRunning, true},
		{BackupPending, BackupCompleted, false},
		{BackupPending, BackupFailed, false},
		{BackupRunning, BackupVerifying, true},
		{BackupRunning, BackupCompleted, true},
		{BackupRunning, BackupFailed, true},
		{BackupVerifying, BackupVerified, true},
		{BackupVerifying, BackupFailed, true},
		{BackupVerifying, BackupCompleted, false},
		{BackupFailed, BackupRunning, false},
		{BackupCompleted, BackupRunning, false},
		{BackupVerified, BackupFailed, false},
		{BackupCompleted, BackupCompleted, true},
	}
	for _, tt := range tests {
		if got := CanTransitionBackup(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestRestoreTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to RestoreStatus
		ok       bool
	}{
		{RestorePending, RestoreRunning, true},
		{RestoreRunning, RestoreValidated, true},
		{RestoreRunning, RestoreValidating, true},
		{RestoreRunning, RestoreFailed, true},
		{RestoreValidating, RestoreCompleted, true},
		{RestoreValidating, RestoreFailed, true},
		{RestoreRunning, RestoreCompleted, false},
		{RestoreValidated, RestoreRunning, false},
		{RestoreFailed, RestoreRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransitionRestore(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestBadgerLedgerBackupLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTestLedger(t)

	job := newBackup("b1", TypeFull, at(1))
	if err := l.CreateBackup(ctx, job); err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if err := l.CreateBackup(ctx, job); !errors.Is(err, ErrJobExists) {
		t.Errorf("expected ErrJobExists, got %v", err)
	}

	job.Status = BackupRunning
	if err := l.UpdateBackup(ctx, job); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	job.Status = BackupFailed
	job.ErrorMessage = "disk full"
	if err := l.UpdateBackup(ctx, job); err != nil {
		t.Fatalf("running -> failed: %v", err)
	}

	job.Status = BackupRunning
	if err := l.UpdateBackup(ctx, job); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition re-entering running, got %v", err)
	}

	got, err := l.GetBackup(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBackup: %v", err)
	}
	if got.Status != BackupFailed || got.ErrorMessage != "disk full" {
		t.Errorf("unexpected stored job %+v", got)
	}

	if _, err := l.GetBackup(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if err := l.DeleteBackup(ctx, "b1"); err != nil {
		t.Fatalf("DeleteBackup: %v", err)
	}
	if err := l.DeleteBackup(ctx, "b1"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound on second delete, got %v", err)
	}
}

func TestBadgerLedgerRejectsNonPendingCreate(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)
	job := newBackup("b1", TypeFull, at(1))
	job.Status = BackupCompleted
	if err := l.CreateBackup(context.Background(), job); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func complete(t *testing.T, l Ledger, job *BackupJob, completed time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := l.CreateBackup(ctx, job); err != nil {
		t.Fatal(err)
	}
	job.Status = BackupRunning
	if err := l.UpdateBackup(ctx, job); err != nil {
		t.Fatal(err)
	}
	job.Status = BackupCompleted
	job.CompletedAt = &completed
	if err := l.UpdateBackup(ctx, job); err != nil {
		t.Fatal(err)
	}
}

func TestListBackupsFilterAndOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTestLedger(t)

	complete(t, l, newBackup("full-1", TypeFull, at(1)), at(1))
	complete(t, l, newBackup("inc-1", TypeIncremental, at(2)), at(2))
	complete(t, l, newBackup("full-2", TypeFull, at(3)), at(3))
	if err := l.CreateBackup(ctx, newBackup("pending-1", TypeFull, at(4))); err != nil {
		t.Fatal(err)
	}

	all, err := l.ListBackups(ctx, BackupFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].ID != "pending-1" || all[3].ID != "full-1" {
		t.Errorf("expected newest first, got %v", ids(all))
	}

	fulls, _ := l.ListBackups(ctx, BackupFilter{Types: []BackupType{TypeFull}, Statuses: []BackupStatus{BackupCompleted}})
	if len(fulls) != 2 {
		t.Errorf("expected 2 completed fulls, got %v", ids(fulls))
	}

	recent, _ := l.ListBackups(ctx, BackupFilter{CreatedAfter: at(2)})
	if len(recent) != 3 {
		t.Errorf("expected 3 backups since day 2, got %v", ids(recent))
	}

	paged, _ := l.ListBackups(ctx, BackupFilter{Limit: 2, Offset: 1})
	if len(paged) != 2 || paged[0].ID != "full-2" {
		t.Errorf("unexpected page %v", ids(paged))
	}

	latest, err := LatestCompleted(ctx, l, TypeFull, TypeIncremental)
	if err != nil || latest == nil || latest.ID != "full-2" {
		t.Errorf("expected full-2 as latest, got %v (%v)", latest, err)
	}
	none, err := LatestCompleted(ctx, l, TypeSnapshot)
	if err != nil || none != nil {
		t.Errorf("expected no snapshot backups, got %v (%v)", none, err)
	}
}

func TestBadgerLedgerRestoreLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTestLedger(t)

	r := &RestoreJob{ID: "r1", BackupJobID: "b1", Status: RestorePending, CreatedAt: at(5)}
	if err := l.CreateRestore(ctx, r); err != nil {
		t.Fatalf("CreateRestore: %v", err)
	}
	r.Status = RestoreRunning
	if err := l.UpdateRestore(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Status = RestoreCompleted
	if err := l.UpdateRestore(ctx, r); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected running -> completed to be rejected, got %v", err)
	}
	r.Status = RestoreValidated
	r.Plan = map[string]KindPlan{"users": {Mode: "replace", Create: 2}}
	if err := l.UpdateRestore(ctx, r); err != nil {
		t.Fatal(err)
	}

	got, err := l.GetRestore(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Plan["users"].Create != 2 {
		t.Errorf("expected plan to round trip, got %+v", got.Plan)
	}

	list, _ := l.ListRestores(ctx, RestoreFilter{BackupJobID: "b1"})
	if len(list) != 1 {
		t.Errorf("expected 1 restore for b1, got %d", len(list))
	}
}

func TestParseBackupType(t *testing.T) {
	t.Parallel()
	for _, typ := range AllBackupTypes {
		if got, err := ParseBackupType(string(typ)); err != nil || got != typ {
			t.Errorf("ParseBackupType(%s) = %s, %v", typ, got, err)
		}
	}
	if _, err := ParseBackupType("weekly"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func ids(jobs []*BackupJob) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestPingAndGC(t *testing.T) {
	l, err := OpenBadger(t.TempDir(), false)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	ctx := context.Background()
	if err := l.Ping(ctx); err != nil {
		t.Fatalf("Ping on open ledger: %v", err)
	}
	if _, err := l.RunGC(0.5); err != nil {
		t.Errorf("RunGC on a fresh ledger: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Ping(ctx); !errors.Is(err, ErrLedgerClosed) {
		t.Errorf("expected ErrLedgerClosed after Close, got %v", err)
	}

	mem := openTestLedger(t)
	if n, err := mem.RunGC(0.5); err != nil || n != 0 {
		t.Errorf("in-memory RunGC = %d, %v", n, err)
	}
}
