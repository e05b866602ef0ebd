// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/config"
	"github.com/tomtom215/warehousevault/internal/events"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/metrics"
	"github.com/tomtom215/warehousevault/internal/records"
)

const testKeySpec = "k1:AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="

// testConfig writes a config file for an in-memory vault with a
// filesystem remote and loads it.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
backup:
  dir: %s
encryption:
  enabled: true
  keys: ["%s"]
ledger:
  in_memory: true
warehouse:
  driver: duckdb
  dsn: ":memory:"
remote:
  backend: filesystem
  dir: %s
events:
  transport: gochannel
  topic: test.jobs
server:
  rate_limit_disabled: true
`, filepath.Join(dir, "backups"), testKeySpec, filepath.Join(dir, "remote"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return cfg
}

func buildTestApp(t *testing.T) *App {
	t.Helper()
	a, err := Build(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBuildWiresEveryComponent(t *testing.T) {
	a := buildTestApp(t)
	ctx := context.Background()

	if err := a.Ready(ctx); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if a.Remote.Name() == "" || a.bus == nil {
		t.Fatalf("expected filesystem remote and in-process bus, got %q / %v", a.Remote.Name(), a.bus)
	}

	created := metrics.RecordChanges.WithLabelValues("users", string(records.OpCreate))
	before := testutil.ToFloat64(created)
	at := time.Now().UTC().Truncate(time.Microsecond)
	if err := a.Store.Put(ctx, "users", records.Row{ID: "u-app", ModifiedAt: &at, Data: []byte(`{"name":"Ada"}`)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := testutil.ToFloat64(created) - before; got != 1 {
		t.Errorf("expected one counted create, got %v", got)
	}

	job, err := a.Manager.RunBackup(ctx, backup.BackupRequest{Type: ledger.TypeFull, Upload: true})
	if err != nil {
		t.Fatalf("RunBackup: %v", err)
	}
	if !job.Encrypted || job.RemoteLocation == "" || job.EncryptionKeyRef == "" {
		t.Errorf("expected an encrypted uploaded backup, got %+v", job)
	}
}

func TestBuildFailsCleanly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.Transport = "carrier-pigeon"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown transport")
	}

	cfg = testConfig(t)
	cfg.Warehouse.Driver = "oracle"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown warehouse driver")
	}
}

func TestBuildWithoutKeysDisablesEncryption(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption.Enabled = false
	cfg.Encryption.Keys = nil
	a, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()

	_, err = a.Manager.RunBackup(context.Background(), backup.BackupRequest{Type: ledger.TypeFull, Encrypt: backup.Bool(true)})
	if err == nil {
		t.Fatal("expected key unavailable error without a keyring")
	}
	job, err := a.Manager.RunBackup(context.Background(), backup.BackupRequest{Type: ledger.TypeFull})
	if err != nil {
		t.Fatalf("plain backup: %v", err)
	}
	if job.Encrypted {
		t.Error("backup should not be encrypted without keys")
	}
}

func TestRouterServesHealth(t *testing.T) {
	a := buildTestApp(t)
	rec := httptest.NewRecorder()
	a.Router("test").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	a.Router("test").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/backups", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from the backup list, got %d", rec.Code)
	}
}

func TestSupervisorTreeBuilds(t *testing.T) {
	a := buildTestApp(t)
	a.Config.Server.Port = 0
	tree, err := a.SupervisorTree("test")
	if err != nil {
		t.Fatalf("SupervisorTree: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEventLogWritesJobEvents(t *testing.T) {
	sink := &syncBuffer{}
	logging.Init(logging.Config{Level: "info", Output: sink})
	defer logging.Init(logging.DefaultConfig())

	a := buildTestApp(t)
	svc := newEventLog(a.bus, a.Config.Events.Topic)
	if svc.String() != "job-event-log" {
		t.Errorf("String() = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Serve(ctx)
		close(done)
	}()

	// Publish until the subscription is live and the event is logged.
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(sink.String(), "job-under-test") {
		if time.Now().After(deadline) {
			t.Fatalf("event was never logged; log:\n%s", sink.String())
		}
		if err := a.Publisher.Publish(ctx, events.NewJobEvent(events.BackupCompleted, "job-under-test", "completed")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	<-done
}
