// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/ledger"
)

// writeConfig writes a config with an on-disk ledger and warehouse so
// state survives between invocations.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
backup:
  dir: %s
encryption:
  enabled: false
ledger:
  path: %s
warehouse:
  driver: duckdb
  dsn: %s
remote:
  backend: filesystem
  dir: %s
`, filepath.Join(dir, "backups"), filepath.Join(dir, "ledger"),
		filepath.Join(dir, "warehouse.duckdb"), filepath.Join(dir, "remote"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestBackupThenInspect(t *testing.T) {
	cfg := writeConfig(t)

	code, out, errOut := run(t, "backup", "--config", cfg, "--output", "json", "--type", "full", "--storage", "filesystem", "--verify")
	if code != exitOK {
		t.Fatalf("backup exit = %d\nstdout: %s\nstderr: %s", code, out, errOut)
	}
	var job ledger.BackupJob
	if err := json.Unmarshal([]byte(out), &job); err != nil {
		t.Fatalf("decode backup output: %v\n%s", err, out)
	}
	if job.Status != ledger.BackupVerified {
		t.Errorf("status = %s, want verified", job.Status)
	}
	if job.RemoteLocation == "" {
		t.Error("expected the artifact to be uploaded")
	}

	code, out, _ = run(t, "status", job.ID, "-c", cfg, "-o", "json")
	if code != exitOK {
		t.Fatalf("status exit = %d", code)
	}
	var st backup.JobStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Kind != backup.JobKindBackup || st.Backup == nil || st.Backup.ID != job.ID {
		t.Errorf("unexpected status %+v", st)
	}

	code, out, _ = run(t, "list", "-c", cfg)
	if code != exitOK {
		t.Fatalf("list exit = %d", code)
	}
	if !strings.Contains(out, job.ID) {
		t.Errorf("list output does not mention %s:\n%s", job.ID, out)
	}

	if code, out, errOut = run(t, "verify", job.ID, "-c", cfg); code != exitOK {
		t.Fatalf("verify exit = %d\n%s\n%s", code, out, errOut)
	}

	code, out, errOut = run(t, "restore", job.ID, "-c", cfg, "-o", "json", "--dry-run")
	if code != exitOK {
		t.Fatalf("dry-run restore exit = %d\n%s\n%s", code, out, errOut)
	}
	var rj ledger.RestoreJob
	if err := json.Unmarshal([]byte(out), &rj); err != nil {
		t.Fatalf("decode restore: %v", err)
	}
	if !rj.DryRun || rj.Status != ledger.RestoreValidated || rj.RollbackOnFailure {
		t.Errorf("unexpected dry-run restore %+v", rj)
	}

	if code, _, errOut = run(t, "sweep", "-c", cfg); code != exitOK {
		t.Fatalf("sweep exit = %d\n%s", code, errOut)
	}
}

func TestUsageErrors(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"list", "-c", cfg, "--bogus"}},
		{"missing argument", []string{"restore", "-c", cfg}},
		{"bad type", []string{"backup", "-c", cfg, "--type", "weekly"}},
		{"bad point in time", []string{"restore", "00000000-0000-0000-0000-000000000000", "-c", cfg, "--point-in-time", "yesterday"}},
		{"encrypt and no-encrypt", []string{"backup", "-c", cfg, "--encrypt", "--no-encrypt"}},
		{"unknown kind", []string{"backup", "-c", cfg, "--models", "nonexistent"}},
		{"selective without kinds", []string{"backup", "-c", cfg, "--type", "selective"}},
		{"mismatched storage", []string{"backup", "-c", cfg, "--storage", "s3"}},
		{"unknown job", []string{"status", "no-such-job", "-c", cfg}},
		{"unknown backup", []string{"restore", "no-such-backup", "-c", cfg}},
		{"bad output", []string{"list", "-c", cfg, "-o", "yaml"}},
		{"invalid list filter", []string{"list", "-c", cfg, "--status", "sleeping"}},
		{"missing config", []string{"list", "-c", filepath.Join(t.TempDir(), "missing.yaml")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := run(t, tt.args...)
			if code != exitUsage {
				t.Errorf("exit = %d, want %d\nstdout: %s\nstderr: %s", code, exitUsage, out, errOut)
			}
			if !strings.Contains(errOut, "[error]") {
				t.Errorf("expected an error message on stderr, got %q", errOut)
			}
		})
	}
}

func TestEncryptWithoutKeys(t *testing.T) {
	cfg := writeConfig(t)
	code, _, errOut := run(t, "backup", "-c", cfg, "--encrypt")
	if code != exitKeyUnavailable {
		t.Errorf("exit = %d, want %d\n%s", code, exitKeyUnavailable, errOut)
	}
}

func TestBackupRequestDefaults(t *testing.T) {
	c := &cli{}
	cmd := newBackupCmd(c)
	if err := cmd.ParseFlags([]string{"--models", "users,sessions", "--retention-days", "7"}); err != nil {
		t.Fatal(err)
	}
	f := &backupFlags{backupType: "full", models: []string{"users", "sessions"}, storage: backup.StorageLocal, retentionDays: 7}
	req, err := f.request(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if req.Encrypt != nil || req.Verify != nil {
		t.Error("encrypt and verify should defer to configuration when not given")
	}
	if req.Upload {
		t.Error("local storage must not upload")
	}
	if req.RetentionDays != 7 || len(req.Kinds) != 2 {
		t.Errorf("unexpected request %+v", req)
	}

	f.noEncrypt = true
	if err := cmd.Flags().Set("no-encrypt", "true"); err != nil {
		t.Fatal(err)
	}
	req, _ = f.request(cmd)
	if req.Encrypt == nil || *req.Encrypt {
		t.Error("--no-encrypt should force encryption off")
	}
}

func TestRestoreRequest(t *testing.T) {
	f := &restoreFlags{noRollback: true, pointInTime: "2026-01-02T03:04:05Z"}
	req, err := f.request("b-1")
	if err != nil {
		t.Fatal(err)
	}
	if req.RollbackOnFailure {
		t.Error("--no-rollback should disable rollback")
	}
	if req.PointInTime == nil || req.PointInTime.Year() != 2026 {
		t.Errorf("point in time not parsed: %v", req.PointInTime)
	}

	f = &restoreFlags{}
	req, _ = f.request("b-1")
	if !req.RollbackOnFailure {
		t.Error("rollback should default on")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 bytes",
		2048:            "2.0 kb",
		5 * 1024 * 1024: "5.0 mb",
		3 << 30:         "3.00 gb",
	}
	for n, want := range tests {
		if got := formatBytes(n); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
