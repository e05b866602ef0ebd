// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/encryption"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/records"
)

var apiTestRegistry = records.MustRegistry(
	records.Kind{Name: "users", ModifiedField: "updated_at"},
	records.Kind{
		Name:          "mood_entries",
		ModifiedField: "updated_at",
		References:    []records.Reference{{Field: "user_id", Kind: "users"}},
	},
)

// testServer bundles a router over a real manager.
type testServer struct {
	router  http.Handler
	manager *backup.Manager
	src     *records.MemorySource
}

func newTestServer(t *testing.T, readiness func(context.Context) error, mwCfg *ChiMiddlewareConfig) *testServer {
	t.Helper()

	l, err := ledger.OpenBadger("", true)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	keys, err := encryption.NewKeyring("k1", map[string][]byte{"k1": bytes.Repeat([]byte{3}, 32)})
	if err != nil {
		t.Fatalf("failed to create keyring: %v", err)
	}

	src := records.NewMemorySource(apiTestRegistry)
	at := time.Now().UTC().Add(-time.Hour)
	if err := src.Put("users", records.Row{ID: "u1", ModifiedAt: &at, Data: []byte(`{"name":"Ada"}`)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := src.Put("mood_entries", records.Row{ID: "e1", ModifiedAt: &at, Data: []byte(`{"user_id":"u1","score":4}`)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cfg := backup.DefaultConfig(filepath.Join(t.TempDir(), "backups"))
	cfg.Retention.MinCount = 0
	m, err := backup.NewManager(cfg, backup.Deps{Source: src, Ledger: l, Keys: keys})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	if mwCfg == nil {
		mwCfg = DefaultChiMiddlewareConfig()
		mwCfg.RateLimitDisabled = true
	}
	h := NewHandler(m, readiness, "test")
	return &testServer{
		router:  NewRouter(h, NewChiMiddleware(mwCfg)),
		manager: m,
		src:     src,
	}
}

// do performs a request and decodes the envelope.
func (s *testServer) do(t *testing.T, method, path, body string) (int, *envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(principalHeader, "ops@mindcare")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: response is not an envelope: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec.Code, &env
}

type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *APIError       `json:"error"`
}

func (e *envelope) decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("failed to decode data %s: %v", e.Data, err)
	}
}

func expectError(t *testing.T, code int, env *envelope, wantStatus int, wantCode string) {
	t.Helper()
	if code != wantStatus {
		t.Errorf("expected HTTP %d, got %d", wantStatus, code)
	}
	if env.Status != "error" || env.Error == nil {
		t.Fatalf("expected error envelope, got %+v", env)
	}
	if env.Error.Code != wantCode {
		t.Errorf("expected code %s, got %s (%s)", wantCode, env.Error.Code, env.Error.Message)
	}
}

// waitBackup polls until the backup is terminal.
func (s *testServer) waitBackup(t *testing.T, id string) *ledger.BackupJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		code, env := s.do(t, http.MethodGet, "/api/v1/backups/"+id, "")
		if code != http.StatusOK {
			t.Fatalf("GET backup: HTTP %d", code)
		}
		var job ledger.BackupJob
		env.decode(t, &job)
		if job.Status.Terminal() {
			return &job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("backup %s did not finish", id)
	return nil
}

func (s *testServer) waitRestore(t *testing.T, id string) *ledger.RestoreJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		code, env := s.do(t, http.MethodGet, "/api/v1/restores/"+id, "")
		if code != http.StatusOK {
			t.Fatalf("GET restore: HTTP %d", code)
		}
		var job ledger.RestoreJob
		env.decode(t, &job)
		if job.Status.Terminal() {
			return &job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("restore %s did not finish", id)
	return nil
}

func TestCreateBackupAndPoll(t *testing.T) {
	s := newTestServer(t, nil, nil)

	code, env := s.do(t, http.MethodPost, "/api/v1/backups", `{"type":"full"}`)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%+v)", code, env.Error)
	}
	var started struct {
		JobID string `json:"job_id"`
	}
	env.decode(t, &started)
	if started.JobID == "" {
		t.Fatal("expected job_id")
	}

	job := s.waitBackup(t, started.JobID)
	if !job.Status.Restorable() {
		t.Fatalf("expected restorable backup, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.Principal != "ops@mindcare" {
		t.Errorf("expected principal from header, got %q", job.Principal)
	}
	if job.RecordCount != 2 {
		t.Errorf("expected 2 records, got %d", job.RecordCount)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/jobs/"+started.JobID, "")
	if code != http.StatusOK {
		t.Fatalf("GET job status: HTTP %d", code)
	}
	var st backup.JobStatus
	env.decode(t, &st)
	if st.Kind != backup.JobKindBackup || st.Backup == nil || st.Backup.ID != started.JobID {
		t.Errorf("unexpected job status %+v", st)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/backups?type=full", "")
	if code != http.StatusOK {
		t.Fatalf("list: HTTP %d", code)
	}
	if env.Metadata.Count == nil || *env.Metadata.Count != 1 {
		t.Errorf("expected count 1, got %v", env.Metadata.Count)
	}
}

func TestCreateBackupRejectsBadBodies(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown type", `{"type":"weekly"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing type", `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad kind syntax", `{"type":"full","kinds":["Users"]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", `{"type":"full","compress":true}`, http.StatusBadRequest, "INVALID_JSON"},
		{"not json", `type=full`, http.StatusBadRequest, "INVALID_JSON"},
		{"retention out of range", `{"type":"full","retention_days":99999}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"selective without kinds", `{"type":"selective"}`, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodPost, "/api/v1/backups", tt.body)
			expectError(t, code, env, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestUnknownKindIsBadRequest(t *testing.T) {
	s := newTestServer(t, nil, nil)
	code, env := s.do(t, http.MethodPost, "/api/v1/backups", `{"type":"selective","kinds":["journal_entries"]}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if env.Error == nil || (env.Error.Code != "UNKNOWN_KIND" && env.Error.Code != "INVALID_REQUEST") {
		t.Errorf("unexpected error %+v", env.Error)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, nil, nil)
	missing := "7b0f2b8e-3c53-4d8e-9a55-0d3f4d2c9e11"

	code, env := s.do(t, http.MethodGet, "/api/v1/backups/"+missing, "")
	expectError(t, code, env, http.StatusNotFound, "JOB_NOT_FOUND")

	code, env = s.do(t, http.MethodGet, "/api/v1/jobs/"+missing, "")
	expectError(t, code, env, http.StatusNotFound, "JOB_NOT_FOUND")

	code, env = s.do(t, http.MethodPost, "/api/v1/restores", `{"backup_id":"`+missing+`"}`)
	expectError(t, code, env, http.StatusNotFound, "JOB_NOT_FOUND")

	code, env = s.do(t, http.MethodPost, "/api/v1/backups/"+missing+"/cancel", "")
	expectError(t, code, env, http.StatusNotFound, "JOB_NOT_FOUND")

	code, env = s.do(t, http.MethodGet, "/api/v1/nothing-here", "")
	expectError(t, code, env, http.StatusNotFound, "NOT_FOUND")

	code, env = s.do(t, http.MethodPut, "/api/v1/backups", "")
	expectError(t, code, env, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestRestoreDryRunOverHTTP(t *testing.T) {
	s := newTestServer(t, nil, nil)
	before := s.src.Rows("users")

	b, err := s.manager.RunBackup(context.Background(), backup.BackupRequest{Type: ledger.TypeFull})
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	code, env := s.do(t, http.MethodPost, "/api/v1/restores", `{"backup_id":"`+b.ID+`","dry_run":true}`)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%+v)", code, env.Error)
	}
	var started struct {
		RestoreID string `json:"restore_id"`
	}
	env.decode(t, &started)

	rj := s.waitRestore(t, started.RestoreID)
	if rj.Status != ledger.RestoreValidated {
		t.Fatalf("expected validated dry run, got %s (%s)", rj.Status, rj.ErrorMessage)
	}
	if got := s.src.Rows("users"); len(got) != len(before) {
		t.Errorf("dry run changed the warehouse: %d rows, want %d", len(got), len(before))
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/restores?backup_id="+b.ID, "")
	if code != http.StatusOK {
		t.Fatalf("list restores: HTTP %d", code)
	}
	var list []ledger.RestoreJob
	env.decode(t, &list)
	if len(list) != 1 || list[0].ID != started.RestoreID {
		t.Errorf("unexpected restore list %+v", list)
	}
}

func TestRestoreDefaultsToRollbackProtection(t *testing.T) {
	s := newTestServer(t, nil, nil)
	b, err := s.manager.RunBackup(context.Background(), backup.BackupRequest{Type: ledger.TypeFull})
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	code, env := s.do(t, http.MethodPost, "/api/v1/restores", `{"backup_id":"`+b.ID+`"}`)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%+v)", code, env.Error)
	}
	var started struct {
		RestoreID string `json:"restore_id"`
	}
	env.decode(t, &started)

	rj := s.waitRestore(t, started.RestoreID)
	if rj.Status != ledger.RestoreCompleted {
		t.Fatalf("expected completed restore, got %s (%s)", rj.Status, rj.ErrorMessage)
	}
	if !rj.RollbackOnFailure || rj.RollbackBackupID == "" {
		t.Errorf("expected a rollback snapshot by default, got %+v", rj)
	}
	if rj.Principal != "ops@mindcare" {
		t.Errorf("expected principal from header, got %q", rj.Principal)
	}
}

func TestCreateRestoreValidation(t *testing.T) {
	s := newTestServer(t, nil, nil)

	code, env := s.do(t, http.MethodPost, "/api/v1/restores", `{}`)
	expectError(t, code, env, http.StatusBadRequest, "VALIDATION_ERROR")

	code, env = s.do(t, http.MethodPost, "/api/v1/restores", `{"backup_id":"not-a-uuid"}`)
	expectError(t, code, env, http.StatusBadRequest, "VALIDATION_ERROR")

	code, env = s.do(t, http.MethodGet, "/api/v1/restores?limit=5000", "")
	expectError(t, code, env, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestListBackupsQueryValidation(t *testing.T) {
	s := newTestServer(t, nil, nil)
	for _, q := range []string{"limit=abc", "limit=5000", "offset=-1", "type=weekly", "status=lost", "days=-2"} {
		t.Run(q, func(t *testing.T) {
			code, env := s.do(t, http.MethodGet, "/api/v1/backups?"+q, "")
			expectError(t, code, env, http.StatusBadRequest, "VALIDATION_ERROR")
		})
	}

	code, env := s.do(t, http.MethodGet, "/api/v1/backups", "")
	if code != http.StatusOK || string(env.Data) != "[]" {
		t.Errorf("expected empty list, got %d %s", code, env.Data)
	}
}

func TestDeleteAndVerify(t *testing.T) {
	s := newTestServer(t, nil, nil)
	b, err := s.manager.RunBackup(context.Background(), backup.BackupRequest{Type: ledger.TypeFull})
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	code, env := s.do(t, http.MethodPost, "/api/v1/backups/"+b.ID+"/verify", "")
	if code != http.StatusOK {
		t.Fatalf("verify: HTTP %d", code)
	}
	var res backup.VerificationResult
	env.decode(t, &res)
	if !res.Valid {
		t.Errorf("expected valid backup, got errors %v", res.Errors)
	}

	code, _ = s.do(t, http.MethodDelete, "/api/v1/backups/"+b.ID, "")
	if code != http.StatusOK {
		t.Fatalf("delete: HTTP %d", code)
	}
	code, env = s.do(t, http.MethodGet, "/api/v1/backups/"+b.ID, "")
	expectError(t, code, env, http.StatusNotFound, "JOB_NOT_FOUND")
}

func TestStatsReportAndSweep(t *testing.T) {
	s := newTestServer(t, nil, nil)
	if _, err := s.manager.RunBackup(context.Background(), backup.BackupRequest{Type: ledger.TypeFull}); err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	code, env := s.do(t, http.MethodGet, "/api/v1/stats", "")
	if code != http.StatusOK {
		t.Fatalf("stats: HTTP %d", code)
	}
	var st backup.Stats
	env.decode(t, &st)
	if st.TotalBackups != 1 {
		t.Errorf("expected 1 backup in stats, got %d", st.TotalBackups)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/report?days=7", "")
	if code != http.StatusOK {
		t.Fatalf("report: HTTP %d", code)
	}
	var rep backup.Report
	env.decode(t, &rep)
	if rep.PeriodDays != 7 {
		t.Errorf("expected 7 day report, got %d", rep.PeriodDays)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/report?days=0", "")
	expectError(t, code, env, http.StatusBadRequest, "VALIDATION_ERROR")

	code, env = s.do(t, http.MethodPost, "/api/v1/retention/sweep", "")
	if code != http.StatusOK {
		t.Fatalf("sweep: HTTP %d", code)
	}
	var sweep backup.SweepResult
	env.decode(t, &sweep)
	if len(sweep.Deleted) != 0 {
		t.Errorf("a fresh backup must survive the sweep, deleted %v", sweep.Deleted)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)
	code, env := s.do(t, http.MethodGet, "/health", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var h healthResponse
	env.decode(t, &h)
	if h.Status != "healthy" || h.Version != "test" {
		t.Errorf("unexpected health %+v", h)
	}

	down := newTestServer(t, func(context.Context) error { return errors.New("ledger closed") }, nil)
	code, env = down.do(t, http.MethodGet, "/health", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	env.decode(t, &h)
	if h.Status != "unhealthy" || h.Error != "ledger closed" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestMutationsAreRateLimited(t *testing.T) {
	cfg := DefaultChiMiddlewareConfig()
	cfg.RateLimitRequests = 1
	cfg.RateLimitWindow = time.Minute
	s := newTestServer(t, nil, cfg)

	code, _ := s.do(t, http.MethodPost, "/api/v1/retention/sweep", "")
	if code != http.StatusOK {
		t.Fatalf("first sweep: HTTP %d", code)
	}
	code, env := s.do(t, http.MethodPost, "/api/v1/retention/sweep", "")
	expectError(t, code, env, http.StatusTooManyRequests, "RATE_LIMITED")

	// Reads stay available.
	code, _ = s.do(t, http.MethodGet, "/api/v1/stats", "")
	if code != http.StatusOK {
		t.Errorf("reads should not be rate limited, got %d", code)
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "req-123" {
		t.Errorf("X-Request-Id = %q", got)
	}
}

func TestPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := principal(req); got != anonymousPrincipal {
		t.Errorf("expected anonymous principal, got %q", got)
	}
	req.Header.Set(principalHeader, "  "+strings.Repeat("a", 200)+"  ")
	if got := principal(req); len(got) != 128 {
		t.Errorf("expected principal truncated to 128, got %d", len(got))
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("ok\nforged"); got != `ok\x0aforged` {
		t.Errorf("sanitizeLogValue = %q", got)
	}
}
