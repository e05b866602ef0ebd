// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/warehousevault/internal/encryption"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/records"
	"github.com/tomtom215/warehousevault/internal/remote"
)

// testRegistry declares three kinds: users (incremental), mood_entries
// (incremental, references users), and settings (no marker).
var testRegistry = records.MustRegistry(
	records.Kind{Name: "users", ModifiedField: "updated_at"},
	records.Kind{
		Name:          "mood_entries",
		ModifiedField: "updated_at",
		References:    []records.Reference{{Field: "user_id", Kind: "users"}},
	},
	records.Kind{Name: "settings"},
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

// testEnv holds the common test environment setup
type testEnv struct {
	dir    string
	src    *records.MemorySource
	ledger *ledger.BadgerLedger
	keys   *encryption.Keyring
	clock  *fakeClock
	cfg    Config
}

// newTestEnv creates a temp backup dir, an in-memory ledger, a keyring and
// an empty memory source.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	l, err := ledger.OpenBadger("", true)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	keys, err := encryption.NewKeyring("k1", map[string][]byte{"k1": bytes.Repeat([]byte{7}, 32)})
	if err != nil {
		t.Fatalf("failed to create keyring: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "backups")
	cfg := DefaultConfig(dir)
	cfg.Retention.MinCount = 0
	cfg.ChunkSize = 4096

	return &testEnv{
		dir:    dir,
		src:    records.NewMemorySource(testRegistry),
		ledger: l,
		keys:   keys,
		clock:  newFakeClock(),
		cfg:    cfg,
	}
}

// deps returns manager dependencies wired to the environment.
func (e *testEnv) deps() Deps {
	return Deps{
		Source: e.src,
		Ledger: e.ledger,
		Keys:   e.keys,
		Now:    e.clock.Now,
	}
}

// newManager creates a manager with the environment's config and deps,
// after applying the optional mutators.
func (e *testEnv) newManager(t *testing.T, mutate ...func(*Config, *Deps)) *Manager {
	t.Helper()
	cfg := e.cfg
	deps := e.deps()
	for _, fn := range mutate {
		fn(&cfg, &deps)
	}
	m, err := NewManager(cfg, deps)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func row(id, data string, at time.Time) records.Row {
	t := at
	return records.Row{ID: id, ModifiedAt: &t, Data: []byte(data)}
}

// seedMood writes n mood rows modified at `at`.
func seedMood(t *testing.T, src *records.MemorySource, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%02d", i)
		if err := src.Put("mood_entries", row(id, fmt.Sprintf(`{"score":%d}`, i), at)); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
}

// seedAll writes a small dataset across every kind.
func seedAll(t *testing.T, src *records.MemorySource, at time.Time) {
	t.Helper()
	for _, r := range []records.Row{
		row("u1", `{"name":"Ada","email":"ada@example.com"}`, at),
		row("u2", `{"name":"Grace","email":"grace@example.com"}`, at),
	} {
		if err := src.Put("users", r); err != nil {
			t.Fatalf("put user: %v", err)
		}
	}
	for i, uid := range []string{"u1", "u1", "u2"} {
		id := fmt.Sprintf("e%d", i)
		data := fmt.Sprintf(`{"user_id":%q,"score":%d,"note":"ünïcode ✓"}`, uid, i+3)
		if err := src.Put("mood_entries", row(id, data, at)); err != nil {
			t.Fatalf("put mood: %v", err)
		}
	}
	if err := src.Put("settings", records.Row{ID: "theme", Data: []byte(`{"value":"dark"}`)}); err != nil {
		t.Fatalf("put setting: %v", err)
	}
}

// state captures every row of every kind.
func state(src *records.MemorySource) map[string][]records.Row {
	out := make(map[string][]records.Row)
	for _, name := range src.Registry().Names() {
		out[name] = src.Rows(name)
	}
	return out
}

func assertSameState(t *testing.T, want, got map[string][]records.Row) {
	t.Helper()
	for kind, wantRows := range want {
		gotRows := got[kind]
		if len(gotRows) != len(wantRows) {
			t.Errorf("%s: expected %d rows, got %d", kind, len(wantRows), len(gotRows))
			continue
		}
		for i := range wantRows {
			w, g := wantRows[i], gotRows[i]
			if w.ID != g.ID {
				t.Errorf("%s[%d]: expected id %s, got %s", kind, i, w.ID, g.ID)
				continue
			}
			if !bytes.Equal(w.Data, g.Data) {
				t.Errorf("%s/%s: expected data %s, got %s", kind, w.ID, w.Data, g.Data)
			}
			if (w.ModifiedAt == nil) != (g.ModifiedAt == nil) ||
				(w.ModifiedAt != nil && !w.ModifiedAt.Equal(*g.ModifiedAt)) {
				t.Errorf("%s/%s: expected modified_at %v, got %v", kind, w.ID, w.ModifiedAt, g.ModifiedAt)
			}
		}
	}
}

// truncateAll empties the source.
func truncateAll(t *testing.T, src *records.MemorySource) {
	t.Helper()
	for _, name := range src.Registry().Names() {
		if err := src.Truncate(context.Background(), name); err != nil {
			t.Fatalf("truncate %s: %v", name, err)
		}
	}
}

// artifactFilesIn lists backup_* files directly under dir.
func artifactFilesIn(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "backup_*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

// flakyStore fails uploads and can be told to fail deletes.
type flakyStore struct {
	mu          sync.Mutex
	failUpload  bool
	failDelete  bool
	uploads     int
	deleteCalls int
}

func (s *flakyStore) Name() string { return "flaky" }

func (s *flakyStore) Upload(context.Context, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.failUpload {
		return "", fmt.Errorf("%w: connection reset", remote.ErrUpload)
	}
	return "flaky://bucket/object", nil
}

func (s *flakyStore) Download(_ context.Context, location, _ string) (string, error) {
	return "", fmt.Errorf("%w: %s unavailable", remote.ErrDownload, location)
}

func (s *flakyStore) Delete(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.failDelete {
		return fmt.Errorf("%w: access denied", remote.ErrDelete)
	}
	return nil
}

// newLocalRemote returns a filesystem remote store in a temp dir.
func newLocalRemote(t *testing.T) *remote.LocalStore {
	t.Helper()
	s, err := remote.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create remote store: %v", err)
	}
	return s
}

// blockingSource parks Scan until the job context is cancelled.
type blockingSource struct {
	*records.MemorySource
	started chan struct{}
	once    sync.Once
}

func newBlockingSource(src *records.MemorySource) *blockingSource {
	return &blockingSource{MemorySource: src, started: make(chan struct{})}
}

func (b *blockingSource) Scan(ctx context.Context, _ string, _ *time.Time, _ func(records.Row) error) error {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return ctx.Err()
}

// plainSource hides every optional capability of the wrapped source.
type plainSource struct {
	records.Source
}

// failingUpsertSource has no Transactor and fails every Upsert of one kind.
type failingUpsertSource struct {
	records.Source
	kind string
}

func (f *failingUpsertSource) Upsert(ctx context.Context, kind string, rows []records.Row) (int, error) {
	if kind == f.kind {
		return 0, errors.New("disk quota exceeded")
	}
	return f.Source.Upsert(ctx, kind, rows)
}

// stuckDeleteLedger refuses to delete backup rows.
type stuckDeleteLedger struct {
	ledger.Ledger
}

func (stuckDeleteLedger) DeleteBackup(context.Context, string) error {
	return errors.New("ledger is read-only")
}

func mustRunBackup(t *testing.T, m *Manager, req BackupRequest) *ledger.BackupJob {
	t.Helper()
	job, err := m.RunBackup(context.Background(), req)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if !job.Status.Restorable() {
		t.Fatalf("expected restorable backup, got %s", job.Status)
	}
	return job
}

func mustRunRestore(t *testing.T, m *Manager, req RestoreRequest) *ledger.RestoreJob {
	t.Helper()
	rj, err := m.RunRestore(context.Background(), req)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	return rj
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
