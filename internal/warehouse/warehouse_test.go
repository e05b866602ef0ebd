// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package warehouse

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/encryption"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/records"
)

// testDBSemaphore serializes DuckDB use across tests; concurrent CGO
// connections from many tests are slow and occasionally hang under load.
var testDBSemaphore = make(chan struct{}, 1)

var testRegistry = records.MustRegistry(
	records.Kind{Name: "users", ModifiedField: "updated_at"},
	records.Kind{
		Name:          "mood_entries",
		ModifiedField: "updated_at",
		References:    []records.Reference{{Field: "user_id", Kind: "users"}},
	},
	records.Kind{Name: "user_settings"},
)

var t0 = time.Date(2026, 3, 1, 9, 30, 0, 123456000, time.UTC)

func setupTestStore(t *testing.T, reg *records.Registry) *Store {
	t.Helper()
	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	s, err := Open(ctx, Config{Driver: DriverDuckDB, DSN: ":memory:", MaxOpenConns: 4}, reg)
	if err != nil {
		t.Fatalf("failed to open warehouse: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func at(offset time.Duration) *time.Time {
	v := t0.Add(offset)
	return &v
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	put := func(kind string, row records.Row) {
		if err := s.Put(ctx, kind, row); err != nil {
			t.Fatalf("put %s/%s: %v", kind, row.ID, err)
		}
	}
	put("users", records.Row{ID: "u1", ModifiedAt: at(0), Data: []byte(`{"name":"Ada"}`)})
	put("users", records.Row{ID: "u2", ModifiedAt: at(time.Hour), Data: []byte(`{"name":"Grace"}`)})
	put("mood_entries", records.Row{ID: "m1", ModifiedAt: at(0), Data: []byte(`{"user_id":"u1","score":4,"note":"ünïcode ✓"}`)})
	put("mood_entries", records.Row{ID: "m2", ModifiedAt: at(2 * time.Hour), Data: []byte(`{"user_id":"u2","score":7}`)})
	put("user_settings", records.Row{ID: "theme", Data: []byte(`{"value":"dark"}`)})
}

func collect(t *testing.T, r records.Reader, kind string, since *time.Time) []records.Row {
	t.Helper()
	var out []records.Row
	if err := r.Scan(context.Background(), kind, since, func(row records.Row) error {
		out = append(out, row)
		return nil
	}); err != nil {
		t.Fatalf("scan %s: %v", kind, err)
	}
	return out
}

func TestStoreReadWrite(t *testing.T) {
	s := setupTestStore(t, testRegistry)
	seed(t, s)
	ctx := context.Background()

	row, ok, err := s.Get(ctx, "mood_entries", "m1")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if string(row.Data) != `{"user_id":"u1","score":4,"note":"ünïcode ✓"}` {
		t.Errorf("payload changed: %s", row.Data)
	}
	if row.ModifiedAt == nil || !row.ModifiedAt.Equal(t0) {
		t.Errorf("expected marker %v, got %v", t0, row.ModifiedAt)
	}

	if _, ok, _ := s.Get(ctx, "users", "nobody"); ok {
		t.Error("expected missing row")
	}

	n, err := s.Count(ctx, "users")
	if err != nil || n != 2 {
		t.Errorf("expected 2 users, got %d %v", n, err)
	}

	all := collect(t, s, "mood_entries", nil)
	if len(all) != 2 || all[0].ID != "m1" || all[1].ID != "m2" {
		t.Errorf("expected rows in id order, got %+v", all)
	}
	recent := collect(t, s, "mood_entries", at(time.Hour))
	if len(recent) != 1 || recent[0].ID != "m2" {
		t.Errorf("expected only m2 since t0+1h, got %+v", recent)
	}
	settings := collect(t, s, "user_settings", at(time.Hour))
	if len(settings) != 1 || settings[0].ModifiedAt != nil {
		t.Errorf("kinds without a marker are always scanned in full, got %+v", settings)
	}

	if err := s.Delete(ctx, "users", "u2"); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx, "users"); n != 1 {
		t.Errorf("expected 1 user after delete, got %d", n)
	}
	if err := s.Put(ctx, "unknown", records.Row{ID: "x", Data: []byte(`{}`)}); !errors.Is(err, records.ErrUnknownKind) {
		t.Errorf("expected unknown kind, got %v", err)
	}
}

func TestPutStampsIncrementalKinds(t *testing.T) {
	s := setupTestStore(t, testRegistry)
	stamp := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }
	ctx := context.Background()

	if err := s.Put(ctx, "users", records.Row{ID: "u1", Data: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "user_settings", records.Row{ID: "s1", Data: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}
	u, _, _ := s.Get(ctx, "users", "u1")
	if u.ModifiedAt == nil || !u.ModifiedAt.Equal(stamp) {
		t.Errorf("expected stamped marker, got %v", u.ModifiedAt)
	}
	st, _, _ := s.Get(ctx, "user_settings", "s1")
	if st.ModifiedAt != nil {
		t.Errorf("kinds without a marker must not be stamped, got %v", st.ModifiedAt)
	}
}

func TestAtomicRollsBackAndStaysSilent(t *testing.T) {
	s := setupTestStore(t, testRegistry)
	seed(t, s)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []records.Change
	unsubscribe := s.OnRecordChanged(func(c records.Change) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	defer unsubscribe()

	boom := errors.New("apply failed")
	err := s.Atomic(ctx, func(w records.Writer) error {
		if err := w.Truncate(ctx, "users"); err != nil {
			return err
		}
		if _, err := w.Upsert(ctx, "users", []records.Row{{ID: "u9", Data: []byte(`{}`)}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got %v", err)
	}

	users := collect(t, s, "users", nil)
	if len(users) != 2 || users[0].ID != "u1" || users[1].ID != "u2" {
		t.Errorf("expected original users after rollback, got %+v", users)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 0 {
		t.Errorf("rolled back writes must not be announced, got %d changes", len(seen))
	}
}

func TestHooksAnnounceCommittedWrites(t *testing.T) {
	s := setupTestStore(t, testRegistry)
	ctx := context.Background()

	var ops []records.ChangeOp
	s.OnRecordChanged(func(c records.Change) { ops = append(ops, c.Op()) })

	row := records.Row{ID: "u1", ModifiedAt: at(0), Data: []byte(`{"name":"Ada"}`)}
	if err := s.Put(ctx, "users", row); err != nil {
		t.Fatal(err)
	}
	row.Data = []byte(`{"name":"Ada L."}`)
	if err := s.Put(ctx, "users", row); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "users", "u1"); err != nil {
		t.Fatal(err)
	}

	want := []records.ChangeOp{records.OpCreate, records.OpUpdate, records.OpDelete}
	if len(ops) != len(want) {
		t.Fatalf("expected %v, got %v", want, ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], ops[i])
		}
	}
}

func TestCheckReferences(t *testing.T) {
	s := setupTestStore(t, testRegistry)
	seed(t, s)
	ctx := context.Background()

	if err := s.CheckReferences(ctx, []string{"users", "mood_entries"}); err != nil {
		t.Fatalf("expected consistent data, got %v", err)
	}
	if err := s.Delete(ctx, "users", "u2"); err != nil {
		t.Fatal(err)
	}
	if err := s.CheckReferences(ctx, []string{"mood_entries"}); err == nil {
		t.Error("expected dangling reference from m2 to u2")
	}
}

func TestSnapshotReader(t *testing.T) {
	s := setupTestStore(t, testRegistry)
	seed(t, s)

	err := s.Snapshot(context.Background(), func(r records.Reader) error {
		n, err := r.Count(context.Background(), "mood_entries")
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("expected 2 mood entries in snapshot, got %d", n)
		}
		if rows := collect(t, r, "users", nil); len(rows) != 2 {
			t.Errorf("expected 2 users in snapshot, got %d", len(rows))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{Driver: "oracle"}, testRegistry); err == nil {
		t.Error("expected unsupported driver error")
	}
	if _, err := Open(ctx, Config{Driver: DriverPostgres}, testRegistry); err == nil {
		t.Error("expected missing DSN error for pgx")
	}
	bad := records.MustRegistry(records.Kind{Name: "users; DROP TABLE x"})
	if _, err := Open(ctx, Config{}, bad); err == nil {
		t.Error("expected invalid table name error")
	}
}

func TestMindCareSchemaOnDisk(t *testing.T) {
	testDBSemaphore <- struct{}{}
	defer func() { <-testDBSemaphore }()

	path := filepath.Join(t.TempDir(), "nested", "warehouse.duckdb")
	s, err := Open(context.Background(), Config{DSN: path}, MindCareRegistry())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for _, name := range s.Registry().Names() {
		if _, err := s.Count(context.Background(), name); err != nil {
			t.Errorf("table for %s missing: %v", name, err)
		}
	}
	if s.Driver() != DriverDuckDB {
		t.Errorf("expected duckdb driver, got %s", s.Driver())
	}
}

// TestBackupAndRestoreThroughWarehouse drives the backup manager against
// DuckDB: a snapshot backup, a lossy change, then a restore.
func TestBackupAndRestoreThroughWarehouse(t *testing.T) {
	s := setupTestStore(t, testRegistry)
	seed(t, s)
	ctx := context.Background()

	l, err := ledger.OpenBadger("", true)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	keys, err := encryption.NewKeyring("k1", map[string][]byte{"k1": bytes.Repeat([]byte{3}, 32)})
	if err != nil {
		t.Fatal(err)
	}

	cfg := backup.DefaultConfig(t.TempDir())
	m, err := backup.NewManager(cfg, backup.Deps{Source: s, Ledger: l, Keys: keys})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	before := map[string][]records.Row{}
	for _, k := range testRegistry.Names() {
		before[k] = collect(t, s, k, nil)
	}

	job, err := m.RunBackup(ctx, backup.BackupRequest{Type: ledger.TypeSnapshot})
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if job.FellBackToFull {
		t.Error("warehouse supports native snapshots")
	}
	if job.RecordCount != 5 {
		t.Errorf("expected 5 records, got %d", job.RecordCount)
	}

	if err := s.Delete(ctx, "mood_entries", "m1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "users", records.Row{ID: "u3", ModifiedAt: at(3 * time.Hour), Data: []byte(`{"name":"Hedy"}`)}); err != nil {
		t.Fatal(err)
	}

	rj, err := m.RunRestore(ctx, backup.RestoreRequest{BackupID: job.ID, RollbackOnFailure: true})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if rj.Status != ledger.RestoreCompleted {
		t.Fatalf("expected completed restore, got %s (%s)", rj.Status, rj.ErrorMessage)
	}
	if rj.Validation == nil || !rj.Validation.Passed {
		t.Errorf("expected passing validation, got %+v", rj.Validation)
	}
	if rj.RollbackBackupID == "" {
		t.Error("expected a rollback snapshot before writing")
	}

	for _, k := range testRegistry.Names() {
		got := collect(t, s, k, nil)
		want := before[k]
		if len(got) != len(want) {
			t.Errorf("%s: expected %d rows, got %d", k, len(want), len(got))
			continue
		}
		for i := range want {
			if got[i].ID != want[i].ID || !bytes.Equal(got[i].Data, want[i].Data) {
				t.Errorf("%s: row %d differs: %+v vs %+v", k, i, got[i], want[i])
			}
		}
	}
}
