// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package records

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(
		Kind{Name: "users", ModifiedField: "updated_at"},
		Kind{Name: "mood_entries", ModifiedField: "updated_at", References: []Reference{{Field: "user_id", Kind: "users"}}},
		Kind{Name: "chat_messages"},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func ts(h int) *time.Time {
	t := time.Date(2026, 1, 1, h, 0, 0, 0, time.UTC)
	return &t
}

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		kinds []Kind
	}{
		{"empty name", []Kind{{Name: ""}}},
		{"duplicate", []Kind{{Name: "a"}, {Name: "a"}}},
		{"forward reference", []Kind{{Name: "a", References: []Reference{{Field: "b_id", Kind: "b"}}}, {Name: "b"}}},
	}
	for _, tt := range tests {
		if _, err := NewRegistry(tt.kinds...); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)

	all, err := reg.Resolve(nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected all 3 kinds, got %d (%v)", len(all), err)
	}

	some, err := reg.Resolve([]string{"chat_messages", "users", "users"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(some) != 2 || some[0].Name != "users" || some[1].Name != "chat_messages" {
		t.Errorf("expected declaration order [users chat_messages], got %+v", some)
	}

	if _, err := reg.Resolve([]string{"nope"}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestJSONLinesRoundTrip(t *testing.T) {
	t.Parallel()

	rows := []Row{
		{ID: "a", ModifiedAt: ts(1), Data: []byte(`{"score":7,"note":"fine, calm"}`)},
		{ID: "b\"quoted", Data: []byte(`[1,2,3]`)},
	}

	var buf bytes.Buffer
	codec := JSONLines{}
	for _, r := range rows {
		if err := codec.Encode(&buf, r); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	dec := codec.Decoder(&buf)
	for i, want := range rows {
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if got.ID != want.ID || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("row %d: got %s %s, want %s %s", i, got.ID, got.Data, want.ID, want.Data)
		}
		if (got.ModifiedAt == nil) != (want.ModifiedAt == nil) {
			t.Errorf("row %d: modified_at presence mismatch", i)
		} else if got.ModifiedAt != nil && !got.ModifiedAt.Equal(*want.ModifiedAt) {
			t.Errorf("row %d: modified_at %v, want %v", i, got.ModifiedAt, want.ModifiedAt)
		}
	}
	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestJSONLinesCompactsMultilineData(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := (JSONLines{}).Encode(&buf, Row{ID: "x", Data: []byte("{\n  \"a\": 1\n}")}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Errorf("expected a single line, got %q", buf.String())
	}
	if err := (JSONLines{}).Encode(&buf, Row{ID: "y", Data: []byte("{not json")}); err == nil {
		t.Error("expected error for invalid row data")
	}
}

func TestMemorySourceScanSince(t *testing.T) {
	t.Parallel()
	src := NewMemorySource(testRegistry(t))

	_ = src.Put("users", Row{ID: "u1", ModifiedAt: ts(1), Data: []byte(`{}`)})
	_ = src.Put("users", Row{ID: "u2", ModifiedAt: ts(5), Data: []byte(`{}`)})
	_ = src.Put("chat_messages", Row{ID: "c1", Data: []byte(`{}`)})

	var ids []string
	err := src.Scan(context.Background(), "users", ts(5), func(r Row) error {
		ids = append(ids, r.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(ids) != 1 || ids[0] != "u2" {
		t.Errorf("expected [u2], got %v", ids)
	}

	// Kinds without a marker ignore since.
	var n int
	_ = src.Scan(context.Background(), "chat_messages", ts(23), func(Row) error { n++; return nil })
	if n != 1 {
		t.Errorf("expected unfiltered scan of chat_messages, got %d rows", n)
	}
}

func TestMemorySourceAtomicRollsBack(t *testing.T) {
	t.Parallel()
	src := NewMemorySource(testRegistry(t))
	_ = src.Put("users", Row{ID: "u1", ModifiedAt: ts(1), Data: []byte(`{"v":1}`)})

	var changes int
	src.OnRecordChanged(func(Change) { changes++ })

	boom := errors.New("boom")
	err := src.Atomic(context.Background(), func(w Writer) error {
		if err := w.Truncate(context.Background(), "users"); err != nil {
			return err
		}
		if _, err := w.Upsert(context.Background(), "users", []Row{{ID: "u9", Data: []byte(`{}`)}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	rows := src.Rows("users")
	if len(rows) != 1 || rows[0].ID != "u1" {
		t.Errorf("expected original rows after rollback, got %+v", rows)
	}
	if changes != 0 {
		t.Errorf("expected no change notifications for a rolled back unit, got %d", changes)
	}
}

func TestMemorySourceCheckReferences(t *testing.T) {
	t.Parallel()
	src := NewMemorySource(testRegistry(t))
	_ = src.Put("users", Row{ID: "u1", Data: []byte(`{}`)})
	_ = src.Put("mood_entries", Row{ID: "m1", Data: []byte(`{"user_id":"u1"}`)})

	if err := src.CheckReferences(context.Background(), []string{"mood_entries"}); err != nil {
		t.Fatalf("expected references to hold, got %v", err)
	}

	_ = src.Put("mood_entries", Row{ID: "m2", Data: []byte(`{"user_id":"ghost"}`)})
	if err := src.CheckReferences(context.Background(), []string{"mood_entries"}); err == nil {
		t.Error("expected dangling reference to be reported")
	}
}

func TestChangeTracker(t *testing.T) {
	t.Parallel()
	src := NewMemorySource(testRegistry(t))
	tracker := NewChangeTracker(src)

	_ = src.Put("users", Row{ID: "u1", Data: []byte(`{}`)})
	_ = src.Put("users", Row{ID: "u1", Data: []byte(`{"v":2}`)})
	_ = src.Delete("users", "u1")

	if got := tracker.Count("users"); got != 3 {
		t.Errorf("expected 3 changes, got %d", got)
	}
	if changed := tracker.Changed(); len(changed) != 1 || changed[0] != "users" {
		t.Errorf("expected [users], got %v", changed)
	}
	tracker.Mark()
	if changed := tracker.Changed(); len(changed) != 0 {
		t.Errorf("expected no changes after Mark, got %v", changed)
	}
}

func TestChangeOp(t *testing.T) {
	t.Parallel()
	r := Row{ID: "x"}
	if (Change{New: &r}).Op() != OpCreate {
		t.Error("expected create")
	}
	if (Change{Old: &r, New: &r}).Op() != OpUpdate {
		t.Error("expected update")
	}
	if (Change{Old: &r}).Op() != OpDelete {
		t.Error("expected delete")
	}
}
