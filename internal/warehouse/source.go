// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
source.go - records.Source over SQL

Reads stream through *sql.Rows in ID order and never buffer a whole kind.
Writes always run inside a transaction; changes collected while it is open
are announced only after Commit succeeds, so a rolled back restore never
reaches the change tracker.
*/

//nolint:staticcheck // File documentation, not package doc
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/warehousevault/internal/records"
)

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Scan implements records.Reader.
func (s *Store) Scan(ctx context.Context, kind string, since *time.Time, fn func(records.Row) error) error {
	return (&sqlReader{s: s, q: s.db}).Scan(ctx, kind, since, fn)
}

// Count implements records.Reader.
func (s *Store) Count(ctx context.Context, kind string) (int64, error) {
	return (&sqlReader{s: s, q: s.db}).Count(ctx, kind)
}

// Truncate implements records.Writer in its own transaction.
func (s *Store) Truncate(ctx context.Context, kind string) error {
	return s.Atomic(ctx, func(w records.Writer) error {
		return w.Truncate(ctx, kind)
	})
}

// Upsert implements records.Writer in its own transaction.
func (s *Store) Upsert(ctx context.Context, kind string, rows []records.Row) (int, error) {
	var n int
	err := s.Atomic(ctx, func(w records.Writer) error {
		var err error
		n, err = w.Upsert(ctx, kind, rows)
		return err
	})
	return n, err
}

// Atomic implements records.Transactor.
func (s *Store) Atomic(ctx context.Context, fn func(w records.Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	w := &sqlWriter{sqlReader: sqlReader{s: s, q: tx}, track: s.Active()}
	if err := fn(w); err != nil {
		_ = tx.Rollback() // the original error matters
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, c := range w.changes {
		s.Emit(c)
	}
	return nil
}

// Snapshot implements records.Snapshotter with one read transaction.
func (s *Store) Snapshot(ctx context.Context, fn func(r records.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.snapshot)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	return fn(&sqlReader{s: s, q: tx})
}

// CheckReferences implements records.ReferenceChecker. Parent IDs are
// loaded once per reference; children are streamed.
func (s *Store) CheckReferences(ctx context.Context, kinds []string) error {
	for _, name := range kinds {
		k, _, err := s.table(name)
		if err != nil {
			return err
		}
		for _, ref := range k.References {
			if err := s.checkReference(ctx, k.Name, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) checkReference(ctx context.Context, kind string, ref records.Reference) error {
	_, parent, err := s.table(ref.Kind)
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM "+parent)
	if err != nil {
		return fmt.Errorf("failed to read %s ids: %w", ref.Kind, err)
	}
	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck,gosec // returning the scan error
			return err
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck,gosec // returning the iteration error
		return err
	}
	rows.Close() //nolint:errcheck,gosec // fully consumed

	return s.Scan(ctx, kind, nil, func(row records.Row) error {
		target, err := records.ReferencedID(row, ref.Field)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", kind, row.ID, err)
		}
		if target == "" {
			return nil
		}
		if _, ok := ids[target]; !ok {
			return fmt.Errorf("%s/%s: %s references missing %s/%s", kind, row.ID, ref.Field, ref.Kind, target)
		}
		return nil
	})
}

// sqlReader reads through a pool or a transaction.
type sqlReader struct {
	s *Store
	q querier
}

func (r *sqlReader) Scan(ctx context.Context, kind string, since *time.Time, fn func(records.Row) error) error {
	k, table, err := r.s.table(kind)
	if err != nil {
		return err
	}
	query := "SELECT id, payload, updated_at FROM " + table
	var args []any
	if since != nil && k.Incremental() {
		query += " WHERE updated_at IS NULL OR updated_at >= $1"
		args = append(args, since.UTC())
	}
	query += " ORDER BY id"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", kind, err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	for rows.Next() {
		var (
			id, payload string
			mod         sql.NullTime
		)
		if err := rows.Scan(&id, &payload, &mod); err != nil {
			return fmt.Errorf("failed to read %s row: %w", kind, err)
		}
		if err := fn(toRow(id, payload, mod)); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *sqlReader) Count(ctx context.Context, kind string) (int64, error) {
	_, table, err := r.s.table(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	return n, nil
}

// sqlWriter writes inside an open transaction and collects the changes to
// announce after commit. Reads see the transaction's own writes.
type sqlWriter struct {
	sqlReader
	track   bool
	changes []records.Change
}

func (w *sqlWriter) Truncate(ctx context.Context, kind string) error {
	_, table, err := w.s.table(kind)
	if err != nil {
		return err
	}
	if w.track {
		now := w.s.now().UTC()
		err := w.Scan(ctx, kind, nil, func(row records.Row) error {
			old := row
			w.changes = append(w.changes, records.Change{Kind: kind, ID: row.ID, Old: &old, At: now})
			return nil
		})
		if err != nil {
			return err
		}
	}
	if _, err := w.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", kind, err)
	}
	return nil
}

func (w *sqlWriter) Upsert(ctx context.Context, kind string, rows []records.Row) (int, error) {
	_, table, err := w.s.table(kind)
	if err != nil {
		return 0, err
	}
	stmt := upsertSQL(table)
	now := w.s.now().UTC()

	written := 0
	for _, row := range rows {
		if row.ID == "" {
			return written, fmt.Errorf("%s: row without id", kind)
		}
		data, err := records.CompactData(row.Data)
		if err != nil {
			return written, fmt.Errorf("%s/%s: %w", kind, row.ID, err)
		}

		var old *records.Row
		if w.track {
			if old, err = getRow(ctx, w.q, table, row.ID); err != nil {
				return written, err
			}
		}

		var mod any
		if row.ModifiedAt != nil {
			mod = row.ModifiedAt.UTC()
		}
		if _, err := w.q.ExecContext(ctx, stmt, row.ID, string(data), mod); err != nil {
			return written, fmt.Errorf("failed to upsert %s/%s: %w", kind, row.ID, err)
		}
		written++

		if w.track {
			n := row
			n.Data = data
			w.changes = append(w.changes, records.Change{Kind: kind, ID: row.ID, Old: old, New: &n, At: now})
		}
	}
	return written, nil
}
