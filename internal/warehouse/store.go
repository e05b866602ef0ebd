// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/records"
)

// Config selects and tunes the warehouse connection.
type Config struct {
	// Driver is duckdb or pgx.
	Driver string

	// DSN is a DuckDB file path (empty or ":memory:" for in-memory) or a
	// PostgreSQL connection URL.
	DSN string

	// MaxOpenConns caps the pool; zero uses the number of CPUs.
	MaxOpenConns int
}

// Store is a records.Source backed by a SQL database.
type Store struct {
	records.Hooks

	db       *sql.DB
	dialect  dialect
	registry *records.Registry
	tables   map[string]string
	now      func() time.Time
}

// Open connects to the warehouse and creates missing kind tables.
func Open(ctx context.Context, cfg Config, reg *records.Registry) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	tables := make(map[string]string, len(reg.Names()))
	for _, name := range reg.Names() {
		quoted, err := quoteIdent(name)
		if err != nil {
			return nil, err
		}
		tables[name] = quoted
	}

	dsn, err := connString(d, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}
	configurePool(db, cfg.MaxOpenConns)

	s := &Store{db: db, dialect: d, registry: reg, tables: tables, now: time.Now}
	if err := db.PingContext(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		closeQuietly(db)
		return nil, err
	}

	logging.Info().
		Str("driver", d.driver).
		Int("kinds", len(tables)).
		Msg("Warehouse connected")
	return s, nil
}

// connString normalizes the DSN. DuckDB file databases get their parent
// directory created and extension auto-loading disabled, so opening never
// reaches the network.
func connString(d dialect, dsn string) (string, error) {
	if d.driver != DriverDuckDB {
		if dsn == "" {
			return "", fmt.Errorf("pgx driver requires a DSN")
		}
		return dsn, nil
	}
	if dsn == "" {
		dsn = ":memory:"
	}
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return "", fmt.Errorf("failed to create warehouse directory %s: %w", dir, err)
			}
		}
	}
	if strings.Contains(dsn, "?") {
		return dsn, nil
	}
	return dsn + "?autoinstall_known_extensions=false&autoload_known_extensions=false", nil
}

func configurePool(db *sql.DB, maxOpen int) {
	if maxOpen <= 0 {
		maxOpen = runtime.NumCPU()
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, name := range s.registry.Names() {
		if _, err := s.db.ExecContext(ctx, s.dialect.createTable(s.tables[name])); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Registry implements records.Source.
func (s *Store) Registry() *records.Registry { return s.registry }

// Driver returns the configured driver name.
func (s *Store) Driver() string { return s.dialect.driver }

func (s *Store) table(kind string) (records.Kind, string, error) {
	k, ok := s.registry.Lookup(kind)
	if !ok {
		return records.Kind{}, "", fmt.Errorf("%w: %s", records.ErrUnknownKind, kind)
	}
	return k, s.tables[kind], nil
}

// Put is the application write path. Rows of incremental kinds without a
// marker are stamped with the current time.
func (s *Store) Put(ctx context.Context, kind string, row records.Row) error {
	k, _, err := s.table(kind)
	if err != nil {
		return err
	}
	if row.ModifiedAt == nil && k.Incremental() {
		now := s.now().UTC()
		row.ModifiedAt = &now
	}
	return s.Atomic(ctx, func(w records.Writer) error {
		_, err := w.Upsert(ctx, kind, []records.Row{row})
		return err
	})
}

// Get returns one row.
func (s *Store) Get(ctx context.Context, kind, id string) (records.Row, bool, error) {
	_, table, err := s.table(kind)
	if err != nil {
		return records.Row{}, false, err
	}
	row, err := getRow(ctx, s.db, table, id)
	if err != nil {
		return records.Row{}, false, err
	}
	if row == nil {
		return records.Row{}, false, nil
	}
	return *row, true, nil
}

// Delete removes one row and announces it.
func (s *Store) Delete(ctx context.Context, kind, id string) error {
	_, table, err := s.table(kind)
	if err != nil {
		return err
	}
	return s.Atomic(ctx, func(w records.Writer) error {
		sw := w.(*sqlWriter)
		var old *records.Row
		if sw.track {
			o, err := getRow(ctx, sw.q, table, id)
			if err != nil {
				return err
			}
			old = o
		}
		res, err := sw.q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", kind, id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 && old != nil {
			sw.changes = append(sw.changes, records.Change{Kind: kind, ID: id, Old: old, At: s.now().UTC()})
		}
		return nil
	})
}

func getRow(ctx context.Context, q querier, table, id string) (*records.Row, error) {
	var (
		payload string
		mod     sql.NullTime
	)
	err := q.QueryRowContext(ctx, "SELECT payload, updated_at FROM "+table+" WHERE id = $1", id).Scan(&payload, &mod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}
	row := toRow(id, payload, mod)
	return &row, nil
}

func toRow(id, payload string, mod sql.NullTime) records.Row {
	row := records.Row{ID: id, Data: []byte(payload)}
	if mod.Valid {
		t := mod.Time.UTC()
		row.ModifiedAt = &t
	}
	return row
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close() // best-effort cleanup on error paths
	}
}
