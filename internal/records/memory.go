// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package records

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemorySource is an in-process Source. It backs tests and embedded use,
// and implements every optional capability.
type MemorySource struct {
	Hooks

	mu       sync.RWMutex
	registry *Registry
	data     map[string]map[string]Row
	scanErrs map[string]error
	refCheck func(kinds []string) error
	now      func() time.Time
}

// NewMemorySource creates an empty source for the registry's kinds.
func NewMemorySource(reg *Registry) *MemorySource {
	m := &MemorySource{
		registry: reg,
		data:     make(map[string]map[string]Row),
		scanErrs: make(map[string]error),
		now:      time.Now,
	}
	for _, name := range reg.Names() {
		m.data[name] = make(map[string]Row)
	}
	return m
}

// Registry implements Source.
func (m *MemorySource) Registry() *Registry { return m.registry }

// SetScanError makes every Scan of kind fail with err. Nil clears it.
func (m *MemorySource) SetScanError(kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.scanErrs, kind)
		return
	}
	m.scanErrs[kind] = err
}

// SetReferenceCheck installs the function CheckReferences delegates to.
func (m *MemorySource) SetReferenceCheck(fn func(kinds []string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refCheck = fn
}

// Put writes a single row through the normal write path. Rows of
// incremental kinds without a marker are stamped with the current time.
func (m *MemorySource) Put(kind string, row Row) error {
	if k, ok := m.registry.Lookup(kind); ok && k.Incremental() && row.ModifiedAt == nil {
		now := m.now()
		row.ModifiedAt = &now
	}
	_, err := m.Upsert(context.Background(), kind, []Row{row})
	return err
}

// Delete removes a row. Missing rows are ignored.
func (m *MemorySource) Delete(kind, id string) error {
	m.mu.Lock()
	rows, ok := m.data[kind]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	old, existed := rows[id]
	delete(rows, id)
	m.mu.Unlock()

	if existed {
		m.Emit(Change{Kind: kind, ID: id, Old: &old, At: m.now()})
	}
	return nil
}

// Get returns a row by ID.
func (m *MemorySource) Get(kind, id string) (Row, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.data[kind][id]
	return row, ok
}

// Rows returns every row of kind in ID order.
func (m *MemorySource) Rows(kind string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedRows(m.data[kind], nil, false)
}

// Scan implements Reader.
func (m *MemorySource) Scan(ctx context.Context, kind string, since *time.Time, fn func(Row) error) error {
	m.mu.RLock()
	if err := m.scanErrs[kind]; err != nil {
		m.mu.RUnlock()
		return err
	}
	k, ok := m.registry.Lookup(kind)
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	rows := sortedRows(m.data[kind], since, k.Incremental())
	m.mu.RUnlock()

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// Count implements Reader.
func (m *MemorySource) Count(_ context.Context, kind string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.data[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return int64(len(rows)), nil
}

// Truncate implements Writer.
func (m *MemorySource) Truncate(_ context.Context, kind string) error {
	m.mu.Lock()
	changes, err := m.truncateLocked(kind)
	m.mu.Unlock()
	m.emitAll(changes)
	return err
}

// Upsert implements Writer.
func (m *MemorySource) Upsert(_ context.Context, kind string, rows []Row) (int, error) {
	m.mu.Lock()
	changes, err := m.upsertLocked(kind, rows)
	m.mu.Unlock()
	m.emitAll(changes)
	return len(changes), err
}

// Atomic implements Transactor. Readers block while fn runs; on error the
// previous contents are restored and no changes are announced.
func (m *MemorySource) Atomic(ctx context.Context, fn func(w Writer) error) error {
	m.mu.Lock()
	saved := m.cloneLocked()
	tx := &memoryTx{m: m}
	err := fn(tx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.data = saved
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	m.emitAll(tx.changes)
	return nil
}

// Snapshot implements Snapshotter by freezing a copy of every kind.
func (m *MemorySource) Snapshot(ctx context.Context, fn func(r Reader) error) error {
	m.mu.RLock()
	frozen := &MemorySource{
		registry: m.registry,
		data:     m.cloneLocked(),
		scanErrs: make(map[string]error, len(m.scanErrs)),
		now:      m.now,
	}
	for k, v := range m.scanErrs {
		frozen.scanErrs[k] = v
	}
	m.mu.RUnlock()
	return fn(frozen)
}

// CheckReferences implements ReferenceChecker. Without an installed check it
// verifies declared References against the stored rows.
func (m *MemorySource) CheckReferences(_ context.Context, kinds []string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCheck != nil {
		return m.refCheck(kinds)
	}
	for _, name := range kinds {
		k, ok := m.registry.Lookup(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownKind, name)
		}
		for _, ref := range k.References {
			for _, row := range m.data[name] {
				target, err := ReferencedID(row, ref.Field)
				if err != nil {
					return fmt.Errorf("%s/%s: %w", name, row.ID, err)
				}
				if target == "" {
					continue
				}
				if _, ok := m.data[ref.Kind][target]; !ok {
					return fmt.Errorf("%s/%s: %s references missing %s/%s", name, row.ID, ref.Field, ref.Kind, target)
				}
			}
		}
	}
	return nil
}

func (m *MemorySource) truncateLocked(kind string) ([]Change, error) {
	rows, ok := m.data[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	now := m.now()
	changes := make([]Change, 0, len(rows))
	for id, row := range rows {
		old := row
		changes = append(changes, Change{Kind: kind, ID: id, Old: &old, At: now})
	}
	m.data[kind] = make(map[string]Row)
	return changes, nil
}

func (m *MemorySource) upsertLocked(kind string, rows []Row) ([]Change, error) {
	stored, ok := m.data[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	now := m.now()
	changes := make([]Change, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			return changes, fmt.Errorf("%s: row without id", kind)
		}
		data, err := CompactData(row.Data)
		if err != nil {
			return changes, fmt.Errorf("%s/%s: %w", kind, row.ID, err)
		}
		row.Data = data
		if row.ModifiedAt != nil {
			t := *row.ModifiedAt
			row.ModifiedAt = &t
		}

		c := Change{Kind: kind, ID: row.ID, At: now}
		if old, existed := stored[row.ID]; existed {
			o := old
			c.Old = &o
		}
		n := row
		c.New = &n
		stored[row.ID] = row
		changes = append(changes, c)
	}
	return changes, nil
}

func (m *MemorySource) cloneLocked() map[string]map[string]Row {
	out := make(map[string]map[string]Row, len(m.data))
	for kind, rows := range m.data {
		cp := make(map[string]Row, len(rows))
		for id, row := range rows {
			cp[id] = row
		}
		out[kind] = cp
	}
	return out
}

func (m *MemorySource) emitAll(changes []Change) {
	for _, c := range changes {
		m.Emit(c)
	}
}

type memoryTx struct {
	m       *MemorySource
	changes []Change
}

func (tx *memoryTx) Truncate(_ context.Context, kind string) error {
	changes, err := tx.m.truncateLocked(kind)
	tx.changes = append(tx.changes, changes...)
	return err
}

func (tx *memoryTx) Upsert(_ context.Context, kind string, rows []Row) (int, error) {
	changes, err := tx.m.upsertLocked(kind, rows)
	tx.changes = append(tx.changes, changes...)
	return len(changes), err
}

func sortedRows(rows map[string]Row, since *time.Time, incremental bool) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if since != nil && incremental && !row.ModifiedSince(*since) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
