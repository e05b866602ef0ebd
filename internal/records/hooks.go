// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package records

import (
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/warehousevault/internal/metrics"
)

// ChangeOp classifies a record change.
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change describes one record write. Old is nil for creates, New is nil for deletes.
type Change struct {
	Kind string
	ID   string
	Old  *Row
	New  *Row
	At   time.Time
}

// Op derives the operation from Old and New.
func (c Change) Op() ChangeOp {
	switch {
	case c.Old == nil:
		return OpCreate
	case c.New == nil:
		return OpDelete
	default:
		return OpUpdate
	}
}

// ChangeHook receives record changes. Hooks run synchronously on the writer's
// goroutine and must not call back into the source.
type ChangeHook func(Change)

// Hooks is the on_record_changed fan-out a source embeds.
type Hooks struct {
	mu     sync.RWMutex
	nextID int
	hooks  map[int]ChangeHook
}

// OnRecordChanged subscribes fn and returns a function that unsubscribes it.
func (h *Hooks) OnRecordChanged(fn ChangeHook) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hooks == nil {
		h.hooks = make(map[int]ChangeHook)
	}
	id := h.nextID
	h.nextID++
	h.hooks[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.hooks, id)
		h.mu.Unlock()
	}
}

// Active reports whether anyone is subscribed. Sources use it to skip
// building Change values nobody will see.
func (h *Hooks) Active() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hooks) > 0
}

// Emit delivers c to every subscriber.
func (h *Hooks) Emit(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.hooks {
		fn(c)
	}
}

// Notifier is implemented by sources that announce their writes.
type Notifier interface {
	OnRecordChanged(fn ChangeHook) (unsubscribe func())
}

// ChangeTracker counts changes per kind since the last Mark. The scheduler
// uses it to skip incremental runs when nothing changed.
type ChangeTracker struct {
	mu     sync.Mutex
	counts map[string]int64
	last   map[string]uint64
	seq    uint64
	marked bool
}

// NewChangeTracker subscribes a tracker to n.
func NewChangeTracker(n Notifier) *ChangeTracker {
	t := &ChangeTracker{counts: make(map[string]int64), last: make(map[string]uint64)}
	n.OnRecordChanged(t.observe)
	return t
}

func (t *ChangeTracker) observe(c Change) {
	metrics.RecordChanges.WithLabelValues(c.Kind, string(c.Op())).Inc()
	t.mu.Lock()
	t.seq++
	t.counts[c.Kind]++
	t.last[c.Kind] = t.seq
	t.mu.Unlock()
}

// Changed returns the sorted kinds with at least one change since Mark.
func (t *ChangeTracker) Changed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.counts))
	for k, n := range t.counts {
		if n > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns changes recorded for kind since Mark.
func (t *ChangeTracker) Count(kind string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[kind]
}

// Position returns the sequence number of the latest observed change.
func (t *ChangeTracker) Position() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Marked reports whether Mark or MarkThrough was called since creation.
// Before that the tracker knows nothing about changes made earlier.
func (t *ChangeTracker) Marked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.marked
}

// Mark resets every counter.
func (t *ChangeTracker) Mark() {
	t.mu.Lock()
	t.counts = make(map[string]int64)
	t.last = make(map[string]uint64)
	t.marked = true
	t.mu.Unlock()
}

// MarkThrough resets the kinds whose latest change is at or before pos, so
// changes made while a backup ran stay counted.
func (t *ChangeTracker) MarkThrough(pos uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, last := range t.last {
		if last <= pos {
			delete(t.last, k)
			delete(t.counts, k)
		}
	}
	t.marked = true
}
