// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

// Package records defines the contract between the backup subsystem and the
// data it protects.
//
// A Record Source exposes a statically declared Registry of record kinds,
// streams rows out of each kind and applies rows back into it. Sources may
// additionally offer atomic units of work (Transactor), consistent bulk
// export (Snapshotter) and referential checks (ReferenceChecker); the
// backup manager discovers these capabilities with type assertions.
//
// Writes made by a source are announced through an explicit OnRecordChanged
// hook (see Hooks) rather than implicit global signals.
package records

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrUnknownKind is returned when a kind name is not declared in the Registry.
var ErrUnknownKind = errors.New("unknown record kind")

// Reference declares that Field on a kind holds the ID of a row of Kind.
type Reference struct {
	Field string `json:"field"`
	Kind  string `json:"kind"`
}

// Kind is one category of records (a table or model).
type Kind struct {
	// Name is the stable identifier used in manifests and artifact file names.
	Name string `json:"name"`

	// ModifiedField names the last-modified marker. Empty means rows of this
	// kind cannot be filtered by time and are always captured in full.
	ModifiedField string `json:"modified_field,omitempty"`

	// References lists foreign keys that referential validation checks.
	References []Reference `json:"references,omitempty"`

	// Codec serializes rows of this kind. Nil means JSONLines.
	Codec Codec `json:"-"`
}

// Incremental reports whether rows of k carry a last-modified marker.
func (k Kind) Incremental() bool {
	return k.ModifiedField != ""
}

// RowCodec returns the kind's codec, defaulting to JSONLines.
func (k Kind) RowCodec() Codec {
	if k.Codec == nil {
		return JSONLines{}
	}
	return k.Codec
}

// Row is one serialized record. Data is the record body as compact JSON and
// is carried through backup and restore byte for byte.
type Row struct {
	ID         string          `json:"id"`
	ModifiedAt *time.Time      `json:"modified_at,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// ModifiedSince reports whether the row's marker is at or after t.
// Rows without a marker are treated as modified.
func (r Row) ModifiedSince(t time.Time) bool {
	if r.ModifiedAt == nil {
		return true
	}
	return !r.ModifiedAt.Before(t)
}

// ModifiedAfter reports whether the row's marker is strictly after t.
func (r Row) ModifiedAfter(t time.Time) bool {
	return r.ModifiedAt != nil && r.ModifiedAt.After(t)
}

// Registry is the statically declared set of record kinds. Declaration order
// is significant: parents must be declared before the kinds referencing them,
// so iterating in order is also a safe restore order.
type Registry struct {
	kinds  []Kind
	byName map[string]int
}

// NewRegistry validates and indexes the given kinds.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(kinds))}
	for i, k := range kinds {
		if k.Name == "" {
			return nil, fmt.Errorf("record kind %d has no name", i)
		}
		if _, dup := r.byName[k.Name]; dup {
			return nil, fmt.Errorf("record kind %q declared twice", k.Name)
		}
		for _, ref := range k.References {
			if _, ok := r.byName[ref.Kind]; !ok && ref.Kind != k.Name {
				return nil, fmt.Errorf("record kind %q references %q which is not declared before it", k.Name, ref.Kind)
			}
		}
		r.byName[k.Name] = i
		r.kinds = append(r.kinds, k)
	}
	return r, nil
}

// MustRegistry is NewRegistry for package-level declarations.
func MustRegistry(kinds ...Kind) *Registry {
	r, err := NewRegistry(kinds...)
	if err != nil {
		panic(err)
	}
	return r
}

// Kinds returns every declared kind in declaration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// Names returns every declared kind name in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.kinds))
	for i, k := range r.kinds {
		out[i] = k.Name
	}
	return out
}

// Lookup finds a kind by name.
func (r *Registry) Lookup(name string) (Kind, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Kind{}, false
	}
	return r.kinds[i], true
}

// Resolve turns a list of names into kinds in declaration order. An empty
// list means every kind. Duplicates are ignored; unknown names fail.
func (r *Registry) Resolve(names []string) ([]Kind, error) {
	if len(names) == 0 {
		return r.Kinds(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.byName[n]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKind, n)
		}
		want[n] = true
	}
	out := make([]Kind, 0, len(want))
	for _, k := range r.kinds {
		if want[k.Name] {
			out = append(out, k)
		}
	}
	return out, nil
}
