// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package records

import (
	"context"
	"time"
)

// Reader streams rows out of a source.
type Reader interface {
	// Scan calls fn for every row of kind, in ID order. When since is non-nil
	// and the kind declares a ModifiedField, only rows modified at or after
	// since are visited. Returning an error from fn stops the scan.
	Scan(ctx context.Context, kind string, since *time.Time, fn func(Row) error) error

	// Count returns the number of rows currently stored for kind.
	Count(ctx context.Context, kind string) (int64, error)
}

// Writer applies rows to a source.
type Writer interface {
	// Truncate removes every row of kind.
	Truncate(ctx context.Context, kind string) error

	// Upsert inserts or replaces rows by ID and returns how many were written.
	Upsert(ctx context.Context, kind string, rows []Row) (int, error)
}

// Source is the collaborator the backup subsystem reads from and restores into.
type Source interface {
	Reader
	Writer

	// Registry returns the statically declared record kinds.
	Registry() *Registry
}

// Transactor is implemented by sources that can apply a batch of writes as
// one atomic unit of work. If fn returns an error nothing it wrote survives.
type Transactor interface {
	Atomic(ctx context.Context, fn func(w Writer) error) error
}

// Snapshotter is implemented by sources with a native consistent bulk
// export. fn sees every kind as of a single instant.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(r Reader) error) error
}

// ReferenceChecker is implemented by sources that can check the declared
// References of the given kinds. A non-nil error describes dangling rows.
type ReferenceChecker interface {
	CheckReferences(ctx context.Context, kinds []string) error
}
