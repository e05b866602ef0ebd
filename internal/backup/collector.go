// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/metrics"
	"github.com/tomtom215/warehousevault/internal/records"
)

const collectBufferSize = 256 << 10

// CollectedKind is one kind written to the work directory.
type CollectedKind struct {
	Kind  string
	Path  string
	Rows  int64
	Bytes int64

	// Complete is true when every row of the kind was captured.
	Complete bool

	// Fallback is true when an incremental capture had to include every
	// row because the kind has no last-modified marker.
	Fallback bool
}

// Collection is the output of one Collect call.
type Collection struct {
	Kinds    []CollectedKind
	Since    *time.Time
	Snapshot bool
}

// Fallbacks returns the kinds that fell back to a full capture.
func (c *Collection) Fallbacks() []string {
	out := make([]string, 0)
	for _, k := range c.Kinds {
		if k.Fallback {
			out = append(out, k.Kind)
		}
	}
	return out
}

// TotalRows sums rows across kinds.
func (c *Collection) TotalRows() int64 {
	var n int64
	for _, k := range c.Kinds {
		n += k.Rows
	}
	return n
}

// Counts returns rows per kind.
func (c *Collection) Counts() map[string]int64 {
	out := make(map[string]int64, len(c.Kinds))
	for _, k := range c.Kinds {
		out[k.Kind] = k.Rows
	}
	return out
}

// Paths returns every data file path.
func (c *Collection) Paths() []string {
	out := make([]string, 0, len(c.Kinds))
	for _, k := range c.Kinds {
		out = append(out, k.Path)
	}
	return out
}

// Collector streams record kinds out of a Source into per-kind files.
type Collector struct {
	source records.Source
}

// NewCollector returns a Collector reading from src.
func NewCollector(src records.Source) *Collector {
	return &Collector{source: src}
}

// Kinds enumerates the declared record kinds.
func (c *Collector) Kinds() []records.Kind {
	return c.source.Registry().Kinds()
}

// SupportsSnapshot reports whether the source offers consistent snapshots.
func (c *Collector) SupportsSnapshot() bool {
	_, ok := c.source.(records.Snapshotter)
	return ok
}

// Collect writes kinds into dir. When since is non-nil, incremental kinds
// are filtered to rows modified at or after since. A kind that fails is
// recorded and collection continues; the returned error is then a
// *CollectionError and the Collection holds only the kinds that succeeded.
// Cancellation aborts immediately.
func (c *Collector) Collect(ctx context.Context, kinds []records.Kind, since *time.Time, snapshot bool, dir string) (*Collection, error) {
	coll := &Collection{Since: since}
	failures := make(map[string]error)

	run := func(r records.Reader) error {
		for _, k := range kinds {
			if err := ctx.Err(); err != nil {
				return err
			}
			ck, err := c.collectKind(ctx, r, k, since, dir)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logging.Ctx(ctx).Warn().Err(err).Str("kind", k.Name).Msg("Record kind collection failed")
				failures[k.Name] = err
				continue
			}
			coll.Kinds = append(coll.Kinds, ck)
		}
		return nil
	}

	var err error
	if snap, ok := c.source.(records.Snapshotter); ok && snapshot {
		coll.Snapshot = true
		err = snap.Snapshot(ctx, run)
	} else {
		err = run(c.source)
	}
	if err != nil {
		removeFiles(coll.Paths())
		return nil, err
	}
	if len(failures) > 0 {
		return coll, &CollectionError{Failures: failures}
	}
	return coll, nil
}

//nolint:gosec // G304: dir is the job's private work directory
func (c *Collector) collectKind(ctx context.Context, r records.Reader, k records.Kind, since *time.Time, dir string) (ck CollectedKind, err error) {
	codec := k.RowCodec()
	path := filepath.Join(dir, k.Name+"."+codec.Ext())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return ck, fmt.Errorf("failed to create data file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path) //nolint:errcheck // partial data file
		}
	}()

	cw := &countingWriter{w: f}
	bw := bufio.NewWriterSize(cw, collectBufferSize)

	kindSince := since
	if !k.Incremental() {
		kindSince = nil
	}

	var rows int64
	err = r.Scan(ctx, k.Name, kindSince, func(row records.Row) error {
		rows++
		return codec.Encode(bw, row)
	})
	if err != nil {
		return ck, err
	}
	if err = bw.Flush(); err != nil {
		return ck, fmt.Errorf("failed to flush data file: %w", err)
	}

	ck = CollectedKind{
		Kind:     k.Name,
		Path:     path,
		Rows:     rows,
		Bytes:    cw.n,
		Complete: kindSince == nil,
		Fallback: since != nil && !k.Incremental(),
	}
	metrics.BackupRecordsCollected.WithLabelValues(k.Name).Add(float64(rows))
	if ck.Fallback {
		metrics.BackupIncrementalFallbacks.WithLabelValues(k.Name).Inc()
	}
	logging.Ctx(ctx).Debug().
		Str("kind", k.Name).
		Int64("rows", rows).
		Int64("bytes", cw.n).
		Bool("fallback", ck.Fallback).
		Msg("Collected record kind")
	return ck, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func removeFiles(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn().Err(err).Str("path", p).Msg("Failed to remove file")
		}
	}
}
