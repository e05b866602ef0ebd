// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"bufio"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/metrics"
	"github.com/tomtom215/warehousevault/internal/records"
)

// restoreBatchSize is the number of rows handed to one Upsert call.
const restoreBatchSize = 500

// kindApplied is what applyKind did to one kind.
type kindApplied struct {
	read      int64 // rows decoded from the artifact, including skipped ones
	written   int64
	skipped   int64
	truncated bool
}

// applyRestore writes every kind in registry order. When the source
// implements records.Transactor the whole restore is one unit of work and a
// failure leaves nothing behind. Otherwise kinds are applied one after
// another in batches: a failure keeps the kinds already applied and the
// batches of the failing kind that were written, and rj records exactly
// those rows so the failed job reports what reached the source.
func (m *Manager) applyRestore(ctx context.Context, rj *ledger.RestoreJob, kinds []records.Kind, ext *Extracted) (map[string]kindApplied, error) {
	applied := make(map[string]kindApplied, len(kinds))
	apply := func(w records.Writer) error {
		for _, k := range kinds {
			if err := checkpoint(ctx, "apply "+k.Name); err != nil {
				return err
			}
			res, err := m.applyKind(ctx, w, k, ext, rj.PointInTime)
			if err != nil {
				if res.written > 0 || res.truncated {
					applied[k.Name] = res
				}
				return fmt.Errorf("%s: %w", k.Name, err)
			}
			applied[k.Name] = res
		}
		return nil
	}

	tx, atomic := m.source.(records.Transactor)
	var err error
	if atomic {
		err = tx.Atomic(ctx, apply)
	} else {
		err = apply(m.source)
	}
	if err != nil {
		if atomic {
			recordApplied(rj, nil)
		} else {
			recordApplied(rj, applied)
		}
		return nil, err
	}
	recordApplied(rj, applied)
	return applied, nil
}

// recordApplied stores the rows that reached the source on rj.
func recordApplied(rj *ledger.RestoreJob, applied map[string]kindApplied) {
	rj.KindsRestored = make(map[string]int64, len(applied))
	rj.RecordsRestored = 0
	for name, res := range applied {
		rj.KindsRestored[name] = res.written
		rj.RecordsRestored += res.written
		metrics.RestoreRecordsApplied.WithLabelValues(name).Add(float64(res.written))
	}
}

// applyKind streams one data file into w. Replace mode truncates first;
// merge mode only upserts.
func (m *Manager) applyKind(ctx context.Context, w records.Writer, k records.Kind, ext *Extracted, pit *time.Time) (kindApplied, error) {
	var res kindApplied
	mode := ext.Manifest.Mode(k.Name)
	if mode == ModeReplace {
		if err := w.Truncate(ctx, k.Name); err != nil {
			return res, fmt.Errorf("truncate: %w", err)
		}
		res.truncated = true
	}

	batch := make([]records.Row, 0, restoreBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := w.Upsert(ctx, k.Name, batch)
		res.written += int64(n)
		batch = batch[:0]
		return err
	}

	err := m.eachArtifactRow(ctx, k, ext, func(row records.Row) error {
		res.read++
		if pit != nil && row.ModifiedAfter(*pit) {
			res.skipped++
			return nil
		}
		batch = append(batch, row)
		if len(batch) == restoreBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return res, err
	}

	logging.Ctx(ctx).Debug().
		Str("kind", k.Name).
		Str("mode", mode).
		Int64("written", res.written).
		Int64("skipped", res.skipped).
		Msg("Kind restored")
	return res, nil
}

// eachArtifactRow decodes the extracted data file of k.
func (m *Manager) eachArtifactRow(ctx context.Context, k records.Kind, ext *Extracted, fn func(records.Row) error) error {
	p, ok := ext.Files[k.Name]
	if !ok {
		return fmt.Errorf("%w: no data file for %s", ErrIntegrityFailure, k.Name)
	}
	f, err := os.Open(p) //nolint:gosec // path produced by Extract inside our work dir
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read-only

	dec := k.RowCodec().Decoder(bufio.NewReader(ctxReader{ctx: ctx, r: f}))
	for {
		row, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return fmt.Errorf("%w: %s: %v", ErrIntegrityFailure, k.Name, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// planRestore computes what a restore would do without writing. Rows are
// compared by a digest of their body and last-modified marker.
func (m *Manager) planRestore(ctx context.Context, kinds []records.Kind, ext *Extracted, pit *time.Time) (map[string]ledger.KindPlan, error) {
	plan := make(map[string]ledger.KindPlan, len(kinds))
	for _, k := range kinds {
		current := make(map[string][sha256.Size]byte)
		err := m.source.Scan(ctx, k.Name, nil, func(row records.Row) error {
			current[row.ID] = rowDigest(row)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read current %s: %w", k.Name, err)
		}

		p := ledger.KindPlan{Mode: ext.Manifest.Mode(k.Name)}
		seen := make(map[string]struct{}, len(current))
		err = m.eachArtifactRow(ctx, k, ext, func(row records.Row) error {
			if pit != nil && row.ModifiedAfter(*pit) {
				p.Skipped++
				return nil
			}
			seen[row.ID] = struct{}{}
			existing, ok := current[row.ID]
			switch {
			case !ok:
				p.Create++
			case existing != rowDigest(row):
				p.Update++
			default:
				p.Unchanged++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if p.Mode == ModeReplace {
			for id := range current {
				if _, ok := seen[id]; !ok {
					p.Delete++
				}
			}
		}
		plan[k.Name] = p
	}
	return plan, nil
}

func rowDigest(row records.Row) [sha256.Size]byte {
	h := sha256.New()
	if data, err := records.CompactData(row.Data); err == nil {
		h.Write(data)
	} else {
		h.Write(row.Data)
	}
	h.Write([]byte{0})
	if row.ModifiedAt != nil {
		h.Write([]byte(row.ModifiedAt.UTC().Format(time.RFC3339Nano)))
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// validateRestore checks row counts against what was applied and, when the
// source supports it, referential integrity across the restored kinds.
func (m *Manager) validateRestore(ctx context.Context, kinds []records.Kind, ext *Extracted, applied map[string]kindApplied) *ledger.ValidationReport {
	report := &ledger.ValidationReport{Passed: true}
	add := func(c ledger.ValidationCheck) {
		if !c.Passed {
			report.Passed = false
		}
		report.Checks = append(report.Checks, c)
	}

	for _, k := range kinds {
		res := applied[k.Name]

		mk := ext.Manifest.Kinds[k.Name]
		add(ledger.ValidationCheck{
			Kind:     k.Name,
			Check:    "artifact_rows",
			Expected: mk.Rows,
			Actual:   res.read,
			Passed:   mk.Rows == res.read,
		})

		count, err := m.source.Count(ctx, k.Name)
		c := ledger.ValidationCheck{
			Kind:     k.Name,
			Check:    "row_count",
			Expected: res.written,
			Actual:   count,
		}
		switch {
		case err != nil:
			c.Message = err.Error()
		case ext.Manifest.Mode(k.Name) == ModeReplace:
			c.Passed = count == res.written
		default:
			c.Passed = count >= res.written
			c.Message = "merge: at least the restored rows must be present"
		}
		add(c)
	}

	if rc, ok := m.source.(records.ReferenceChecker); ok {
		c := ledger.ValidationCheck{Kind: "*", Check: "references", Passed: true}
		if err := rc.CheckReferences(ctx, kindNames(kinds)); err != nil {
			c.Passed = false
			c.Message = err.Error()
		}
		add(c)
	}
	return report
}

// failedChecks summarizes the failed checks of report.
func failedChecks(report *ledger.ValidationReport) string {
	var parts []string
	for _, c := range report.Checks {
		if c.Passed {
			continue
		}
		msg := fmt.Sprintf("%s %s (expected %d, got %d)", c.Kind, c.Check, c.Expected, c.Actual)
		if c.Message != "" {
			msg += ": " + c.Message
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
