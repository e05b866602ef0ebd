// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

// Package backup creates, verifies, restores, and expires logical backups of
// the records held by a records.Source.
//
// # Overview
//
// A backup is a single sequential pipeline:
//
//	collect -> archive -> checksum -> encrypt -> upload -> (verify)
//
// The Collector streams every requested record kind into one newline-delimited
// JSON file per kind. The Archiver writes a manifest plus those files into one
// compressed tar container and removes the intermediates. The SHA-256 of the
// container is stored in the job ledger, never inside the artifact. The
// container is then optionally encrypted with a chunked AES-256-GCM stream
// and uploaded to a remote store. Upload failure leaves the job completed but
// local-only.
//
// # Backup Types
//
//	TypeFull         - every row of every requested kind
//	TypeIncremental  - rows modified since the last full or incremental backup
//	TypeDifferential - rows modified since the last full backup
//	TypeSnapshot     - a full capture read inside one consistent snapshot
//	TypeSelective    - a full capture of the caller's kinds only
//
// Kinds without a last-modified marker cannot be filtered by time. They are
// captured in full and listed under incremental_fallbacks in the manifest.
//
// # Restore Modes
//
// The manifest marks each kind as a complete capture or a delta. Restoring a
// complete capture replaces the kind's rows; a delta is merged by ID. Applying
// a full backup followed by the incrementals taken after it converges to the
// state at the last incremental.
//
// # Job State
//
// Jobs live in a ledger.Ledger. Only the Manager writes job state, and every
// transition is checked against the ledger's state machine:
//
//	backup:  pending -> running -> [verifying -> verified] | completed | failed
//	restore: pending -> running -> validated (dry run)
//	                            -> validating -> completed | failed
//
// At most one job may run per record kind. A request whose scope overlaps a
// running job is rejected with ErrScopeBusy.
//
// # Usage
//
//	mgr, err := backup.NewManager(cfg, backup.Deps{
//		Source:    src,
//		Ledger:    led,
//		Keys:      keyring,
//		Remote:    store,
//		Publisher: events,
//	})
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//
//	job, err := mgr.StartBackup(ctx, backup.BackupRequest{Type: ledger.TypeIncremental})
//	...
//	rj, err := mgr.RunRestore(ctx, backup.RestoreRequest{BackupID: job.ID, RollbackOnFailure: true})
package backup
