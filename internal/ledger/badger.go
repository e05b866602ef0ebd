// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/warehousevault/internal/logging"
)

// Key prefixes for BadgerDB storage
const (
	backupKeyPrefix  = "backup:"
	restoreKeyPrefix = "restore:"
)

// BadgerLedger stores jobs as JSON documents in BadgerDB.
type BadgerLedger struct {
	db *badger.DB
	// writeMu makes every read-check-write a single writer, so two
	// updates to one job row can never interleave.
	writeMu sync.Mutex
}

// OpenBadger opens (or creates) a ledger at dir. An empty dir or inMemory
// opens a throwaway in-memory ledger.
func OpenBadger(dir string, inMemory bool) (*BadgerLedger, error) {
	opts := badger.DefaultOptions(dir)
	if inMemory || dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithMemTableSize(16 << 20)
	}
	opts = opts.WithLogger(badgerLogger{logging.WithComponent("ledger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open job ledger: %w", err)
	}
	return &BadgerLedger{db: db}, nil
}

// Close flushes and closes the database.
func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

// ErrLedgerClosed is returned by Ping after Close.
var ErrLedgerClosed = errors.New("job ledger is closed")

// Ping reports whether the ledger can serve reads.
func (l *BadgerLedger) Ping(_ context.Context) error {
	if l.db.IsClosed() {
		return ErrLedgerClosed
	}
	return l.db.View(func(*badger.Txn) error { return nil })
}

// RunGC rewrites value log files until badger finds nothing left worth
// reclaiming at discardRatio, and returns how many files it rewrote. In-memory
// ledgers have no value log and report zero.
func (l *BadgerLedger) RunGC(discardRatio float64) (int, error) {
	rewritten := 0
	for {
		err := l.db.RunValueLogGC(discardRatio)
		switch {
		case err == nil:
			rewritten++
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode):
			return rewritten, nil
		default:
			return rewritten, fmt.Errorf("ledger value log gc: %w", err)
		}
	}
}

// CreateBackup implements Ledger.
func (l *BadgerLedger) CreateBackup(_ context.Context, job *BackupJob) error {
	if job.ID == "" {
		return errors.New("backup job has no id")
	}
	if job.Status != BackupPending {
		return fmt.Errorf("%w: backup jobs are created pending, got %s", ErrInvalidTransition, job.Status)
	}
	return l.create(backupKeyPrefix+job.ID, job)
}

// UpdateBackup implements Ledger.
func (l *BadgerLedger) UpdateBackup(_ context.Context, job *BackupJob) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	key := []byte(backupKeyPrefix + job.ID)
	return l.db.Update(func(txn *badger.Txn) error {
		var current BackupJob
		if err := getJSON(txn, key, &current); err != nil {
			return err
		}
		if !CanTransitionBackup(current.Status, job.Status) {
			return fmt.Errorf("%w: backup %s %s -> %s", ErrInvalidTransition, job.ID, current.Status, job.Status)
		}
		return setJSON(txn, key, job)
	})
}

// GetBackup implements Ledger.
func (l *BadgerLedger) GetBackup(_ context.Context, id string) (*BackupJob, error) {
	var job BackupJob
	err := l.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(backupKeyPrefix+id), &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListBackups implements Ledger.
func (l *BadgerLedger) ListBackups(_ context.Context, filter BackupFilter) ([]*BackupJob, error) {
	var jobs []*BackupJob
	err := l.scan(backupKeyPrefix, func(val []byte) error {
		var job BackupJob
		if err := json.Unmarshal(val, &job); err != nil {
			return fmt.Errorf("decode backup job: %w", err)
		}
		if filter.Matches(&job) {
			jobs = append(jobs, &job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortAndPageBackups(jobs, filter.Limit, filter.Offset), nil
}

// DeleteBackup implements Ledger.
func (l *BadgerLedger) DeleteBackup(_ context.Context, id string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	key := []byte(backupKeyPrefix + id)
	return l.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, id)
			}
			return err
		}
		return txn.Delete(key)
	})
}

// CreateRestore implements Ledger.
func (l *BadgerLedger) CreateRestore(_ context.Context, job *RestoreJob) error {
	if job.ID == "" {
		return errors.New("restore job has no id")
	}
	if job.Status != RestorePending {
		return fmt.Errorf("%w: restore jobs are created pending, got %s", ErrInvalidTransition, job.Status)
	}
	return l.create(restoreKeyPrefix+job.ID, job)
}

// UpdateRestore implements Ledger.
func (l *BadgerLedger) UpdateRestore(_ context.Context, job *RestoreJob) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	key := []byte(restoreKeyPrefix + job.ID)
	return l.db.Update(func(txn *badger.Txn) error {
		var current RestoreJob
		if err := getJSON(txn, key, &current); err != nil {
			return err
		}
		if !CanTransitionRestore(current.Status, job.Status) {
			return fmt.Errorf("%w: restore %s %s -> %s", ErrInvalidTransition, job.ID, current.Status, job.Status)
		}
		return setJSON(txn, key, job)
	})
}

// GetRestore implements Ledger.
func (l *BadgerLedger) GetRestore(_ context.Context, id string) (*RestoreJob, error) {
	var job RestoreJob
	err := l.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(restoreKeyPrefix+id), &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListRestores implements Ledger.
func (l *BadgerLedger) ListRestores(_ context.Context, filter RestoreFilter) ([]*RestoreJob, error) {
	var jobs []*RestoreJob
	err := l.scan(restoreKeyPrefix, func(val []byte) error {
		var job RestoreJob
		if err := json.Unmarshal(val, &job); err != nil {
			return fmt.Errorf("decode restore job: %w", err)
		}
		if filter.BackupJobID != "" && job.BackupJobID != filter.BackupJobID {
			return nil
		}
		if len(filter.Statuses) > 0 && !containsRestoreStatus(filter.Statuses, job.Status) {
			return nil
		}
		jobs = append(jobs, &job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortAndPageRestores(jobs, filter.Limit, filter.Offset), nil
}

func (l *BadgerLedger) create(key string, v any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	return l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrJobExists, key)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return setJSON(txn, []byte(key), v)
	})
}

func (l *BadgerLedger) scan(prefix string, fn func(val []byte) error) error {
	return l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return txn.Set(key, data)
}

// badgerLogger routes badger's internal logging into zerolog. Info and debug
// chatter is demoted to debug.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error().Msgf(format, args...)
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn().Msgf(format, args...)
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug().Msgf(format, args...)
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug().Msgf(format, args...)
}
