// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tomtom215/warehousevault/internal/encryption"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/remote"
)

var (
	// ErrCollectionPartialFailure means one or more kinds could not be read.
	ErrCollectionPartialFailure = errors.New("collection partial failure")

	// ErrIntegrityFailure means an artifact failed checksum or authentication.
	ErrIntegrityFailure = errors.New("integrity failure")

	// ErrValidationFailure means post-restore checks did not pass.
	ErrValidationFailure = errors.New("restore validation failed")

	// ErrCancelled means the job observed a cancellation request.
	ErrCancelled = errors.New("job cancelled")

	// ErrScopeBusy means another running job owns an overlapping scope.
	ErrScopeBusy = errors.New("a job is already running for an overlapping scope")

	// ErrNotRestorable means the backup is not completed or verified.
	ErrNotRestorable = errors.New("backup is not restorable")

	// ErrInvalidRequest wraps request validation problems.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrManagerClosed is returned once Close has been called.
	ErrManagerClosed = errors.New("backup manager is closed")
)

// Re-exported so callers can classify every job error from one package.
var (
	ErrKeyUnavailable    = encryption.ErrKeyUnavailable
	ErrRemoteUpload      = remote.ErrUpload
	ErrRemoteDownload    = remote.ErrDownload
	ErrRemoteDelete      = remote.ErrDelete
	ErrJobNotFound       = ledger.ErrJobNotFound
	ErrInvalidTransition = ledger.ErrInvalidTransition
)

// CollectionError reports the kinds that failed during collection.
type CollectionError struct {
	Failures map[string]error
}

func (e *CollectionError) Error() string {
	kinds := make([]string, 0, len(e.Failures))
	for k := range e.Failures {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Failures[k]))
	}
	return fmt.Sprintf("%v: %s", ErrCollectionPartialFailure, strings.Join(parts, "; "))
}

func (e *CollectionError) Unwrap() error { return ErrCollectionPartialFailure }

// stageError marks the failure reason a later stage should be blamed for.
type stageError struct {
	reason ledger.FailureReason
	err    error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func withReason(reason ledger.FailureReason, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{reason: reason, err: err}
}

// classify maps a pipeline error to the machine-readable failure reason.
// Cancellation wins over an explicit stage reason, which wins over the
// underlying cause.
func classify(err error) ledger.FailureReason {
	var se *stageError
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ledger.ReasonCancelled
	case errors.As(err, &se):
		return se.reason
	case errors.Is(err, ErrKeyUnavailable):
		return ledger.ReasonKeyUnavailable
	case errors.Is(err, ErrIntegrityFailure), errors.Is(err, encryption.ErrIntegrity):
		return ledger.ReasonIntegrity
	case errors.Is(err, ErrCollectionPartialFailure):
		return ledger.ReasonCollection
	case errors.Is(err, ErrValidationFailure):
		return ledger.ReasonValidation
	case errors.Is(err, ErrRemoteDownload):
		return ledger.ReasonRemoteDownload
	default:
		return ledger.ReasonInternal
	}
}
