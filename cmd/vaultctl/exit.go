// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package main

import (
	"context"
	"errors"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/ledger"
)

const (
	exitOK             = 0
	exitUsage          = 1
	exitFailed         = 2
	exitIntegrity      = 3
	exitKeyUnavailable = 4
	exitCancelled      = 5
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: exitUsage, err: err}
}

// jobError classifies an error returned by the backup manager.
func jobError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: classify(err), err: err}
}

func classify(err error) int {
	switch {
	case errors.Is(err, backup.ErrCancelled), errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, backup.ErrIntegrityFailure):
		return exitIntegrity
	case errors.Is(err, backup.ErrKeyUnavailable):
		return exitKeyUnavailable
	case errors.Is(err, backup.ErrInvalidRequest),
		errors.Is(err, backup.ErrNotRestorable),
		errors.Is(err, backup.ErrJobNotFound),
		errors.Is(err, backup.ErrScopeBusy):
		return exitUsage
	default:
		return exitFailed
	}
}

// reasonCode maps the failure reason recorded on a job to an exit code.
func reasonCode(r ledger.FailureReason) int {
	switch r {
	case ledger.ReasonCancelled:
		return exitCancelled
	case ledger.ReasonIntegrity:
		return exitIntegrity
	case ledger.ReasonKeyUnavailable:
		return exitKeyUnavailable
	default:
		return exitFailed
	}
}

// exitCode returns the exit code for the error a command returned.
// Errors cobra raises itself, such as unknown flags, are usage errors.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}
