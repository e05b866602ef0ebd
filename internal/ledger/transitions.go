// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package ledger

var backupTransitions = map[BackupStatus][]BackupStatus{
	BackupPending:   {BackupRunning},
	BackupRunning:   {BackupVerifying, BackupCompleted, BackupFailed},
	BackupVerifying: {BackupVerified, BackupFailed},
}

var restoreTransitions = map[RestoreStatus][]RestoreStatus{
	RestorePending:    {RestoreRunning},
	RestoreRunning:    {RestoreValidating, RestoreValidated, RestoreFailed},
	RestoreValidating: {RestoreCompleted, RestoreFailed},
}

// CanTransitionBackup reports whether from -> to is allowed. Staying in the
// same status is allowed so field updates can be recorded.
func CanTransitionBackup(from, to BackupStatus) bool {
	if from == to {
		return true
	}
	for _, s := range backupTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionRestore reports whether from -> to is allowed.
func CanTransitionRestore(from, to RestoreStatus) bool {
	if from == to {
		return true
	}
	for _, s := range restoreTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
