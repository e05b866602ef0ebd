// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/records"
)

// errorMapping classifies manager errors into HTTP status and error code.
// Order matters: the first match wins.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{backup.ErrJobNotFound, http.StatusNotFound, "JOB_NOT_FOUND"},
	{backup.ErrScopeBusy, http.StatusConflict, "SCOPE_BUSY"},
	{backup.ErrNotRestorable, http.StatusUnprocessableEntity, "NOT_RESTORABLE"},
	{backup.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{records.ErrUnknownKind, http.StatusBadRequest, "UNKNOWN_KIND"},
	{backup.ErrIntegrityFailure, http.StatusUnprocessableEntity, "INTEGRITY_FAILURE"},
	{backup.ErrKeyUnavailable, http.StatusUnprocessableEntity, "KEY_UNAVAILABLE"},
	{backup.ErrRemoteDownload, http.StatusBadGateway, "REMOTE_DOWNLOAD_FAILED"},
	{backup.ErrRemoteDelete, http.StatusBadGateway, "REMOTE_DELETE_FAILED"},
	{backup.ErrManagerClosed, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
}

// respondManagerError maps err to a response. Unclassified errors are 500s
// and are logged.
func respondManagerError(w http.ResponseWriter, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			respondError(w, m.status, m.code, err.Error(), nil)
			return
		}
	}
	respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", err)
}
