// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
Package validation provides struct validation using go-playground/validator v10.

It holds a thread-safe singleton validator (struct info is cached after first
use) configured to report JSON field names, plus a "kind" tag for record kind
names. Errors convert to the API's VALIDATION_ERROR body.

Example:

	type RestoreBody struct {
	    BackupID string   `json:"backup_id" validate:"required,uuid"`
	    Kinds    []string `json:"kinds" validate:"omitempty,max=64,dive,kind"`
	}

	if verr := validation.ValidateStruct(&body); verr != nil {
	    apiErr := verr.ToAPIError()
	    respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
	    return
	}
*/
package validation
