// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package records

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ReferencedID extracts a string foreign key from a row body. Missing or
// null fields yield "".
func ReferencedID(row Row, field string) (string, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(row.Data, &body); err != nil {
		return "", fmt.Errorf("decode row body: %w", err)
	}
	raw, ok := body[field]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("field %s is not a string id: %w", field, err)
	}
	return id, nil
}
