// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package warehouse

import "github.com/tomtom215/warehousevault/internal/records"

// MindCareRegistry declares the record kinds of the MindCare warehouse.
// Parents come before the kinds that reference them, which is also the
// restore order. user_settings has no last-modified marker and is always
// captured in full.
func MindCareRegistry() *records.Registry {
	users := []records.Reference{{Field: "user_id", Kind: "users"}}
	return records.MustRegistry(
		records.Kind{Name: "users", ModifiedField: "updated_at"},
		records.Kind{Name: "user_settings", References: users},
		records.Kind{Name: "mood_entries", ModifiedField: "updated_at", References: users},
		records.Kind{Name: "journal_entries", ModifiedField: "updated_at", References: users},
		records.Kind{
			Name:          "appointments",
			ModifiedField: "updated_at",
			References: []records.Reference{
				{Field: "patient_id", Kind: "users"},
				{Field: "therapist_id", Kind: "users"},
			},
		},
		records.Kind{
			Name:          "therapy_sessions",
			ModifiedField: "updated_at",
			References: []records.Reference{
				{Field: "appointment_id", Kind: "appointments"},
				{Field: "patient_id", Kind: "users"},
			},
		},
		records.Kind{Name: "chatbot_conversations", ModifiedField: "updated_at", References: users},
		records.Kind{
			Name:          "notifications",
			ModifiedField: "updated_at",
			References:    []records.Reference{{Field: "recipient_id", Kind: "users"}},
		},
	)
}
