// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

// Package events publishes job lifecycle events.
//
// Events go through a Watermill message.Publisher. The default transport is
// an in-process gochannel; building with -tags=nats enables NATS JetStream.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event types.
const (
	BackupStarted    = "backup.started"
	BackupCompleted  = "backup.completed"
	BackupFailed     = "backup.failed"
	RestoreStarted   = "restore.started"
	RestoreCompleted = "restore.completed"
	RestoreFailed    = "restore.failed"
	RetentionSwept   = "retention.swept"
)

// DefaultTopic carries every job event.
const DefaultTopic = "warehousevault.jobs"

// JobEvent is one lifecycle notification.
type JobEvent struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	JobID     string         `json:"job_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Reason    string         `json:"failure_reason,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewJobEvent stamps an event with an ID and the current time.
func NewJobEvent(typ, jobID, status string) JobEvent {
	return JobEvent{
		EventID:   uuid.NewString(),
		Type:      typ,
		JobID:     jobID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks required fields.
func (e JobEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	return nil
}

// Marshal encodes the event payload.
func (e JobEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an event payload.
func Unmarshal(data []byte) (JobEvent, error) {
	var e JobEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("decode job event: %w", err)
	}
	return e, e.Validate()
}

// Publisher delivers job events.
type Publisher interface {
	Publish(ctx context.Context, e JobEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, JobEvent) error { return nil }
func (NopPublisher) Close() error                             { return nil }
