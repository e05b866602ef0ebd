// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package app

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/warehousevault/internal/events"
	"github.com/tomtom215/warehousevault/internal/logging"
)

// eventLog subscribes to the in-process job event topic and writes every
// event to the log, giving single-node installs a job audit trail without
// an external broker.
type eventLog struct {
	sub   message.Subscriber
	topic string
}

func newEventLog(sub message.Subscriber, topic string) *eventLog {
	if topic == "" {
		topic = events.DefaultTopic
	}
	return &eventLog{sub: sub, topic: topic}
}

// Serve implements suture.Service.
func (e *eventLog) Serve(ctx context.Context) error {
	msgs, err := e.sub.Subscribe(ctx, e.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", e.topic, err)
	}
	log := logging.WithComponent("job-events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				// The bus was closed during shutdown.
				<-ctx.Done()
				return ctx.Err()
			}
			ev, err := events.Decode(msg)
			if err != nil {
				log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Undecodable job event")
			} else {
				log.Info().
					Str("event_type", ev.Type).
					Str("job_id", ev.JobID).
					Str("status", ev.Status).
					Str("correlation_id", msg.Metadata.Get("correlation_id")).
					Msg("Job event")
			}
			msg.Ack()
		}
	}
}

func (e *eventLog) String() string { return "job-event-log" }
