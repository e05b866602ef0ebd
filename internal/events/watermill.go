// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/warehousevault/internal/logging"
)

// WatermillPublisher publishes JobEvents as Watermill messages.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string

	mu     sync.RWMutex
	closed bool
}

// NewWatermillPublisher wraps pub. An empty topic selects DefaultTopic.
func NewWatermillPublisher(pub message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillPublisher{publisher: pub, topic: topic}
}

// Topic returns the topic events are published to.
func (p *WatermillPublisher) Topic() string { return p.topic }

// Publish serializes e and sends it to the topic.
func (p *WatermillPublisher) Publish(ctx context.Context, e JobEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}
	if err := e.Validate(); err != nil {
		return err
	}

	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	msg := message.NewMessage(e.EventID, data)
	msg.Metadata.Set("event_type", e.Type)
	msg.Metadata.Set("job_id", e.JobID)
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		msg.Metadata.Set("correlation_id", cid)
	}
	msg.SetContext(ctx)

	return p.publisher.Publish(p.topic, msg)
}

// Close shuts down the underlying publisher.
func (p *WatermillPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// NewGoChannel returns an in-process pub/sub logging through zerolog.
func NewGoChannel(buffer int64) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: buffer},
		WatermillLogger(),
	)
}

// WatermillLogger adapts the global logger for Watermill components.
func WatermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewComponentSlogLogger("events"))
}

// Decode extracts the JobEvent from a delivered message.
func Decode(msg *message.Message) (JobEvent, error) {
	return Unmarshal(msg.Payload)
}
