// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/metrics"
)

// BreakerConfig tunes the circuit breaker around a remote store.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig opens after 5 consecutive failures and probes again
// after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         5 * time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 5,
	}
}

// BreakerStore guards a Store with a circuit breaker so a dead object store
// fails fast instead of stalling every backup on network timeouts. It also
// records per-operation metrics.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[string]
}

// NewBreakerStore wraps inner.
func NewBreakerStore(inner Store, cfg BreakerConfig) *BreakerStore {
	name := "remote-" + inner.Name()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RemoteBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Remote store circuit breaker changed state")
		},
		// Cancellation by the caller says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	metrics.RemoteBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return &BreakerStore{inner: inner, cb: gobreaker.NewCircuitBreaker[string](settings)}
}

// Name implements Store.
func (b *BreakerStore) Name() string { return b.inner.Name() }

// State reports the breaker state (closed, half-open, open).
func (b *BreakerStore) State() string { return b.cb.State().String() }

// Upload implements Store.
func (b *BreakerStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	loc, err := b.cb.Execute(func() (string, error) {
		return b.inner.Upload(ctx, localPath, key)
	})
	metrics.RecordRemoteOperation(b.Name(), "upload", err)
	return loc, wrapBreakerErr(ErrUpload, err)
}

// Download implements Store.
func (b *BreakerStore) Download(ctx context.Context, location, dstPath string) (string, error) {
	p, err := b.cb.Execute(func() (string, error) {
		return b.inner.Download(ctx, location, dstPath)
	})
	metrics.RecordRemoteOperation(b.Name(), "download", err)
	return p, wrapBreakerErr(ErrDownload, err)
}

// Delete implements Store.
func (b *BreakerStore) Delete(ctx context.Context, location string) error {
	_, err := b.cb.Execute(func() (string, error) {
		return "", b.inner.Delete(ctx, location)
	})
	metrics.RecordRemoteOperation(b.Name(), "delete", err)
	return wrapBreakerErr(ErrDelete, err)
}

// wrapBreakerErr makes breaker rejections carry the operation sentinel.
func wrapBreakerErr(op, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", op, err)
	}
	return err
}
