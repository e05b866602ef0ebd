// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/config"
	"github.com/tomtom215/warehousevault/internal/events"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/metrics"
	"github.com/tomtom215/warehousevault/internal/records"
	"github.com/tomtom215/warehousevault/internal/remote"
	"github.com/tomtom215/warehousevault/internal/warehouse"
)

// Event transports.
const (
	TransportGoChannel = "gochannel"
	TransportNATS      = "nats"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config    *config.Config
	Store     *warehouse.Store
	Ledger    *ledger.BadgerLedger
	Remote    remote.Store
	Publisher events.Publisher
	Manager   *backup.Manager
	Scheduler *backup.Scheduler

	// bus is set for the in-process transport so the event log can
	// subscribe to it.
	bus *gochannel.GoChannel

	closers []func() error
}

// Build opens every component described by cfg. On error, whatever was
// already opened is closed again.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store, err = warehouse.Open(ctx, cfg.WarehouseOptions(), warehouse.MindCareRegistry())
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	unsubscribe := a.Store.OnRecordChanged(countChange)
	a.closers = append(a.closers, func() error { unsubscribe(); return nil })

	a.Ledger, err = ledger.OpenBadger(cfg.Ledger.Path, cfg.Ledger.InMemory)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Ledger.Close)

	a.Remote, err = remote.New(cfg.RemoteOptions())
	if err != nil {
		return nil, fmt.Errorf("configure remote store: %w", err)
	}

	a.Publisher, err = a.openPublisher()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Publisher.Close)

	deps := backup.Deps{
		Source:    a.Store,
		Ledger:    a.Ledger,
		Remote:    a.Remote,
		Publisher: a.Publisher,
	}
	keys, err := cfg.Keyring()
	if err != nil {
		return nil, fmt.Errorf("load encryption keys: %w", err)
	}
	// A nil *Keyring in the interface would look configured.
	if keys != nil {
		deps.Keys = keys
	}

	a.Manager, err = backup.NewManager(cfg.BackupManagerConfig(), deps)
	if err != nil {
		return nil, fmt.Errorf("create backup manager: %w", err)
	}
	a.closers = append(a.closers, a.Manager.Close)
	a.Scheduler = backup.NewScheduler(a.Manager)

	logging.Info().
		Str("warehouse", a.Store.Driver()).
		Str("remote", a.Remote.Name()).
		Str("events", cfg.Events.Transport).
		Bool("encryption", keys != nil).
		Bool("schedule", cfg.Schedule.Enabled).
		Msg("Vault components ready")
	return a, nil
}

func (a *App) openPublisher() (events.Publisher, error) {
	switch a.Config.Events.Transport {
	case TransportNATS:
		pub, err := events.NewNATSPublisher(events.DefaultNATSConfig(a.Config.Events.NATSURL), a.Config.Events.Topic)
		if err != nil {
			return nil, fmt.Errorf("connect event bus: %w", err)
		}
		return pub, nil
	case TransportGoChannel, "":
		a.bus = events.NewGoChannel(a.Config.Events.Buffer)
		return events.NewWatermillPublisher(a.bus, a.Config.Events.Topic), nil
	default:
		return nil, fmt.Errorf("unknown event transport %q", a.Config.Events.Transport)
	}
}

// countChange feeds warehouse writes into the record change counter.
func countChange(c records.Change) {
	metrics.RecordChanges.WithLabelValues(c.Kind, string(c.Op())).Inc()
}

// Ready reports whether the ledger and the warehouse can serve requests.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Ledger.Ping(ctx); err != nil {
		return err
	}
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("warehouse unreachable: %w", err)
	}
	return nil
}

// Close releases components in reverse opening order. The manager is
// closed first so running jobs stop before their stores go away.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
