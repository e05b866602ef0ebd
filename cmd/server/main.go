// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/warehousevault/internal/app"
	"github.com/tomtom215/warehousevault/internal/config"
	"github.com/tomtom215/warehousevault/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.LoggingOptions())
	logging.Info().Str("version", version).Msg("Starting WarehouseVault")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vault, err := app.Build(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize vault")
	}
	defer func() {
		if err := vault.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing vault components")
		}
	}()

	tree, err := vault.SupervisorTree(version)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go watchLogLevel(ctx, hupCh, config.Load)

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	// The tree sends exactly one value when it stops.
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
		err = <-errCh
	case err = <-errCh:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	logging.Info().Msg("WarehouseVault stopped")
}
