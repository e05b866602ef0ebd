// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package main

import (
	"context"
	"os"

	"github.com/tomtom215/warehousevault/internal/config"
	"github.com/tomtom215/warehousevault/internal/logging"
)

// watchLogLevel reloads the configuration on every signal and applies its
// log level. Everything else still needs a restart.
func watchLogLevel(ctx context.Context, sig <-chan os.Signal, load func() (*config.Config, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			cfg, err := load()
			if err != nil {
				logging.Warn().Err(err).Msg("Configuration reload failed; log level unchanged")
				continue
			}
			logging.SetLevelString(cfg.Logging.Level)
			logging.Info().Str("level", cfg.Logging.Level).Msg("Log level reloaded")
		}
	}
}
