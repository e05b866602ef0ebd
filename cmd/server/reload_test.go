// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package main

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/warehousevault/internal/config"
	"github.com/tomtom215/warehousevault/internal/logging"
)

func TestWatchLogLevelAppliesReloadedLevel(t *testing.T) {
	logging.Init(logging.Config{Level: "info"})
	defer logging.Init(logging.DefaultConfig())

	calls := 0
	load := func() (*config.Config, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("config file unreadable")
		}
		cfg := &config.Config{}
		cfg.Logging.Level = "debug"
		return cfg, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal)
	done := make(chan struct{})
	go func() {
		watchLogLevel(ctx, sig, load)
		close(done)
	}()

	sig <- syscall.SIGHUP
	sig <- syscall.SIGHUP
	cancel()
	<-done

	if calls != 2 {
		t.Fatalf("expected two reloads, got %d", calls)
	}
	if got := zerolog.GlobalLevel(); got != zerolog.DebugLevel {
		t.Errorf("global level = %v, want debug", got)
	}
}

func TestWatchLogLevelKeepsLevelOnLoadError(t *testing.T) {
	logging.Init(logging.Config{Level: "warn"})
	defer logging.Init(logging.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal)
	done := make(chan struct{})
	go func() {
		watchLogLevel(ctx, sig, func() (*config.Config, error) {
			return nil, errors.New("parse error")
		})
		close(done)
	}()

	sig <- syscall.SIGHUP
	select {
	case sig <- syscall.SIGHUP:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher stopped receiving signals")
	}
	cancel()
	<-done

	if got := zerolog.GlobalLevel(); got != zerolog.WarnLevel {
		t.Errorf("global level = %v, want warn", got)
	}
}
