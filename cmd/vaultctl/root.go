// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/warehousevault/internal/app"
	"github.com/tomtom215/warehousevault/internal/config"
	"github.com/tomtom215/warehousevault/internal/logging"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Bold(true)
)

const (
	outputText = "text"
	outputJSON = "json"
)

// cli holds the global flags and output streams shared by every command.
type cli struct {
	configPath string
	output     string
	verbose    bool

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Back up and restore the MindCare data warehouse",
		Long:          titleStyle.Render("vaultctl") + "\n\nRuns backup, restore, verification and retention jobs in-process.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.output != outputText && c.output != outputJSON {
				return usageError(fmt.Errorf("unknown output format %q (want text or json)", c.output))
			}
			return nil
		},
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: search the standard paths)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", outputText, "output format: text or json")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at info level instead of warn")

	root.AddCommand(
		newBackupCmd(c),
		newRestoreCmd(c),
		newStatusCmd(c),
		newListCmd(c),
		newSweepCmd(c),
		newVerifyCmd(c),
	)
	return root
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{stdout: stdout, stderr: stderr}
	root := newRootCmd(c)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, errorStyle.Render(fmt.Sprintf("[error] %v", err)))
	}
	return exitCode(err)
}

// open loads configuration and builds the vault. Callers must Close it.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, usageError(err)
	}

	lc := cfg.LoggingOptions()
	lc.Output = c.stderr
	lc.Format = "console"
	if !c.verbose {
		lc.Level = "warn"
	}
	logging.Init(lc)

	vault, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, usageError(fmt.Errorf("failed to initialize vault: %w", err))
	}
	return vault, nil
}

// withVault opens the vault, runs fn and closes the vault.
func (c *cli) withVault(ctx context.Context, fn func(*app.App) error) error {
	vault, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := vault.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Error closing vault components")
		}
	}()
	return fn(vault)
}

// printJSON writes v as indented JSON when json output is selected and
// reports whether it did.
func (c *cli) printJSON(v interface{}) (bool, error) {
	if c.output != outputJSON {
		return false, nil
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return true, fmt.Errorf("failed to encode output: %w", err)
	}
	return true, nil
}

func (c *cli) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.stdout, format, args...)
}

func (c *cli) field(label, value string) {
	c.printf("    %s %s\n", dimStyle.Render(label+":"), valueStyle.Render(value))
}
