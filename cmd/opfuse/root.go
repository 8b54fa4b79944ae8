// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/opfuse/pkg/logging"
	"github.com/AleutianAI/opfuse/pkg/ux"
	"github.com/AleutianAI/opfuse/services/fusion/config"
)

// =============================================================================
// APPLICATION STATE
// =============================================================================

// app carries the state shared by every subcommand. PersistentPreRunE
// fills it before a subcommand runs.
type app struct {
	// Flags.
	configPath string
	logLevel   string
	machine    bool

	cfg     *config.Config
	logger  *logging.Logger
	printer *ux.Printer
}

// log returns the process logger.
func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// newRootCmd builds the command tree.
//
// Config resolution: built-in defaults, then OPFUSE_* environment
// overrides, then the --config file, then --log-level.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "opfuse",
		Short:         "Find fusible operator partitions in computation graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.logger != nil {
				return a.logger.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (YAML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.machine, "plain", false, "Plain tab-separated output (default when stdout is not a terminal)")

	root.AddCommand(
		newPatternsCmd(a),
		newSamplesCmd(a),
		newMatchCmd(a),
		newServeCmd(a),
		newCacheCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads the config and builds the logger and printer.
func (a *app) setup(cmd *cobra.Command) error {
	mode := ux.DetectMode(cmd.OutOrStdout())
	if a.machine {
		mode = ux.ModeMachine
	}
	a.printer = ux.NewPrinter(cmd.OutOrStdout(), mode)

	cfg, err := config.Load(a.configPath)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	lc, err := cfg.Logging.LoggerConfig(cfg.Telemetry.ServiceName)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	lc.Writer = cmd.ErrOrStderr()
	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.logger = logger
	return nil
}
