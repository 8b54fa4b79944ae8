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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/opfuse/services/fusion/config"
)

// newConfigCmd groups the config file commands.
//
// Examples:
//
//	opfuse config init opfuse.yaml
//	opfuse config show --config opfuse.yaml
//	opfuse config validate opfuse.yaml
func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, show or validate config files",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init [PATH]",
			Short: "Write the default config to PATH (default opfuse.yaml)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				path := "opfuse.yaml"
				if len(args) == 1 {
					path = args[0]
				}
				created, err := config.WriteDefault(path)
				if err != nil {
					return err
				}
				if !created {
					a.printer.Warning(path + " already exists, left unchanged")
					return nil
				}
				a.printer.Success("wrote " + path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective config as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				data, err := config.Marshal(a.cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "validate FILE",
			Short: "Check a config file",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if _, err := config.Load(args[0]); err != nil {
					a.printer.Error(err.Error())
					return err
				}
				a.printer.Success(fmt.Sprintf("%s is valid", args[0]))
				return nil
			},
		},
	)
	return cmd
}
