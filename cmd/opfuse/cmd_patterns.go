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
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/opfuse/services/fusion/catalog"
)

// newPatternsCmd lists the pattern catalog.
//
// Examples:
//
//	opfuse patterns
//	opfuse patterns --describe
func newPatternsCmd(a *app) *cobra.Command {
	var describe bool
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the built-in fusion patterns",
		Long: `Lists every catalog pattern, highest priority first. Patterns are tried
in this order at each op, and the first that matches wins.

With --describe, prints each pattern's structure.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			enabled := a.cfg.Patterns.Enabled
			rows := make([][]string, 0, len(catalog.Entries()))
			for _, e := range catalog.Entries() {
				on := len(enabled) == 0 || slices.Contains(enabled, e.Name)
				rows = append(rows, []string{
					e.Name,
					strconv.FormatFloat(e.Priority, 'f', 1, 64),
					strconv.FormatBool(on),
					e.Description,
				})
			}
			a.printer.Title("Fusion patterns")
			a.printer.Table([]string{"name", "priority", "enabled", "description"}, rows)

			if describe {
				for _, e := range catalog.Entries() {
					a.printer.Box(e.Name, e.Build(a.cfg.Patterns.MaxRepetition).Describe())
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&describe, "describe", false, "Print each pattern's structure")
	return cmd
}

// newSamplesCmd lists the built-in sample graphs.
func newSamplesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "samples",
		Short: "List the built-in sample graphs",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			var rows [][]string
			for _, s := range catalog.Samples() {
				g, err := s.Build()
				if err != nil {
					return fmt.Errorf("sample %s: %w", s.Name, err)
				}
				rows = append(rows, []string{s.Name, strconv.Itoa(g.NumOps()), s.Description})
			}
			a.printer.Title("Sample graphs")
			a.printer.Table([]string{"name", "ops", "description"}, rows)
			a.printer.Muted("Run one with: opfuse match --sample <name>")
			return nil
		},
	}
}
