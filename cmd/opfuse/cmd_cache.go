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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/opfuse/services/fusion/cache"
)

var errCacheDisabled = errors.New("match cache is disabled in the config")

// newCacheCmd manages the on-disk match cache.
func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the match cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "keys",
			Short: "List cached run keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withCache(func(s *cache.Store) error {
					keys, err := s.Keys(cmd.Context())
					if err != nil {
						return err
					}
					rows := make([][]string, len(keys))
					for i, k := range keys {
						rows[i] = []string{k}
					}
					a.printer.Table([]string{"key"}, rows)
					a.printer.Info(fmt.Sprintf("%d cached runs", len(keys)))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Remove every cached run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withCache(func(s *cache.Store) error {
					if err := s.Purge(cmd.Context()); err != nil {
						return err
					}
					a.printer.Success("match cache purged")
					return nil
				})
			},
		},
	)
	return cmd
}

// withCache opens the configured cache for fn and closes it afterwards.
func (a *app) withCache(fn func(*cache.Store) error) error {
	s, err := a.cfg.Cache.Open(a.log())
	if err != nil {
		return err
	}
	if s == nil {
		return errCacheDisabled
	}
	defer s.Close()
	return fn(s)
}
