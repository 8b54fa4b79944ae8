// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/opfuse/services/fusion/matcher"
	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

// candidate is the phase 1 result for one seed.
type candidate struct {
	match    *matcher.Match
	pattern  int
	attempts int
}

// runParallel produces the same matches as runSequential.
//
// Phase 1 searches every seed concurrently without marking, so each seed
// sees only the marks present before the run. Phase 2 commits candidates
// in visit order. A candidate that overlaps an earlier commit is searched
// again at commit time. Marks only remove options from a search, so a
// candidate that does not overlap is exactly what the sequential search
// would have found, and a seed without a candidate has no match either.
func (d *Driver) runParallel(ctx context.Context, seeds []*opgraph.Op, patterns []registered, rep *Report) error {
	cands := make([]candidate, len(seeds))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.workers)
	for i, seed := range seeds {
		if seed.IsMatched() {
			continue
		}
		eg.Go(func() error {
			c := &cands[i]
			for j, r := range patterns {
				c.attempts++
				if m, ok := d.matcher.Find(egCtx, seed, r.graph); ok {
					c.match = m
					c.pattern = j
					return nil
				}
				if err := egCtx.Err(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	recomputed := 0
	for i, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if seed.IsMatched() {
			continue
		}
		c := cands[i]
		if c.match == nil {
			rep.Attempts += c.attempts
			continue
		}

		err := seed.Graph().MarkMatched(c.match.Ops)
		if err == nil {
			c.match.Pattern = patterns[c.pattern].name
			rep.Attempts += c.attempts
			rep.Matches = append(rep.Matches, c.match)
			continue
		}
		if !errors.Is(err, opgraph.ErrAlreadyMatched) {
			return err
		}

		recomputed++
		m, attempts, err := d.matchSeed(ctx, seed, patterns)
		rep.Attempts += attempts
		if err != nil {
			return err
		}
		if m != nil {
			rep.Matches = append(rep.Matches, m)
		}
	}

	d.logger.Debug("parallel merge finished",
		slog.String("run_id", rep.RunID.String()),
		slog.Int("seeds", len(seeds)),
		slog.Int("recomputed", recomputed),
	)
	return nil
}
