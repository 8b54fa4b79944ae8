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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"

	"github.com/AleutianAI/opfuse/services/fusion/cache"
	"github.com/AleutianAI/opfuse/services/fusion/matcher"
	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

// cacheKey identifies a run: graph structure, then registry, visit order
// and the ops marked before the run.
func cacheKey(g *opgraph.Graph, patterns []registered, order Order) (string, error) {
	fp, err := g.Fingerprint()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	fmt.Fprintf(h, "order=%s\npatterns=%s\nmatched=", order, signature(patterns))
	for _, op := range g.MatchedOps() {
		fmt.Fprintf(h, "%d,", op.ID())
	}
	return fp + "/" + hex.EncodeToString(h.Sum(nil))[:32], nil
}

// cacheable reports whether every pattern's signature covers its
// predicates.
func cacheable(patterns []registered) bool {
	for _, r := range patterns {
		if !r.graph.Labeled() {
			return false
		}
	}
	return true
}

// replay loads the cached result for key and commits it if every match
// reproduces. On success rep.CacheHit is set. Anything short of an exact
// reproduction leaves the graph as it was and rep empty.
func (d *Driver) replay(ctx context.Context, g *opgraph.Graph, key string, patterns []registered, rep *Report) error {
	entries, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn("match cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}

	byName := make(map[string]registered, len(patterns))
	for _, r := range patterns {
		byName[r.name] = r
	}

	var replayed []*matcher.Match
	undo := func(reason string) {
		for _, m := range replayed {
			g.ClearMatched(m.Ops)
		}
		recordReplayFailure(ctx)
		d.logger.Info("match cache entry did not reproduce",
			slog.String("key", key),
			slog.String("reason", reason),
		)
	}

	for _, e := range entries {
		seed, found := g.Op(e.Seed)
		r, known := byName[e.Pattern]
		if !found || !known {
			undo("unknown seed or pattern")
			return nil
		}
		m, ok, err := d.matcher.Match(ctx, seed, r.graph)
		if err != nil {
			undo(err.Error())
			return err
		}
		if !ok {
			undo("no match at " + seed.String())
			return nil
		}
		replayed = append(replayed, m)
		if !slices.Equal(m.OpIDs(), e.Ops) {
			undo("different ops at " + seed.String())
			return nil
		}
		m.Pattern = r.name
	}

	rep.Matches = replayed
	rep.Attempts = len(replayed)
	rep.CacheHit = true
	return nil
}

// store writes the run result. Failures only cost a future replay.
func (d *Driver) store(ctx context.Context, key string, rep *Report) {
	entries := make([]cache.Entry, len(rep.Matches))
	for i, m := range rep.Matches {
		entries[i] = cache.Entry{Pattern: m.Pattern, Seed: m.Seed.ID(), Ops: m.OpIDs()}
	}
	if err := d.cache.Put(ctx, key, entries); err != nil {
		d.logger.Warn("match cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
