// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"fmt"
	"math"

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

// BuildGraph builds and finalizes the graph declared by spec.
//
// Description:
//
//	Ops are added in declaration order, so the i-th op gets ID i. JSON
//	numbers in attributes become int64 when integral and float64
//	otherwise; arrays of integral numbers become []int64.
//
// Errors:
//
//	opgraph.ErrUnknownKind, opgraph.ErrMultipleProducers,
//	opgraph.ErrCyclicGraph and opgraph.ErrInvalidSlot, wrapped with the
//	index of the offending op where one exists.
func BuildGraph(spec *GraphSpec) (*opgraph.Graph, error) {
	g := opgraph.New()
	for i, decl := range spec.Ops {
		kind, err := opgraph.ParseOpKind(decl.Kind)
		if err != nil {
			return nil, fmt.Errorf("ops[%d]: %w", i, err)
		}
		var opts []opgraph.OpOption
		if decl.Name != "" {
			opts = append(opts, opgraph.WithName(decl.Name))
		}
		for k, v := range decl.Attrs {
			opts = append(opts, opgraph.WithAttr(k, attrValue(v)))
		}
		if _, err := g.AddOp(kind, valueIDs(decl.Inputs), valueIDs(decl.Outputs), opts...); err != nil {
			return nil, fmt.Errorf("ops[%d]: %w", i, err)
		}
	}
	if err := g.Finalize(); err != nil {
		return nil, err
	}
	return g, nil
}

func valueIDs(ids []int) []opgraph.ValueID {
	out := make([]opgraph.ValueID, len(ids))
	for i, id := range ids {
		out[i] = opgraph.ValueID(id)
	}
	return out
}

func attrValue(v any) any {
	switch x := v.(type) {
	case float64:
		if integral(x) {
			return int64(x)
		}
		return x
	case []any:
		ints := make([]int64, 0, len(x))
		for _, e := range x {
			f, ok := e.(float64)
			if !ok || !integral(f) {
				return x
			}
			ints = append(ints, int64(f))
		}
		return ints
	default:
		return v
	}
}

// integral reports whether f is a whole number that float64 holds exactly.
func integral(f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) < 1<<53
}
