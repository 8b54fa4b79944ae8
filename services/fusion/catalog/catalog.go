// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the built-in fusion patterns and sample graphs.
//
// Each pattern has a priority. Register adds them to a driver highest
// priority first, so when two patterns can start at the same op the more
// specific one wins. Equal priorities keep declaration order.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/opfuse/services/fusion/driver"
	"github.com/AleutianAI/opfuse/services/fusion/pattern"
)

// MaxRepetition is the default exclusive upper bound of post-op chains.
const MaxRepetition = 4

var (
	// ErrUnknownPattern is returned for a name not in the catalog.
	ErrUnknownPattern = errors.New("unknown catalog pattern")

	// ErrUnknownSample is returned for a name not in the sample set.
	ErrUnknownSample = errors.New("unknown sample graph")
)

// Entry describes one built-in pattern.
type Entry struct {
	Name        string
	Priority    float64
	Description string

	// Build returns a fresh, unfrozen pattern. maxRep bounds repetitions.
	Build func(maxRep int) *pattern.Graph
}

// Config selects and tunes catalog patterns.
type Config struct {
	// Enabled lists the patterns to register. Empty means all.
	Enabled []string

	// MaxRepetition bounds repetitions. Zero means MaxRepetition.
	MaxRepetition int
}

var entries = []Entry{
	{
		Name:        "int8_conv_bias",
		Priority:    10.5,
		Description: "dequantized convolution with optional weight quantize, bias and output quantize",
		Build:       int8ConvBias,
	},
	{
		Name:        "conv_bias_add_relu",
		Priority:    10.4,
		Description: "convolution, optional bias, residual add and relu",
		Build:       convBiasAddRelu,
	},
	{
		Name:        "conv_depthwise",
		Priority:    10.2,
		Description: "convolution followed by a grouped convolution",
		Build:       convDepthwise,
	},
	{
		Name:        "conv_bias_post_ops",
		Priority:    10.0,
		Description: "ungrouped convolution, optional bias and a chain of eltwise or binary post ops",
		Build:       convBiasPostOps,
	},
	{
		Name:        "mlp",
		Priority:    9.5,
		Description: "two or more matmul layers, each with optional bias and an activation",
		Build:       mlp,
	},
	{
		Name:        "matmul_post_ops",
		Priority:    9.0,
		Description: "matmul, optional bias and a chain of eltwise or binary post ops",
		Build:       matmulPostOps,
	},
	{
		Name:        "conv_simple_resblock",
		Priority:    5.0,
		Description: "three convolutions with relus and a residual add",
		Build:       convSimpleResblock,
	},
}

// Entries returns the catalog, highest priority first.
func Entries() []Entry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b Entry) int {
		switch {
		case a.Priority > b.Priority:
			return -1
		case a.Priority < b.Priority:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Lookup returns the entry with the given name.
func Lookup(name string) (Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Names returns every pattern name, highest priority first.
func Names() []string {
	var out []string
	for _, e := range Entries() {
		out = append(out, e.Name)
	}
	return out
}

// Register builds the enabled patterns and registers them with d,
// highest priority first.
//
// Outputs:
//
//	[]string - The registered names, in registration order.
//
// Errors:
//
//	ErrUnknownPattern - cfg.Enabled names a pattern not in the catalog.
//	Construction and registration errors are wrapped.
func Register(d *driver.Driver, cfg Config) ([]string, error) {
	for _, name := range cfg.Enabled {
		if _, ok := Lookup(name); !ok {
			return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownPattern, name, strings.Join(Names(), ", "))
		}
	}
	maxRep := cfg.MaxRepetition
	if maxRep <= 0 {
		maxRep = MaxRepetition
	}

	var registered []string
	for _, e := range Entries() {
		if len(cfg.Enabled) > 0 && !slices.Contains(cfg.Enabled, e.Name) {
			continue
		}
		if err := d.Register(e.Name, e.Build(maxRep)); err != nil {
			return registered, fmt.Errorf("catalog: %w", err)
		}
		registered = append(registered, e.Name)
	}
	return registered, nil
}
