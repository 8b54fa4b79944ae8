// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package matcher

import "errors"

var (
	// ErrNilSeed is returned when Match is called without a seed op.
	ErrNilSeed = errors.New("seed op is nil")

	// ErrNilPattern is returned when Match is called without a pattern.
	ErrNilPattern = errors.New("pattern is nil")

	// ErrPatternNotFrozen is returned when the pattern has not been frozen.
	ErrPatternNotFrozen = errors.New("pattern is not frozen")
)

// Reason labels why a match attempt was rejected.
type Reason string

const (
	ReasonPredicate   Reason = "predicate"
	ReasonEdge        Reason = "edge"
	ReasonSideOutput  Reason = "side_output"
	ReasonCycle       Reason = "cycle"
	ReasonRepetition  Reason = "repetition"
	ReasonUnreachable Reason = "unreachable"
)
