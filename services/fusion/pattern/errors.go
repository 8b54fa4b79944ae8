// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pattern

import "errors"

// Construction errors. All of them are reported while the pattern is being
// built, never while it is being matched.
var (
	// ErrEmptyAlternation is returned when an alternation has no candidates.
	ErrEmptyAlternation = errors.New("alternation has no candidates")

	// ErrInvalidRepetitionRange is returned when min < 0 or max <= min.
	ErrInvalidRepetitionRange = errors.New("invalid repetition range")

	// ErrDanglingProducer is returned when an edge or port references a node
	// that is nil or belongs to another pattern graph.
	ErrDanglingProducer = errors.New("producer is not a node of this graph")

	// ErrUnresolvedPort is returned when a port cannot be resolved through
	// a nested graph's port mapping.
	ErrUnresolvedPort = errors.New("unresolved port mapping")

	// ErrDuplicatePort is returned when a port is declared or wired twice.
	ErrDuplicatePort = errors.New("duplicate port")

	// ErrNoPredicate is returned when a leaf has no decision predicate.
	ErrNoPredicate = errors.New("leaf op has no decision predicate")

	// ErrPatternFrozen is returned when modifying a frozen pattern graph.
	ErrPatternFrozen = errors.New("pattern graph is frozen")

	// ErrEmptyPattern is returned when freezing or embedding a graph with no nodes.
	ErrEmptyPattern = errors.New("pattern graph has no nodes")

	// ErrRecursivePattern is returned when a graph is embedded into itself.
	ErrRecursivePattern = errors.New("pattern graph embeds itself")
)
