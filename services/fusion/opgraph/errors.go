// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package opgraph

import "errors"

// Sentinel errors for operator graph operations.
var (
	// ErrGraphFinalized is returned when mutating a graph after Finalize.
	ErrGraphFinalized = errors.New("graph is finalized")

	// ErrGraphNotFinalized is returned when reading the topological order
	// of, or matching against, a graph that has not been finalized.
	ErrGraphNotFinalized = errors.New("graph is not finalized")

	// ErrMultipleProducers is returned when two outputs write the same value.
	ErrMultipleProducers = errors.New("value has more than one producer")

	// ErrCyclicGraph is returned by Finalize when the data flow contains a cycle.
	ErrCyclicGraph = errors.New("graph contains a cycle")

	// ErrUnknownKind is returned for an invalid or unrecognized OpKind.
	ErrUnknownKind = errors.New("unknown op kind")

	// ErrInvalidSlot is returned when an op is declared with a negative value ID.
	ErrInvalidSlot = errors.New("invalid value slot")

	// ErrAlreadyMatched is returned by MarkMatched when one of the ops was
	// already consumed by another partition.
	ErrAlreadyMatched = errors.New("op already matched")

	// ErrForeignOp is returned when an op from another graph is passed in.
	ErrForeignOp = errors.New("op belongs to a different graph")
)
