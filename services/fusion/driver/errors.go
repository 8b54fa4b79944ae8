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

import "errors"

// Sentinel errors for the traversal driver.
var (
	// ErrNilGraph is returned by Run without a graph.
	ErrNilGraph = errors.New("operator graph must not be nil")

	// ErrNoPatterns is returned by Run on an empty registry.
	ErrNoPatterns = errors.New("no patterns registered")

	// ErrDuplicatePattern is returned when a name is registered twice.
	ErrDuplicatePattern = errors.New("pattern already registered")

	// ErrInvalidOrder is returned for an unknown visit order name.
	ErrInvalidOrder = errors.New("invalid visit order")
)
