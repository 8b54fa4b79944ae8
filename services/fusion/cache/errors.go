// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import "errors"

var (
	// ErrNilDB is returned by New without a database.
	ErrNilDB = errors.New("cache database must not be nil")

	// ErrEmptyKey is returned for an empty cache key.
	ErrEmptyKey = errors.New("cache key must not be empty")

	// ErrCorruptEntry is returned when a stored record cannot be decoded.
	ErrCorruptEntry = errors.New("corrupt cache entry")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache is closed")
)
