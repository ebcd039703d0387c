// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import "errors"

var (
	// ErrKeyNotFound indicates the medium holds no value for the key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrQuotaExceeded indicates the medium reported capacity exhaustion.
	// Callers (the document store) recover by evicting and retrying once.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrSerializationFailed indicates the state document could not be
	// encoded or decoded.
	ErrSerializationFailed = errors.New("state serialization failed")

	// ErrMediumUnavailable indicates a medium read or write failed for a
	// reason other than capacity exhaustion.
	ErrMediumUnavailable = errors.New("storage medium unavailable")

	// ErrNilContext is returned when a nil context is passed to an
	// operation that requires one.
	ErrNilContext = errors.New("context must not be nil")
)
