// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import "errors"

// Sentinel errors for export operations.
var (
	// ErrSerialization is returned when a document cannot be encoded or
	// decoded.
	ErrSerialization = errors.New("serialization failed")

	// ErrBudgetExceeded is returned when the estimated export size is over
	// Options.MaxBytes. Nothing is rendered.
	ErrBudgetExceeded = errors.New("export budget exceeded")

	// ErrUnknownLevel is returned for a level other than 0, 1 or 2.
	ErrUnknownLevel = errors.New("unknown export level")

	// ErrUnknownFormat is returned for an unsupported encoding name.
	ErrUnknownFormat = errors.New("unknown export format")
)
