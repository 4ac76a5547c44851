// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package temporal

import "errors"

// Sentinel errors for temporal transitions.
var (
	// ErrInvalidTransition is returned when a mutation is requested from a
	// state that does not allow it. An entity with a pending Edit, Delete or
	// Create must be reverted or committed before it accepts another mutation.
	ErrInvalidTransition = errors.New("invalid temporal transition")

	// ErrInvalidState is returned when indicators do not form one of the four
	// valid states.
	ErrInvalidState = errors.New("invalid temporal state")

	// ErrMissingFutureCode is returned when a Create or Edit carries no
	// future code.
	ErrMissingFutureCode = errors.New("future code required for create and edit")

	// ErrUnknownAction is returned when an action token is not recognized.
	ErrUnknownAction = errors.New("unknown action")
)
