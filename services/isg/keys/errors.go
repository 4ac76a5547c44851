// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package keys

import (
	"errors"
	"fmt"
)

// Sentinel errors for key derivation.
var (
	// ErrInvalidPath is returned when a file path cannot be turned into a
	// key-safe token. Use errors.As with *InvalidPathError for details.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidKey is returned when a key contains characters that would
	// break key parsing or the tab-delimited export format.
	ErrInvalidKey = errors.New("invalid key")
)

// InvalidPathError describes why a path was rejected.
type InvalidPathError struct {
	// Path is the path as supplied by the caller.
	Path string

	// Reason is a short human-readable explanation.
	Reason string
}

// Error implements error.
func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// Is reports whether target is ErrInvalidPath.
func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}
