// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"errors"
	"fmt"
)

// ErrMalformedFilter is matched by every *MalformedFilterError.
var ErrMalformedFilter = errors.New("malformed filter")

// MalformedFilterError names the token that made a filter unparseable.
type MalformedFilterError struct {
	// Token is the offending token text. Empty means end of input.
	Token string

	// Pos is the byte offset of Token in the filter text.
	Pos int

	// Reason is a short human-readable explanation.
	Reason string
}

// Error implements error.
func (e *MalformedFilterError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("malformed filter at end of input: %s", e.Reason)
	}
	return fmt.Sprintf("malformed filter at %q (offset %d): %s", e.Token, e.Pos, e.Reason)
}

// Is reports whether target is ErrMalformedFilter.
func (e *MalformedFilterError) Is(target error) bool {
	return target == ErrMalformedFilter
}

func malformed(tok token, format string, args ...any) *MalformedFilterError {
	return &MalformedFilterError{Token: tok.text, Pos: tok.pos, Reason: fmt.Sprintf(format, args...)}
}
