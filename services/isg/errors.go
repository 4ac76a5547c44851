// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package isg

import (
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/isgraph/services/isg/analysis"
	"github.com/AleutianAI/isgraph/services/isg/cluster"
	"github.com/AleutianAI/isgraph/services/isg/export"
	"github.com/AleutianAI/isgraph/services/isg/filter"
	"github.com/AleutianAI/isgraph/services/isg/keys"
	"github.com/AleutianAI/isgraph/services/isg/store"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// errorMapping maps a sentinel to a status and error code. Order matters:
// the first match wins.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{store.ErrStoreClosed, http.StatusServiceUnavailable, "STORE_CLOSED"},
	{store.ErrEntityNotFound, http.StatusNotFound, "NOT_FOUND"},
	{analysis.ErrRootNotFound, http.StatusNotFound, "NOT_FOUND"},
	{store.ErrKeyCollision, http.StatusConflict, "KEY_COLLISION"},
	{store.ErrStaleSnapshot, http.StatusConflict, "STALE_SNAPSHOT"},
	{temporal.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{temporal.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{temporal.ErrMissingFutureCode, http.StatusBadRequest, "MISSING_FUTURE_CODE"},
	{temporal.ErrUnknownAction, http.StatusBadRequest, "UNKNOWN_ACTION"},
	{filter.ErrMalformedFilter, http.StatusBadRequest, "MALFORMED_FILTER"},
	{export.ErrUnknownLevel, http.StatusBadRequest, "UNKNOWN_LEVEL"},
	{export.ErrUnknownFormat, http.StatusBadRequest, "UNKNOWN_FORMAT"},
	{export.ErrBudgetExceeded, http.StatusRequestEntityTooLarge, "BUDGET_EXCEEDED"},
	{keys.ErrInvalidKey, http.StatusBadRequest, "INVALID_KEY"},
	{keys.ErrInvalidPath, http.StatusBadRequest, "INVALID_PATH"},
	{store.ErrInvalidEntity, http.StatusBadRequest, "INVALID_ENTITY"},
	{cluster.ErrEmptyGraph, http.StatusUnprocessableEntity, "EMPTY_GRAPH"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
	{context.Canceled, http.StatusServiceUnavailable, "CANCELLED"},
}

// statusFor returns the HTTP status and error code for err.
func statusFor(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
