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

import (
	"context"

	"github.com/AleutianAI/isgraph/services/isg/filter"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// Change is one pending edit for the diff/apply tool.
type Change struct {
	Key          string          `json:"key"`
	FilePath     string          `json:"file_path"`
	LineStart    int             `json:"line_start"`
	LineEnd      int             `json:"line_end"`
	FutureAction temporal.Action `json:"future_action"`
	FutureCode   *string         `json:"future_code,omitempty"`
}

// PendingChanges lists every entity with a pending future action, in key
// order. Delete changes carry no code.
func PendingChanges(ctx context.Context, src Source) ([]Change, error) {
	changes := make([]Change, 0)
	for e := range src.Query(ctx, filter.All{}) {
		if e.FutureAction == temporal.ActionNone {
			continue
		}
		c := Change{
			Key:          e.Key,
			FilePath:     e.FilePath,
			LineStart:    e.LineStart,
			LineEnd:      e.LineEnd,
			FutureAction: e.FutureAction,
		}
		if e.FutureAction != temporal.ActionDelete {
			c.FutureCode = e.FutureCode
		}
		changes = append(changes, c)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}
