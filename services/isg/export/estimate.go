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
	"fmt"

	"github.com/AleutianAI/isgraph/services/isg/filter"
)

// Approximate encoded bytes per record at each level.
const (
	Level0RecordBytes int64 = 96
	Level1RecordBytes int64 = 640
	Level2RecordBytes int64 = 960
)

// BytesPerRecord returns the fixed per-record estimate for level.
func BytesPerRecord(level Level) (int64, error) {
	switch level {
	case Level0:
		return Level0RecordBytes, nil
	case Level1:
		return Level1RecordBytes, nil
	case Level2:
		return Level2RecordBytes, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownLevel, int(level))
}

// Estimate is a pre-count of an export.
type Estimate struct {
	Level   Level `json:"level"`
	Records int   `json:"records"`
	Bytes   int64 `json:"bytes"`
}

// EstimatedSize counts the records an export would contain and multiplies
// by the per-level record size. No records are rendered.
func EstimatedSize(src Source, level Level, pred filter.Predicate) (Estimate, error) {
	per, err := BytesPerRecord(level)
	if err != nil {
		return Estimate{}, err
	}
	var n int
	if level == Level0 {
		n = len(src.EdgesFrom(pred))
	} else {
		n = src.Count(pred)
	}
	return Estimate{Level: level, Records: n, Bytes: int64(n) * per}, nil
}
