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

	"github.com/AleutianAI/isgraph/services/isg/graph"
)

// Summarizer produces a doc string for an entity that has none.
//
// An empty result means no summary. Implementations must be safe for
// concurrent use and should be deterministic, since rendered exports are
// cached.
type Summarizer interface {
	Summarize(ctx context.Context, e *graph.Entity) (string, error)
}

// NoopSummarizer never produces a summary.
type NoopSummarizer struct{}

// Summarize implements Summarizer.
func (NoopSummarizer) Summarize(context.Context, *graph.Entity) (string, error) {
	return "", nil
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, e *graph.Entity) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, e *graph.Entity) (string, error) {
	return f(ctx, e)
}
