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

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// CommitReport summarizes a CommitAndReset.
type CommitReport struct {
	Generation   uint64   `json:"generation"`
	Created      []string `json:"created"`
	Edited       []string `json:"edited"`
	Removed      []string `json:"removed"`
	EdgesDropped int      `json:"edges_dropped"`

	// NoOp is true when nothing was pending. The store is left untouched.
	NoOp bool `json:"noop"`
}

// CommitAndReset makes the future timeline the new baseline.
//
// Description:
//
//	Every entity is resolved: Delete removes it, tombstones its key and
//	drops its incident edges; Create and Edit promote future code to
//	current code; all future fields are cleared and every surviving entity
//	ends Unchanged. Dependencies are recomputed and clusters are cleared
//	because the current graph changed.
//
//	The operation is total and idempotent. With nothing pending it writes
//	nothing and reports NoOp.
//
// Outputs:
//
//	*CommitReport - Keys affected, in ascending order.
//	error - ErrStoreClosed or a backend error. On error nothing changes.
func (s *Store) CommitAndReset(ctx context.Context) (report *CommitReport, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "CommitAndReset")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("isg.created", len(report.Created)),
				attribute.Int("isg.edited", len(report.Edited)),
				attribute.Int("isg.removed", len(report.Removed)),
				attribute.Bool("isg.noop", report.NoOp),
			)
		}
		span.End()
		recordOp("commit", start, err)
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	cur := s.Snapshot()
	report = &CommitReport{Generation: cur.generation, Created: []string{}, Edited: []string{}, Removed: []string{}}

	ents, tomb := cur.clone()
	removed := make(map[string]struct{})
	for _, k := range cur.keys {
		e := cur.entities[k]
		state, err := e.State()
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", k, err)
		}
		_, resolution, err := temporal.Resolve(e.Indicators())
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", k, err)
		}

		switch resolution {
		case temporal.ResolveRemove:
			delete(ents, k)
			tomb[k] = struct{}{}
			removed[k] = struct{}{}
			report.Removed = append(report.Removed, k)
		case temporal.ResolvePromote:
			next := e.Clone()
			next.CurrentCode = next.FutureCode
			next.FutureCode = nil
			next.SetIndicators(temporal.Unchanged())
			ents[k] = &next
			if state == temporal.StateCreate {
				report.Created = append(report.Created, k)
			} else {
				report.Edited = append(report.Edited, k)
			}
		}
	}

	if len(report.Created)+len(report.Edited)+len(report.Removed) == 0 {
		report.NoOp = true
		return report, nil
	}

	edges := make([]graph.Edge, 0, len(cur.edges))
	for _, e := range cur.edges {
		_, fromGone := removed[e.FromKey]
		_, toGone := removed[e.ToKey]
		if fromGone || toGone {
			report.EdgesDropped++
			continue
		}
		edges = append(edges, e)
	}
	recomputeDeps(ents, edges)

	next := newSnapshot(cur.generation+1, cur.version+1, ents, edges, tomb, nil)
	if err := s.backend.Replace(ctx, next.State()); err != nil {
		return nil, fmt.Errorf("persisting commit: %w", err)
	}
	s.publish(next)
	report.Generation = next.generation

	s.logger.Info("commit complete",
		slog.Uint64("generation", next.generation),
		slog.Int("created", len(report.Created)),
		slog.Int("edited", len(report.Edited)),
		slog.Int("removed", len(report.Removed)),
		slog.Int("edges_dropped", report.EdgesDropped),
	)
	return report, nil
}
