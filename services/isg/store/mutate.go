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
	"github.com/AleutianAI/isgraph/services/isg/keys"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// MutationRequest is a change proposed by an editor.
type MutationRequest struct {
	Key    string
	Action temporal.Action

	// FutureCode is required for Create and Edit and ignored for Delete.
	FutureCode *string

	// Meta describes a created entity. When nil, metadata is taken from
	// the key if it is an ISGL1 key.
	Meta *EntityMeta
}

// EntityMeta is the descriptive metadata of a created entity.
type EntityMeta struct {
	EntityType  string `json:"entity_type"`
	EntityClass string `json:"entity_class,omitempty"`
	Name        string `json:"name"`
	FilePath    string `json:"file_path"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	Signature   string `json:"signature,omitempty"`
	Language    string `json:"language,omitempty"`
}

// ApplyMutation records a pending change on the future timeline.
//
// Description:
//
//	The temporal transition is checked before anything is written. Create
//	is accepted only for a key that has never been used in this generation
//	(live or tombstoned). Edit and Delete are accepted only for a live
//	entity in the Unchanged state.
//
// Outputs:
//
//	error - ErrKeyCollision, ErrEntityNotFound, temporal.ErrInvalidTransition,
//	temporal.ErrMissingFutureCode, ErrInvalidEntity, ErrStoreClosed, or a
//	backend error. On error nothing is written.
func (s *Store) ApplyMutation(ctx context.Context, req MutationRequest) (err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "ApplyMutation",
		attribute.String("isg.key", req.Key),
		attribute.String("isg.action", req.Action.String()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		recordOp("apply_mutation", start, err)
	}()

	if err := validateKey(req.Key); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrStoreClosed
	}

	cur := s.Snapshot()
	existing, exists := cur.entities[req.Key]

	switch req.Action {
	case temporal.ActionCreate:
		if exists || cur.IsTombstoned(req.Key) {
			return fmt.Errorf("%w: %s", ErrKeyCollision, req.Key)
		}
	case temporal.ActionEdit, temporal.ActionDelete:
		if !exists {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, req.Key)
		}
	}

	var from temporal.Indicators
	if exists {
		from = existing.Indicators()
	}
	ind, err := temporal.Apply(exists, from, req.Action, req.FutureCode != nil)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Action, req.Key, err)
	}

	var next graph.Entity
	if exists {
		next = existing.Clone()
	} else {
		next, err = newFutureEntity(req)
		if err != nil {
			return err
		}
	}
	next.SetIndicators(ind)
	if req.Action == temporal.ActionDelete {
		next.FutureCode = nil
	} else {
		code := *req.FutureCode
		next.FutureCode = &code
	}

	if err := s.backend.Apply(ctx, cur.generation, Delta{Put: []graph.Entity{next}}); err != nil {
		return fmt.Errorf("persisting mutation: %w", err)
	}

	ents, tomb := cur.clone()
	ents[next.Key] = &next
	s.publish(newSnapshot(cur.generation, cur.version+1, ents, cur.edges, tomb, cur.clusters))

	s.logger.Debug("mutation applied",
		slog.String("key", req.Key),
		slog.String("action", req.Action.String()),
	)
	return nil
}

// newFutureEntity builds the entity for a Create request.
func newFutureEntity(req MutationRequest) (graph.Entity, error) {
	e := graph.Entity{Key: req.Key, EntityClass: graph.ClassCode}

	if m := req.Meta; m != nil {
		class, err := graph.ParseEntityClass(m.EntityClass)
		if err != nil {
			return graph.Entity{}, fmt.Errorf("%w: %w", ErrInvalidEntity, err)
		}
		if m.LineEnd < m.LineStart {
			return graph.Entity{}, fmt.Errorf("%w: line range %d-%d", ErrInvalidEntity, m.LineStart, m.LineEnd)
		}
		e.EntityType = graph.EntityKind(m.EntityType)
		e.EntityClass = class
		e.Name = m.Name
		e.FilePath = m.FilePath
		e.LineStart = m.LineStart
		e.LineEnd = m.LineEnd
		e.Signature = m.Signature
		e.Language = m.Language
		if e.Language == "" && m.FilePath != "" {
			e.Language = keys.LanguageFor(m.FilePath)
		}
	} else if parts, err := keys.Parse(req.Key); err == nil {
		e.EntityType = graph.EntityKind(parts.Kind)
		e.Name = parts.Name
		e.LineStart = parts.LineStart
		e.LineEnd = parts.LineEnd
		e.Language = parts.Language
	}

	if e.Name == "" {
		e.Name = req.Key
	}
	return e, nil
}

// RevertMutation discards a pending change.
//
// Description:
//
//	Edit and Delete return the entity to Unchanged and clear its future
//	code. A pending Create is discarded and its key tombstoned. Reverting
//	an Unchanged entity does nothing.
//
// Outputs:
//
//	error - ErrEntityNotFound, ErrStoreClosed or a backend error.
func (s *Store) RevertMutation(ctx context.Context, key string) (err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "RevertMutation", attribute.String("isg.key", key))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		recordOp("revert_mutation", start, err)
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrStoreClosed
	}

	cur := s.Snapshot()
	existing, ok := cur.entities[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, key)
	}

	ind, outcome, err := temporal.Revert(existing.Indicators())
	if err != nil {
		return fmt.Errorf("revert %s: %w", key, err)
	}

	ents, tomb := cur.clone()
	var delta Delta
	switch outcome {
	case temporal.RevertNoop:
		return nil
	case temporal.RevertDiscard:
		delete(ents, key)
		tomb[key] = struct{}{}
		delta = Delta{Delete: []string{key}, Tombstones: []string{key}}
	default:
		next := existing.Clone()
		next.SetIndicators(ind)
		next.FutureCode = nil
		ents[key] = &next
		delta = Delta{Put: []graph.Entity{next}}
	}

	if err := s.backend.Apply(ctx, cur.generation, delta); err != nil {
		return fmt.Errorf("persisting revert: %w", err)
	}
	s.publish(newSnapshot(cur.generation, cur.version+1, ents, cur.edges, tomb, cur.clusters))

	s.logger.Debug("mutation reverted", slog.String("key", key))
	return nil
}
