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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/keys"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// loadValidate is the validator instance for parser input.
var loadValidate *validator.Validate

func init() {
	loadValidate = validator.New()
	_ = loadValidate.RegisterValidation("isgkey", func(fl validator.FieldLevel) bool {
		return keys.Validate(fl.Field().String()) == nil
	})
}

// ParsedEntity is one entity as emitted by a parser front-end.
type ParsedEntity struct {
	// Key overrides key derivation when set.
	Key string `json:"key,omitempty" validate:"omitempty,isgkey"`

	EntityType  string  `json:"entity_type" validate:"required"`
	EntityClass string  `json:"entity_class,omitempty" validate:"omitempty,oneof=code test Code Test"`
	Name        string  `json:"name" validate:"required"`
	FilePath    string  `json:"file_path" validate:"required"`
	LineStart   int     `json:"line_start" validate:"gte=0"`
	LineEnd     int     `json:"line_end" validate:"gtefield=LineStart"`
	Signature   string  `json:"signature"`
	Doc         *string `json:"doc,omitempty"`
	CurrentCode *string `json:"current_code,omitempty"`

	// Language defaults to the language of FilePath's extension.
	Language string `json:"language,omitempty"`

	// Type carries the Level 2 type-system fields when the parser has them.
	Type *graph.TypeInfo `json:"type,omitempty"`
}

// ParsedEdge is one relation as emitted by a parser front-end. From and To
// are entity keys or unique entity names.
type ParsedEdge struct {
	From     string `json:"from" validate:"required"`
	To       string `json:"to" validate:"required"`
	EdgeType string `json:"edge_type" validate:"required"`
}

// LoadReport summarizes a BulkLoad.
type LoadReport struct {
	Generation uint64        `json:"generation"`
	Entities   int           `json:"entities"`
	Edges      int           `json:"edges"`
	Errors     []LoadError   `json:"errors"`
	Duration   time.Duration `json:"duration_ns"`
}

// prepared is the outcome of validating one ParsedEntity.
type prepared struct {
	entity *graph.Entity
	err    error
}

// BulkLoad replaces the entire store with parser output.
//
// Description:
//
//	Starts a new generation: all entities, edges, tombstones and clusters
//	are replaced. Entities are validated and keyed in parallel with at most
//	the configured number of workers. Invalid entities, duplicate keys and
//	unresolvable edges are recorded in LoadReport.Errors and skipped; they
//	do not fail the load. The first entity with a given key wins.
//
//	The new state is written to the backend in one atomic replace and only
//	then published. A backend failure leaves the previous state in place.
//
// Inputs:
//
//	ctx - Context for cancellation. Cancellation aborts the whole load.
//	entities - Parsed entities. All are loaded in the Unchanged state.
//	edges - Parsed edges. Endpoints resolve by key first, then by name.
//
// Outputs:
//
//	*LoadReport - Counts and per-item errors.
//	error - ErrStoreClosed, context errors, or a backend error.
func (s *Store) BulkLoad(ctx context.Context, entities []ParsedEntity, edges []ParsedEdge) (report *LoadReport, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "BulkLoad",
		attribute.Int("isg.input_entities", len(entities)),
		attribute.Int("isg.input_edges", len(edges)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("isg.entities", report.Entities),
				attribute.Int("isg.edges", report.Edges),
				attribute.Int("isg.load_errors", len(report.Errors)),
			)
		}
		span.End()
		recordOp("bulk_load", start, err)
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	results := make([]prepared, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range entities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := prepareEntity(&entities[i])
			results[i] = prepared{entity: e, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bulk load cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bulk load cancelled: %w", err)
	}

	report = &LoadReport{Errors: []LoadError{}}
	ents := make(map[string]*graph.Entity, len(entities))
	for i, r := range results {
		if r.err != nil {
			report.Errors = append(report.Errors, LoadError{Item: "entity", Index: i, Key: entities[i].Key, Err: r.err})
			continue
		}
		if _, dup := ents[r.entity.Key]; dup {
			report.Errors = append(report.Errors, LoadError{
				Item: "entity", Index: i, Key: r.entity.Key,
				Err: fmt.Errorf("%w: %s", ErrKeyCollision, r.entity.Key),
			})
			continue
		}
		ents[r.entity.Key] = r.entity
	}

	byName := make(map[string][]string)
	for k, e := range ents {
		byName[e.Name] = append(byName[e.Name], k)
	}

	resolved := make([]graph.Edge, 0, len(edges))
	for i, pe := range edges {
		edge, err := resolveEdge(pe, ents, byName)
		if err != nil {
			report.Errors = append(report.Errors, LoadError{Item: "edge", Index: i, Key: pe.From + "->" + pe.To, Err: err})
			continue
		}
		resolved = append(resolved, edge)
	}
	resolved = graph.SortEdges(resolved)
	recomputeDeps(ents, resolved)

	cur := s.Snapshot()
	next := newSnapshot(cur.generation+1, cur.version+1, ents, resolved, map[string]struct{}{}, nil)
	if err := s.backend.Replace(ctx, next.State()); err != nil {
		return nil, fmt.Errorf("persisting bulk load: %w", err)
	}
	s.publish(next)

	report.Generation = next.generation
	report.Entities = next.Len()
	report.Edges = next.EdgeCount()
	report.Duration = time.Since(start)
	recordLoadMetrics(ctx, report)

	s.logger.Info("bulk load complete",
		slog.Uint64("generation", report.Generation),
		slog.Int("entities", report.Entities),
		slog.Int("edges", report.Edges),
		slog.Int("errors", len(report.Errors)),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// prepareEntity validates a parsed entity and derives its key.
func prepareEntity(pe *ParsedEntity) (*graph.Entity, error) {
	if err := loadValidate.Struct(pe); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: field %s failed %s", ErrInvalidEntity, verrs[0].Field(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}

	class, err := graph.ParseEntityClass(pe.EntityClass)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}

	lang := strings.ToLower(pe.Language)
	if lang == "" {
		lang = keys.LanguageFor(pe.FilePath)
	}

	key := pe.Key
	if key == "" {
		key, err = keys.Derive(lang, pe.EntityType, pe.Name, pe.FilePath, pe.LineStart, pe.LineEnd)
		if err != nil {
			return nil, err
		}
	}

	e := &graph.Entity{
		Key:         key,
		EntityType:  graph.EntityKind(pe.EntityType),
		EntityClass: class,
		Name:        pe.Name,
		FilePath:    pe.FilePath,
		LineStart:   pe.LineStart,
		LineEnd:     pe.LineEnd,
		Language:    lang,
		Signature:   pe.Signature,
		Doc:         pe.Doc,
		CurrentCode: pe.CurrentCode,
	}
	if pe.Type != nil {
		e.Type = *pe.Type
	}
	e.SetIndicators(temporal.Unchanged())
	c := e.Clone()
	return &c, nil
}

// resolveEdge maps a parsed edge onto entity keys.
func resolveEdge(pe ParsedEdge, ents map[string]*graph.Entity, byName map[string][]string) (graph.Edge, error) {
	if err := loadValidate.Struct(pe); err != nil {
		return graph.Edge{}, fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}
	et, err := graph.ParseEdgeType(pe.EdgeType)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}
	from, err := resolveEndpoint(pe.From, ents, byName)
	if err != nil {
		return graph.Edge{}, err
	}
	to, err := resolveEndpoint(pe.To, ents, byName)
	if err != nil {
		return graph.Edge{}, err
	}
	return graph.Edge{FromKey: from, ToKey: to, EdgeType: et}, nil
}

func resolveEndpoint(ref string, ents map[string]*graph.Entity, byName map[string][]string) (string, error) {
	if _, ok := ents[ref]; ok {
		return ref, nil
	}
	switch matches := byName[ref]; len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %q", ErrUnresolvedEdge, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d entities", ErrAmbiguousEndpoint, ref, len(matches))
	}
}
