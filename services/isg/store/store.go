// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store owns the entities, edges and clusters of one graph.
//
// # Concurrency Model
//
// Writers (BulkLoad, ApplyMutation, RevertMutation, CommitAndReset,
// ReplaceClusters) are serialized by a mutex. Each write builds a new
// immutable Snapshot (copy-on-write) and publishes it under a RWMutex.
// Readers load the current Snapshot and never wait for a writer.
//
// # Persistence
//
// Every write goes to the Backend first. The new Snapshot is published only
// after the backend write succeeds, so a failed write changes nothing.
//
// # Lifecycle
//
//  1. Open with Open(ctx, opts...)
//  2. BulkLoad parser output
//  3. ApplyMutation / RevertMutation as editors propose changes
//  4. CommitAndReset to make the future the new baseline
//  5. Close
package store

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/isgraph/services/isg/filter"
	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/keys"
)

// Store is a temporal code-dependency graph.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	writeMu sync.Mutex

	snapMu sync.RWMutex
	snap   *Snapshot

	backend Backend
	logger  *slog.Logger
	workers int
	closed  atomic.Bool
}

type options struct {
	backend Backend
	logger  *slog.Logger
	workers int
}

// Option configures a Store.
type Option func(*options)

// WithBackend sets the persistence backend. Default: MemoryBackend.
func WithBackend(b Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLoadWorkers bounds the goroutines BulkLoad uses for validation.
// Default: GOMAXPROCS.
func WithLoadWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// Open creates a store and restores any state the backend holds.
//
// Inputs:
//
//	ctx - Context for the backend load.
//	opts - Functional options.
//
// Outputs:
//
//	*Store - The open store. Caller must Close it.
//	error - Non-nil if the backend state cannot be loaded.
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	o := options{
		backend: NewMemoryBackend(),
		logger:  slog.Default(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		backend: o.backend,
		logger:  o.logger.With(slog.String("component", "isg_store"), slog.String("backend", o.backend.Name())),
		workers: o.workers,
	}

	state, err := o.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading %s backend: %w", o.backend.Name(), err)
	}
	if state == nil {
		s.snap = emptySnapshot()
	} else {
		s.snap = snapshotFromState(state)
	}
	storeEntities.Set(float64(s.snap.Len()))

	s.logger.Info("store opened",
		slog.Uint64("generation", s.snap.Generation()),
		slog.Int("entities", s.snap.Len()),
		slog.Int("edges", s.snap.EdgeCount()),
	)
	return s, nil
}

func snapshotFromState(st *graph.State) *Snapshot {
	ents := make(map[string]*graph.Entity, len(st.Entities))
	for i := range st.Entities {
		e := st.Entities[i].Clone()
		ents[e.Key] = &e
	}
	tomb := make(map[string]struct{}, len(st.Tombstones))
	for _, k := range st.Tombstones {
		tomb[k] = struct{}{}
	}
	edges := graph.SortEdges(append([]graph.Edge(nil), st.Edges...))
	recomputeDeps(ents, edges)

	clusters := make([]graph.Cluster, len(st.Clusters))
	for i, c := range st.Clusters {
		clusters[i] = c.Clone()
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })

	return newSnapshot(st.Generation, 0, ents, edges, tomb, clusters)
}

// Close releases the backend. Further calls return ErrStoreClosed.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Swap(true) {
		return ErrStoreClosed
	}
	s.logger.Info("store closed")
	return s.backend.Close()
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

func (s *Store) publish(snap *Snapshot) {
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
	storeEntities.Set(float64(snap.Len()))
}

// Backend returns the name of the configured backend.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// Get returns a copy of the entity with key.
func (s *Store) Get(key string) (graph.Entity, bool) {
	if s.closed.Load() {
		return graph.Entity{}, false
	}
	return s.Snapshot().Get(key)
}

// Query returns entities matching pred in ascending key order.
//
// The sequence reads one snapshot; writes that happen while it is being
// consumed are not observed.
func (s *Store) Query(ctx context.Context, pred filter.Predicate) (iter.Seq[graph.Entity], error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	return s.Snapshot().Query(ctx, pred), nil
}

// QueryString parses text and runs Query. A malformed filter is rejected
// before any entity is read.
func (s *Store) QueryString(ctx context.Context, text string) (iter.Seq[graph.Entity], error) {
	pred, err := filter.Parse(text)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, pred)
}

// Stats summarizes the current snapshot.
func (s *Store) Stats() Stats {
	st := s.Snapshot().Stats()
	st.Backend = s.backend.Name()
	return st
}

// ReplaceClusters stores clusters computed from the snapshot with the given
// generation.
//
// Description:
//
//	Clusters are derived from the current graph. If the current graph was
//	replaced since the snapshot was taken (BulkLoad or a non-trivial commit)
//	the clusters describe a graph that no longer exists and are rejected.
//
// Outputs:
//
//	error - ErrStaleSnapshot, ErrEntityNotFound for unknown or non-current
//	members, ErrStoreClosed, or a backend error.
func (s *Store) ReplaceClusters(ctx context.Context, generation uint64, clusters []graph.Cluster) (err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "ReplaceClusters",
		attribute.Int64("isg.generation", int64(generation)),
		attribute.Int("isg.cluster_count", len(clusters)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		recordOp("replace_clusters", start, err)
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrStoreClosed
	}

	cur := s.Snapshot()
	if generation != cur.generation {
		return fmt.Errorf("%w: clusters from generation %d, store at %d", ErrStaleSnapshot, generation, cur.generation)
	}

	out := make([]graph.Cluster, len(clusters))
	for i, c := range clusters {
		for _, m := range c.Members {
			if !cur.isCurrent(m) {
				return fmt.Errorf("%w: cluster %s member %q", ErrEntityNotFound, c.ID, m)
			}
		}
		out[i] = c.Clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if err := s.backend.Apply(ctx, cur.generation, Delta{Clusters: &out}); err != nil {
		return fmt.Errorf("persisting clusters: %w", err)
	}

	ents, tomb := cur.clone()
	s.publish(newSnapshot(cur.generation, cur.version+1, ents, cur.edges, tomb, out))

	s.logger.Info("clusters replaced",
		slog.Uint64("generation", generation),
		slog.Int("clusters", len(out)),
	)
	return nil
}

// validateKey wraps keys.Validate for mutation input.
func validateKey(key string) error {
	if err := keys.Validate(key); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}
	return nil
}
