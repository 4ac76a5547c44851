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
	"iter"
	"slices"
	"sort"

	"github.com/AleutianAI/isgraph/services/isg/cluster"
	"github.com/AleutianAI/isgraph/services/isg/filter"
	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// Snapshot is an immutable view of the store at one point in time.
//
// Description:
//
//	Every write publishes a new Snapshot; existing snapshots never change.
//	Readers holding a Snapshot see one consistent state no matter what
//	writers do afterwards. All accessors return clones.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Snapshot struct {
	generation uint64
	version    uint64

	entities   map[string]*graph.Entity
	keys       []string
	edges      []graph.Edge
	tombstones map[string]struct{}
	clusters   []graph.Cluster

	byName map[string][]string
	byFile map[string][]string
	byType map[graph.EntityKind][]string
}

// newSnapshot builds the sorted key list and secondary indexes. The maps
// and slices passed in are owned by the snapshot afterwards.
func newSnapshot(generation, version uint64, entities map[string]*graph.Entity,
	edges []graph.Edge, tombstones map[string]struct{}, clusters []graph.Cluster) *Snapshot {

	s := &Snapshot{
		generation: generation,
		version:    version,
		entities:   entities,
		keys:       make([]string, 0, len(entities)),
		edges:      edges,
		tombstones: tombstones,
		clusters:   clusters,
		byName:     make(map[string][]string),
		byFile:     make(map[string][]string),
		byType:     make(map[graph.EntityKind][]string),
	}
	for k := range entities {
		s.keys = append(s.keys, k)
	}
	sort.Strings(s.keys)

	for _, k := range s.keys {
		e := entities[k]
		s.byName[e.Name] = append(s.byName[e.Name], k)
		s.byFile[e.FilePath] = append(s.byFile[e.FilePath], k)
		s.byType[e.EntityType] = append(s.byType[e.EntityType], k)
	}
	return s
}

func emptySnapshot() *Snapshot {
	return newSnapshot(0, 0, map[string]*graph.Entity{}, nil, map[string]struct{}{}, nil)
}

// Generation identifies the current-graph baseline. It changes on BulkLoad
// and on every commit that resolves at least one pending change.
func (s *Snapshot) Generation() uint64 { return s.generation }

// Version changes on every published write.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the number of entities.
func (s *Snapshot) Len() int { return len(s.keys) }

// EdgeCount returns the number of edges.
func (s *Snapshot) EdgeCount() int { return len(s.edges) }

// Get returns a copy of the entity with key.
func (s *Snapshot) Get(key string) (graph.Entity, bool) {
	e, ok := s.entities[key]
	if !ok {
		return graph.Entity{}, false
	}
	return e.Clone(), true
}

// Has reports whether key names a live entity.
func (s *Snapshot) Has(key string) bool {
	_, ok := s.entities[key]
	return ok
}

// IsTombstoned reports whether key was used by a removed entity.
func (s *Snapshot) IsTombstoned(key string) bool {
	_, ok := s.tombstones[key]
	return ok
}

// ForwardDeps returns the keys key depends on, or false if key is unknown.
func (s *Snapshot) ForwardDeps(key string) ([]string, bool) {
	e, ok := s.entities[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(e.ForwardDeps), true
}

// ReverseDeps returns the keys that depend on key, or false if key is
// unknown.
func (s *Snapshot) ReverseDeps(key string) ([]string, bool) {
	e, ok := s.entities[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(e.ReverseDeps), true
}

// Keys returns all entity keys in ascending order.
func (s *Snapshot) Keys() []string {
	return slices.Clone(s.keys)
}

// Edges returns all edges ordered by (from, to, type).
func (s *Snapshot) Edges() []graph.Edge {
	return slices.Clone(s.edges)
}

// Tombstones returns tombstoned keys in ascending order.
func (s *Snapshot) Tombstones() []string {
	out := make([]string, 0, len(s.tombstones))
	for k := range s.tombstones {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clusters returns the stored clusters ordered by ID.
func (s *Snapshot) Clusters() []graph.Cluster {
	out := make([]graph.Cluster, len(s.clusters))
	for i, c := range s.clusters {
		out[i] = c.Clone()
	}
	return out
}

// ByName returns the keys of entities called name.
func (s *Snapshot) ByName(name string) []string {
	return slices.Clone(s.byName[name])
}

// ByFile returns the keys of entities declared in filePath.
func (s *Snapshot) ByFile(filePath string) []string {
	return slices.Clone(s.byFile[filePath])
}

// ByType returns the keys of entities of the given kind.
func (s *Snapshot) ByType(kind graph.EntityKind) []string {
	return slices.Clone(s.byType[kind])
}

// Query returns matching entities in ascending key order.
//
// Description:
//
//	The sequence is lazy and finite. It stops early if ctx is cancelled.
//	A nil predicate or filter.All scans every entity without evaluating
//	atoms.
func (s *Snapshot) Query(ctx context.Context, pred filter.Predicate) iter.Seq[graph.Entity] {
	all := filter.IsAll(pred)
	return func(yield func(graph.Entity) bool) {
		for _, k := range s.keys {
			if ctx.Err() != nil {
				return
			}
			e := s.entities[k]
			if !all && !pred.Match(e) {
				continue
			}
			if !yield(e.Clone()) {
				return
			}
		}
	}
}

// Count returns the number of entities matching pred without copying them.
func (s *Snapshot) Count(pred filter.Predicate) int {
	if filter.IsAll(pred) {
		return len(s.keys)
	}
	n := 0
	for _, k := range s.keys {
		if pred.Match(s.entities[k]) {
			n++
		}
	}
	return n
}

// Match reports whether the entity with key exists and satisfies pred.
func (s *Snapshot) Match(key string, pred filter.Predicate) bool {
	e, ok := s.entities[key]
	if !ok {
		return false
	}
	return filter.IsAll(pred) || pred.Match(e)
}

// EdgesFrom returns edges whose source entity satisfies pred, ordered by
// (from, to, type).
func (s *Snapshot) EdgesFrom(pred filter.Predicate) []graph.Edge {
	if filter.IsAll(pred) {
		return s.Edges()
	}
	out := make([]graph.Edge, 0)
	for _, e := range s.edges {
		if s.Match(e.FromKey, pred) {
			out = append(out, e)
		}
	}
	return out
}

// ClusterInput returns the current graph: entities with CurrentInd set and
// the edges between them.
func (s *Snapshot) ClusterInput() cluster.Input {
	in := cluster.Input{Generation: s.generation}
	for _, k := range s.keys {
		if s.entities[k].CurrentInd {
			in.Nodes = append(in.Nodes, k)
		}
	}
	for _, e := range s.edges {
		if s.isCurrent(e.FromKey) && s.isCurrent(e.ToKey) {
			in.Edges = append(in.Edges, e)
		}
	}
	return in
}

func (s *Snapshot) isCurrent(key string) bool {
	e, ok := s.entities[key]
	return ok && e.CurrentInd
}

// State returns the persisted form of the snapshot.
func (s *Snapshot) State() *graph.State {
	st := &graph.State{
		Generation: s.generation,
		Entities:   make([]graph.Entity, 0, len(s.keys)),
		Edges:      s.Edges(),
		Tombstones: s.Tombstones(),
		Clusters:   s.Clusters(),
	}
	for _, k := range s.keys {
		st.Entities = append(st.Entities, s.entities[k].Clone())
	}
	return st
}

// Stats summarizes a snapshot.
type Stats struct {
	Generation uint64         `json:"generation"`
	Version    uint64         `json:"version"`
	Backend    string         `json:"backend"`
	Entities   int            `json:"entities"`
	Edges      int            `json:"edges"`
	Tombstones int            `json:"tombstones"`
	Clusters   int            `json:"clusters"`
	States     map[string]int `json:"states"`
}

// Stats counts entities per temporal state.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Generation: s.generation,
		Version:    s.version,
		Entities:   len(s.keys),
		Edges:      len(s.edges),
		Tombstones: len(s.tombstones),
		Clusters:   len(s.clusters),
		States: map[string]int{
			temporal.StateUnchanged.String(): 0,
			temporal.StateEdit.String():      0,
			temporal.StateDelete.String():    0,
			temporal.StateCreate.String():    0,
		},
	}
	for _, e := range s.entities {
		state, err := e.State()
		if err != nil {
			continue
		}
		st.States[state.String()]++
	}
	return st
}

// clone returns shallow copies of the entity map and tombstone set for
// copy-on-write updates. Entity pointers are shared; writers must
// replace an entity rather than mutate it.
func (s *Snapshot) clone() (map[string]*graph.Entity, map[string]struct{}) {
	ents := make(map[string]*graph.Entity, len(s.entities))
	for k, e := range s.entities {
		ents[k] = e
	}
	tomb := make(map[string]struct{}, len(s.tombstones))
	for k := range s.tombstones {
		tomb[k] = struct{}{}
	}
	return ents, tomb
}

// recomputeDeps rebuilds ForwardDeps and ReverseDeps from edges, restricted
// to entities with CurrentInd set. Every entity in ents is replaced by a
// fresh copy.
func recomputeDeps(ents map[string]*graph.Entity, edges []graph.Edge) {
	fwd := make(map[string][]string)
	rev := make(map[string][]string)
	for _, e := range edges {
		from, okFrom := ents[e.FromKey]
		to, okTo := ents[e.ToKey]
		if !okFrom || !okTo || !from.CurrentInd || !to.CurrentInd {
			continue
		}
		fwd[e.FromKey] = append(fwd[e.FromKey], e.ToKey)
		rev[e.ToKey] = append(rev[e.ToKey], e.FromKey)
	}
	for k, e := range ents {
		c := e.Clone()
		c.ForwardDeps = sortedUnique(fwd[k])
		c.ReverseDeps = sortedUnique(rev[k])
		ents[k] = &c
	}
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	slices.Sort(in)
	return slices.Compact(in)
}
