// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis answers reachability questions over a store snapshot.
//
// All traversals are iterative with explicit visited sets, so cyclic and
// deep graphs are safe. Results are deterministic: neighbors are visited in
// key order and outputs are sorted.
package analysis

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("isgraph.analysis")

const (
	// DefaultMaxDepth bounds a traversal when the caller passes 0.
	DefaultMaxDepth = 10

	// MaxDepthLimit is the largest accepted depth.
	MaxDepthLimit = 100

	contextCheckInterval = 100
)

// Graph is the dependency view a traversal needs. *store.Snapshot
// implements it.
type Graph interface {
	Keys() []string
	ForwardDeps(key string) ([]string, bool)
	ReverseDeps(key string) ([]string, bool)
}

// Reached is one entity found by a traversal.
type Reached struct {
	Key   string `json:"key"`
	Depth int    `json:"depth"`
}

// TraversalResult is the outcome of BlastRadius or Dependencies.
type TraversalResult struct {
	Root string `json:"root"`

	// Nodes excludes the root and is ordered by depth, then key.
	Nodes []Reached `json:"nodes"`

	// Depth is the deepest level reached.
	Depth int `json:"depth"`

	// Truncated is set when nodes beyond MaxDepth were not explored or the
	// context was cancelled.
	Truncated bool `json:"truncated"`
}

// Keys returns the reached keys in result order.
func (r *TraversalResult) Keys() []string {
	out := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		out[i] = n.Key
	}
	return out
}

// BlastRadius returns every entity that transitively depends on key, up to
// maxDepth hops. These are the entities a change to key can break.
//
// Inputs:
//
//	ctx - Cancellation, checked every 100 nodes. A cancelled traversal
//	      returns the partial result with Truncated set.
//	g - The snapshot.
//	key - Root entity.
//	maxDepth - Hop limit. 0 means DefaultMaxDepth; capped at MaxDepthLimit.
//
// Outputs:
//
//	*TraversalResult - Reached entities.
//	error - ErrRootNotFound if key is unknown.
func BlastRadius(ctx context.Context, g Graph, key string, maxDepth int) (*TraversalResult, error) {
	return traverse(ctx, "BlastRadius", g, key, maxDepth, g.ReverseDeps)
}

// Dependencies returns every entity key transitively depends on, up to
// maxDepth hops.
func Dependencies(ctx context.Context, g Graph, key string, maxDepth int) (*TraversalResult, error) {
	return traverse(ctx, "Dependencies", g, key, maxDepth, g.ForwardDeps)
}

func traverse(ctx context.Context, op string, g Graph, root string, maxDepth int,
	next func(string) ([]string, bool)) (result *TraversalResult, err error) {

	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxDepth > MaxDepthLimit {
		maxDepth = MaxDepthLimit
	}

	ctx, span := tracer.Start(ctx, "analysis."+op, trace.WithAttributes(
		attribute.String("isg.root", root),
		attribute.Int("isg.max_depth", maxDepth),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("isg.reached", len(result.Nodes)),
				attribute.Bool("isg.truncated", result.Truncated),
			)
		}
		span.End()
	}()

	if _, ok := next(root); !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}

	result = &TraversalResult{Root: root, Nodes: make([]Reached, 0)}
	visited := map[string]bool{root: true}
	type queueItem struct {
		key   string
		depth int
	}
	queue := []queueItem{{root, 0}}

	for n := 0; len(queue) > 0; n++ {
		if n%contextCheckInterval == 0 && ctx.Err() != nil {
			result.Truncated = true
			break
		}
		item := queue[0]
		queue = queue[1:]

		neighbors, _ := next(item.key)
		if item.depth >= maxDepth {
			for _, nb := range neighbors {
				if !visited[nb] {
					result.Truncated = true
					break
				}
			}
			continue
		}
		for _, nb := range neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := item.depth + 1
			result.Nodes = append(result.Nodes, Reached{Key: nb, Depth: d})
			if d > result.Depth {
				result.Depth = d
			}
			queue = append(queue, queueItem{nb, d})
		}
	}

	sort.SliceStable(result.Nodes, func(i, j int) bool {
		if result.Nodes[i].Depth != result.Nodes[j].Depth {
			return result.Nodes[i].Depth < result.Nodes[j].Depth
		}
		return result.Nodes[i].Key < result.Nodes[j].Key
	})
	return result, nil
}

// Cycle is a strongly connected component of the dependency graph with
// more than one entity, or a single entity that depends on itself.
type Cycle struct {
	// Keys are sorted ascending.
	Keys   []string `json:"keys"`
	Length int      `json:"length"`
}

// Cycles finds dependency cycles with an iterative Tarjan SCC pass.
//
// Description:
//
//	Uses an explicit call stack instead of recursion so deep graphs cannot
//	overflow the goroutine stack. Runs in O(V + E).
//
// Outputs:
//
//	[]Cycle - Sorted by length descending, then by first key.
//	error - Context error if cancelled.
func Cycles(ctx context.Context, g Graph) ([]Cycle, error) {
	ctx, span := tracer.Start(ctx, "analysis.Cycles")
	defer span.End()

	index := 0
	nodeIndex := make(map[string]int)
	lowLink := make(map[string]int)
	onStack := make(map[string]bool)
	var sccStack []string
	cycles := make([]Cycle, 0)

	type frame struct {
		key      string
		deps     []string
		next     int
		childKey string
		returned bool
	}

	visit := func(start string) {
		deps, _ := g.ForwardDeps(start)
		nodeIndex[start], lowLink[start] = index, index
		index++
		sccStack = append(sccStack, start)
		onStack[start] = true
		stack := []frame{{key: start, deps: deps}}

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.returned {
				lowLink[f.key] = min(lowLink[f.key], lowLink[f.childKey])
				f.returned = false
			}

			descended := false
			for f.next < len(f.deps) {
				w := f.deps[f.next]
				f.next++
				if _, seen := nodeIndex[w]; !seen {
					wDeps, ok := g.ForwardDeps(w)
					if !ok {
						continue
					}
					nodeIndex[w], lowLink[w] = index, index
					index++
					sccStack = append(sccStack, w)
					onStack[w] = true
					f.childKey = w
					f.returned = true
					stack = append(stack, frame{key: w, deps: wDeps})
					descended = true
					break
				} else if onStack[w] {
					lowLink[f.key] = min(lowLink[f.key], nodeIndex[w])
				}
			}
			if descended {
				continue
			}

			// All edges done: pop, emitting an SCC if f is its root.
			if lowLink[f.key] == nodeIndex[f.key] {
				var scc []string
				for {
					w := sccStack[len(sccStack)-1]
					sccStack = sccStack[:len(sccStack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == f.key {
						break
					}
				}
				if len(scc) > 1 || slices.Contains(f.deps, f.key) {
					slices.Sort(scc)
					cycles = append(cycles, Cycle{Keys: scc, Length: len(scc)})
				}
			}
			stack = stack[:len(stack)-1]
		}
	}

	for i, k := range g.Keys() {
		if i%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
		if _, seen := nodeIndex[k]; !seen {
			visit(k)
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		if cycles[i].Length != cycles[j].Length {
			return cycles[i].Length > cycles[j].Length
		}
		return strings.Compare(cycles[i].Keys[0], cycles[j].Keys[0]) < 0
	})
	span.SetAttributes(attribute.Int("isg.cycles", len(cycles)))
	return cycles, nil
}
