// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cluster partitions the current dependency graph with label
// propagation.
//
// # Algorithm
//
// Every entity starts labelled with its own key. Each pass visits entities
// in ascending key order and sets each label to the label with the greatest
// neighbor support (sum of edge weights to neighbors carrying it). Updates
// are applied in place, so later nodes in a pass see earlier updates.
//
// Ties go to the lexicographically smallest label. Isolated entities keep
// their own label. The run stops after a pass that changes nothing
// (Converged) or after MaxIterations passes.
//
// Edges are undirected. By default every connected pair has weight 1; with
// WithFoldMultiplicity a pair's weight is the number of distinct edges
// between the two entities in either direction.
//
// # Thread Safety
//
// Engine is immutable after NewEngine and safe for concurrent use. Run
// reads only its Input.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/isgraph/services/isg/graph"
)

var tracer = otel.Tracer("isgraph.cluster")

var (
	// clusterRuns counts clustering runs by outcome
	clusterRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isg",
		Subsystem: "cluster",
		Name:      "runs_total",
		Help:      "Total label propagation runs by outcome",
	}, []string{"outcome"})

	// clusterDuration tracks run latency
	clusterDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "isg",
		Subsystem: "cluster",
		Name:      "run_duration_seconds",
		Help:      "Label propagation run duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
)

const (
	// DefaultMaxIterations bounds the number of passes.
	DefaultMaxIterations = 20

	// Algorithm names the algorithm in cluster records.
	Algorithm = "label_propagation"
)

// Input is a read-only view of the current graph.
type Input struct {
	// Generation of the snapshot the input was taken from. Copied to the
	// Result so the clusters can be written back.
	Generation uint64

	// Nodes are entity keys. Order does not matter.
	Nodes []string

	// Edges may reference keys outside Nodes; those are ignored, as are
	// self loops.
	Edges []graph.Edge
}

// Result is the output of one run.
type Result struct {
	Generation uint64          `json:"generation"`
	Clusters   []graph.Cluster `json:"clusters"`

	// Modularity is the sum of per-cluster modularity contributions.
	Modularity float64 `json:"modularity"`

	// Iterations is the number of passes run, including the final pass
	// that detected convergence.
	Iterations int  `json:"iterations"`
	Converged  bool `json:"converged"`

	NodeCount int           `json:"node_count"`
	EdgeCount int           `json:"edge_count"`
	Duration  time.Duration `json:"duration_ns"`
}

// ClusterOf returns the ID of the cluster containing key.
func (r *Result) ClusterOf(key string) (string, bool) {
	for _, c := range r.Clusters {
		if _, ok := slices.BinarySearch(c.Members, key); ok {
			return c.ID, true
		}
	}
	return "", false
}

type options struct {
	maxIterations int
	fold          bool
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

// WithMaxIterations sets the pass cap. Values below 1 keep the default.
func WithMaxIterations(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithFoldMultiplicity weights each pair by its number of distinct edges.
func WithFoldMultiplicity(fold bool) Option {
	return func(o *options) {
		o.fold = fold
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Engine runs label propagation.
type Engine struct {
	opts options
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	o := options{
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{opts: o}
}

// MaxIterations returns the configured pass cap.
func (e *Engine) MaxIterations() int { return e.opts.maxIterations }

// neighbor is a weighted adjacency entry.
type neighbor struct {
	idx    int
	weight float64
}

// Run partitions the input graph.
//
// Description:
//
//	Builds an undirected weighted adjacency over the sorted node keys and
//	runs label propagation. Labels are node indexes; because nodes are
//	sorted, the smallest index is the lexicographically smallest key.
//
// Inputs:
//
//	ctx - Checked at the top of every pass. A cancelled run returns the
//	context error and no partial result.
//	in - The graph to partition.
//
// Outputs:
//
//	*Result - Clusters ordered by their smallest member, with metrics.
//	error - ErrEmptyGraph or a context error.
//
// Complexity: O(V + E) per pass.
func (e *Engine) Run(ctx context.Context, in Input) (result *Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Engine.Run",
		trace.WithAttributes(
			attribute.Int("cluster.input_nodes", len(in.Nodes)),
			attribute.Int("cluster.input_edges", len(in.Edges)),
			attribute.Int("cluster.max_iterations", e.opts.maxIterations),
			attribute.Bool("cluster.fold_multiplicity", e.opts.fold),
		),
	)
	defer func() {
		outcome := "converged"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !result.Converged:
			outcome = "capped"
		}
		span.End()
		clusterRuns.WithLabelValues(outcome).Inc()
		clusterDuration.Observe(time.Since(start).Seconds())
	}()

	nodes := slices.Clone(in.Nodes)
	sort.Strings(nodes)
	nodes = slices.Compact(nodes)
	if len(nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	adj, pairCount, totalWeight := e.buildAdjacency(nodes, in.Edges)

	labels := make([]int, len(nodes))
	for i := range labels {
		labels[i] = i
	}

	support := make([]float64, len(nodes))
	touched := make([]int, 0, 16)

	iterations := 0
	converged := false
	for iterations < e.opts.maxIterations {
		if err := ctx.Err(); err != nil {
			span.AddEvent("cancelled", trace.WithAttributes(
				attribute.Int("iterations_completed", iterations),
			))
			return nil, err
		}
		iterations++

		changed := 0
		for i := range nodes {
			if len(adj[i]) == 0 {
				continue
			}
			touched = touched[:0]
			for _, nb := range adj[i] {
				l := labels[nb.idx]
				if support[l] == 0 {
					touched = append(touched, l)
				}
				support[l] += nb.weight
			}

			best, bestWeight := -1, 0.0
			for _, l := range touched {
				w := support[l]
				if w > bestWeight || (w == bestWeight && l < best) {
					best, bestWeight = l, w
				}
				support[l] = 0
			}

			if best >= 0 && best != labels[i] {
				labels[i] = best
				changed++
			}
		}

		if changed == 0 {
			converged = true
			break
		}
	}

	clusters, modularity := buildClusters(nodes, labels, adj, totalWeight)
	result = &Result{
		Generation: in.Generation,
		Clusters:   clusters,
		Modularity: modularity,
		Iterations: iterations,
		Converged:  converged,
		NodeCount:  len(nodes),
		EdgeCount:  pairCount,
		Duration:   time.Since(start),
	}

	e.opts.logger.Debug("label propagation completed",
		slog.Int("iterations", iterations),
		slog.Int("clusters", len(clusters)),
		slog.Float64("modularity", modularity),
		slog.Bool("converged", converged),
		slog.Int("node_count", len(nodes)),
		slog.Int("edge_count", pairCount),
	)
	span.SetAttributes(
		attribute.Int("iterations", iterations),
		attribute.Int("clusters_found", len(clusters)),
		attribute.Float64("modularity", modularity),
		attribute.Bool("converged", converged),
		attribute.String("algorithm", Algorithm),
	)
	return result, nil
}

// buildAdjacency returns per-node neighbor lists sorted by index, the
// number of connected pairs and the total pair weight.
func (e *Engine) buildAdjacency(nodes []string, edges []graph.Edge) ([][]neighbor, int, float64) {
	index := make(map[string]int, len(nodes))
	for i, k := range nodes {
		index[k] = i
	}

	type pair struct{ a, b int }
	weights := make(map[pair]float64)
	seen := make(map[graph.Edge]struct{}, len(edges))
	for _, edge := range edges {
		a, okA := index[edge.FromKey]
		b, okB := index[edge.ToKey]
		if !okA || !okB || a == b {
			continue
		}
		if _, dup := seen[edge]; dup {
			continue
		}
		seen[edge] = struct{}{}
		if a > b {
			a, b = b, a
		}
		p := pair{a, b}
		if e.opts.fold {
			weights[p]++
		} else {
			weights[p] = 1
		}
	}

	adj := make([][]neighbor, len(nodes))
	total := 0.0
	for p, w := range weights {
		adj[p.a] = append(adj[p.a], neighbor{idx: p.b, weight: w})
		adj[p.b] = append(adj[p.b], neighbor{idx: p.a, weight: w})
		total += w
	}
	for i := range adj {
		slices.SortFunc(adj[i], func(x, y neighbor) int { return x.idx - y.idx })
	}
	return adj, len(weights), total
}

// buildClusters groups nodes by label and computes quality metrics.
//
// For cluster c with internal weight L_c, external weight X_c and total
// weight m: cohesion = L_c / (L_c + X_c), or 1.0 when both are zero;
// coupling = 1 - cohesion; modularity = L_c/m - (d_c/2m)^2 where
// d_c = 2*L_c + X_c.
func buildClusters(nodes []string, labels []int, adj [][]neighbor, m float64) ([]graph.Cluster, float64) {
	members := make(map[int][]int)
	for i, l := range labels {
		members[l] = append(members[l], i)
	}

	order := make([]int, 0, len(members))
	for l := range members {
		order = append(order, l)
	}
	// Clusters are numbered by their smallest member.
	sort.Slice(order, func(i, j int) bool {
		return members[order[i]][0] < members[order[j]][0]
	})

	clusters := make([]graph.Cluster, 0, len(order))
	total := 0.0
	for n, l := range order {
		var internal, external float64
		for _, i := range members[l] {
			for _, nb := range adj[i] {
				if labels[nb.idx] == l {
					internal += nb.weight
				} else {
					external += nb.weight
				}
			}
		}
		// Each internal pair was seen from both ends.
		internal /= 2

		cohesion := 1.0
		if internal+external > 0 {
			cohesion = internal / (internal + external)
		}
		modularity := 0.0
		if m > 0 {
			d := 2*internal + external
			modularity = internal/m - (d/(2*m))*(d/(2*m))
		}
		total += modularity

		keys := make([]string, len(members[l]))
		for j, i := range members[l] {
			keys[j] = nodes[i]
		}
		clusters = append(clusters, graph.Cluster{
			ID:            fmt.Sprintf("cluster_%04d", n+1),
			Label:         nodes[l],
			Members:       keys,
			Modularity:    modularity,
			Cohesion:      cohesion,
			Coupling:      1 - cohesion,
			InternalEdges: internal,
			ExternalEdges: external,
			Algorithm:     Algorithm,
		})
	}
	return clusters, total
}
