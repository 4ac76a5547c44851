// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/isgraph/services/isg/graph"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func edge(from, to string) graph.Edge {
	return graph.Edge{FromKey: from, ToKey: to, EdgeType: graph.EdgeCalls}
}

func complete(prefix string, n int) Input {
	var in Input
	for i := 0; i < n; i++ {
		in.Nodes = append(in.Nodes, fmt.Sprintf("%s%02d", prefix, i))
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			in.Edges = append(in.Edges, edge(in.Nodes[i], in.Nodes[j]))
		}
	}
	return in
}

func TestRun_TwoTriangles(t *testing.T) {
	in := Input{
		Generation: 7,
		Nodes:      []string{"f", "e", "d", "c", "b", "a"},
		Edges: []graph.Edge{
			edge("a", "b"), edge("b", "c"), edge("c", "a"),
			edge("d", "e"), edge("e", "f"), edge("f", "d"),
		},
	}
	res, err := NewEngine().Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, res.Clusters, 2)
	assert.True(t, res.Converged)
	assert.Equal(t, uint64(7), res.Generation)
	assert.Equal(t, []string{"a", "b", "c"}, res.Clusters[0].Members)
	assert.Equal(t, []string{"d", "e", "f"}, res.Clusters[1].Members)
	for _, c := range res.Clusters {
		assert.Equal(t, 1.0, c.Cohesion)
		assert.Equal(t, 0.0, c.Coupling)
		assert.Equal(t, 3.0, c.InternalEdges)
		assert.Equal(t, 0.0, c.ExternalEdges)
		assert.Equal(t, Algorithm, c.Algorithm)
		// L_c/m - (d_c/2m)^2 = 3/6 - (6/12)^2
		assert.InDelta(t, 0.25, c.Modularity, 1e-9)
	}
	assert.Equal(t, "cluster_0001", res.Clusters[0].ID)
	assert.Equal(t, "cluster_0002", res.Clusters[1].ID)
	assert.InDelta(t, 0.5, res.Modularity, 1e-9)

	id, ok := res.ClusterOf("e")
	assert.True(t, ok)
	assert.Equal(t, "cluster_0002", id)
	_, ok = res.ClusterOf("zz")
	assert.False(t, ok)
}

func TestRun_CompleteGraphConverges(t *testing.T) {
	res, err := NewEngine().Run(context.Background(), complete("n", 10))
	require.NoError(t, err)
	require.Len(t, res.Clusters, 1)
	assert.Len(t, res.Clusters[0].Members, 10)
	assert.True(t, res.Converged)
	assert.LessOrEqual(t, res.Iterations, DefaultMaxIterations)
	assert.Equal(t, 1.0, res.Clusters[0].Cohesion)
	assert.Equal(t, 45, res.EdgeCount)
}

// The tie rule: with equal support the lexicographically smallest label
// wins. In a path a-b-c, a sees only b and takes "b"; b then sees "b" and
// "c" with equal weight and keeps "b"; c sees "b" and takes it.
func TestRun_TieBreakSmallestLabel(t *testing.T) {
	in := Input{
		Nodes: []string{"a", "b", "c"},
		Edges: []graph.Edge{edge("a", "b"), edge("b", "c")},
	}
	res, err := NewEngine().Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, "b", res.Clusters[0].Label)

	t.Run("pair picks smaller neighbor label", func(t *testing.T) {
		res, err := NewEngine().Run(context.Background(), Input{
			Nodes: []string{"y", "x"},
			Edges: []graph.Edge{edge("y", "x")},
		})
		require.NoError(t, err)
		require.Len(t, res.Clusters, 1)
		assert.Equal(t, []string{"x", "y"}, res.Clusters[0].Members)
	})
}

func TestRun_Deterministic(t *testing.T) {
	in := complete("k", 6)
	in.Nodes = append(in.Nodes, "z1", "z2", "z3")
	in.Edges = append(in.Edges, edge("z1", "z2"), edge("z2", "z3"), edge("z3", "k00"))

	first, err := NewEngine().Run(context.Background(), in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := NewEngine().Run(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, first.Clusters, again.Clusters)
	}
}

func TestRun_EmptyAndSingleton(t *testing.T) {
	_, err := NewEngine().Run(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrEmptyGraph)

	res, err := NewEngine().Run(context.Background(), Input{Nodes: []string{"solo"}})
	require.NoError(t, err)
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, []string{"solo"}, res.Clusters[0].Members)
	assert.Equal(t, 1.0, res.Clusters[0].Cohesion)
	assert.Equal(t, 0.0, res.Clusters[0].Modularity)
	assert.True(t, res.Converged)
}

func TestRun_IgnoresSelfLoopsAndUnknownEndpoints(t *testing.T) {
	res, err := NewEngine().Run(context.Background(), Input{
		Nodes: []string{"a", "b"},
		Edges: []graph.Edge{edge("a", "a"), edge("a", "ghost"), edge("b", "ghost")},
	})
	require.NoError(t, err)
	assert.Len(t, res.Clusters, 2)
	assert.Equal(t, 0, res.EdgeCount)
}

func TestRun_FoldMultiplicity(t *testing.T) {
	// b is pulled towards a by three distinct edges and towards c by one.
	in := Input{
		Nodes: []string{"a", "b", "c"},
		Edges: []graph.Edge{
			{FromKey: "a", ToKey: "b", EdgeType: graph.EdgeCalls},
			{FromKey: "a", ToKey: "b", EdgeType: graph.EdgeUses},
			{FromKey: "b", ToKey: "a", EdgeType: graph.EdgeCalls},
			{FromKey: "a", ToKey: "b", EdgeType: graph.EdgeCalls},
			edge("b", "c"),
		},
	}
	res, err := NewEngine(WithFoldMultiplicity(true)).Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, 4.0, res.Clusters[0].InternalEdges, "duplicate triples count once")

	plain, err := NewEngine().Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2.0, plain.Clusters[0].InternalEdges)
}

func TestRun_CappedIterations(t *testing.T) {
	res, err := NewEngine(WithMaxIterations(1)).Run(context.Background(), complete("n", 5))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, NewEngine(WithMaxIterations(1)).MaxIterations())
	assert.Equal(t, DefaultMaxIterations, NewEngine(WithMaxIterations(0)).MaxIterations())
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewEngine().Run(ctx, complete("n", 4))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_HundredNodesUnderBudget(t *testing.T) {
	var in Input
	for i := 0; i < 100; i++ {
		in.Nodes = append(in.Nodes, fmt.Sprintf("n%03d", i))
	}
	// Ten dense groups of ten with a sparse ring between groups.
	for g := 0; g < 10; g++ {
		for i := 0; i < 10; i++ {
			for j := i + 1; j < 10; j++ {
				in.Edges = append(in.Edges, edge(in.Nodes[g*10+i], in.Nodes[g*10+j]))
			}
		}
		in.Edges = append(in.Edges, edge(in.Nodes[g*10], in.Nodes[((g+1)%10)*10]))
	}

	start := time.Now()
	res, err := NewEngine().Run(context.Background(), in)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 100, res.NodeCount)
	assert.NotEmpty(t, res.Clusters)

	total := 0
	for _, c := range res.Clusters {
		total += len(c.Members)
		assert.InDelta(t, 1.0, c.Cohesion+c.Coupling, 1e-9)
	}
	assert.Equal(t, 100, total)
}
