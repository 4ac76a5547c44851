// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

func TestEntity_CloneIsDeep(t *testing.T) {
	e := Entity{
		Key:         "k",
		Doc:         Ptr("doc"),
		CurrentCode: Ptr("code"),
		ForwardDeps: []string{"a"},
		Type:        TypeInfo{ReturnType: Ptr("i32"), ParamTypes: []string{"u8"}},
	}
	c := e.Clone()
	*c.Doc = "changed"
	*c.CurrentCode = "changed"
	c.ForwardDeps[0] = "z"
	*c.Type.ReturnType = "u64"
	c.Type.ParamTypes[0] = "bool"

	assert.Equal(t, "doc", *e.Doc)
	assert.Equal(t, "code", *e.CurrentCode)
	assert.Equal(t, "a", e.ForwardDeps[0])
	assert.Equal(t, "i32", *e.Type.ReturnType)
	assert.Equal(t, "u8", e.Type.ParamTypes[0])
}

func TestEntity_Indicators(t *testing.T) {
	var e Entity
	e.SetIndicators(temporal.StateDelete.Indicators())
	assert.True(t, e.CurrentInd)
	assert.False(t, e.FutureInd)
	assert.Equal(t, temporal.ActionDelete, e.FutureAction)

	s, err := e.State()
	require.NoError(t, err)
	assert.Equal(t, temporal.StateDelete, s)
}

func TestSortEdges(t *testing.T) {
	edges := []Edge{
		{"b", "a", EdgeCalls},
		{"a", "c", EdgeUses},
		{"a", "c", EdgeCalls},
		{"a", "c", EdgeCalls},
		{"a", "b", EdgeCalls},
	}
	got := SortEdges(edges)
	assert.Equal(t, []Edge{
		{"a", "b", EdgeCalls},
		{"a", "c", EdgeCalls},
		{"a", "c", EdgeUses},
		{"b", "a", EdgeCalls},
	}, got)
}

func TestParseEdgeType(t *testing.T) {
	for in, want := range map[string]EdgeType{
		"DependsOn": EdgeDependsOn, "depends_on": EdgeDependsOn,
		"calls": EdgeCalls, "IMPLEMENTS": EdgeImplements,
	} {
		got, err := ParseEdgeType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseEdgeType("likes")
	assert.Error(t, err)
	assert.Len(t, EdgeTypes(), 8)
}

func TestParseEntityClass(t *testing.T) {
	c, err := ParseEntityClass("")
	require.NoError(t, err)
	assert.Equal(t, ClassCode, c)
	c, err = ParseEntityClass("Test")
	require.NoError(t, err)
	assert.Equal(t, ClassTest, c)
	_, err = ParseEntityClass("bench")
	assert.Error(t, err)
}
