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
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/isgraph/services/isg/cluster"
	"github.com/AleutianAI/isgraph/services/isg/filter"
	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/keys"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := Open(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// sampleInput is a small crate: main calls helper and uses Config;
// helper uses Config.
func sampleInput() ([]ParsedEntity, []ParsedEdge) {
	ents := []ParsedEntity{
		{Key: "e1", EntityType: "fn", Name: "main", FilePath: "src/main.rs", LineStart: 1, LineEnd: 10, CurrentCode: graph.Ptr("fn main() {}")},
		{Key: "e2", EntityType: "fn", Name: "helper", FilePath: "src/lib.rs", LineStart: 1, LineEnd: 5, CurrentCode: graph.Ptr("fn helper() {}"),
			Type: &graph.TypeInfo{IsPublic: true}},
		{EntityType: "struct", Name: "Config", FilePath: "src/lib.rs", LineStart: 7, LineEnd: 12, EntityClass: "code"},
		{EntityType: "fn", Name: "test_helper", FilePath: "tests/it.rs", LineStart: 3, LineEnd: 9, EntityClass: "test"},
	}
	edges := []ParsedEdge{
		{From: "e1", To: "e2", EdgeType: "Calls"},
		{From: "main", To: "Config", EdgeType: "Uses"},
		{From: "helper", To: "Config", EdgeType: "uses"},
		{From: "test_helper", To: "helper", EdgeType: "Calls"},
		{From: "e1", To: "e2", EdgeType: "Calls"},
	}
	return ents, edges
}

func loadSample(t *testing.T, s *Store) *LoadReport {
	t.Helper()
	ents, edges := sampleInput()
	report, err := s.BulkLoad(context.Background(), ents, edges)
	require.NoError(t, err)
	return report
}

func collect(t *testing.T, s *Store, text string) []graph.Entity {
	t.Helper()
	seq, err := s.QueryString(context.Background(), text)
	require.NoError(t, err)
	var out []graph.Entity
	for e := range seq {
		out = append(out, e)
	}
	return out
}

func configKey(t *testing.T) string {
	t.Helper()
	k, err := keys.Derive("rust", "struct", "Config", "src/lib.rs", 7, 12)
	require.NoError(t, err)
	return k
}

// assertInvariants checks the temporal and dependency invariants on the
// current snapshot.
func assertInvariants(t *testing.T, s *Store) {
	t.Helper()
	snap := s.Snapshot()

	fwd := map[string][]string{}
	rev := map[string][]string{}
	for _, e := range snap.Edges() {
		assert.True(t, snap.Has(e.FromKey) || snap.IsTombstoned(e.FromKey), "dangling from %s", e.FromKey)
		assert.True(t, snap.Has(e.ToKey) || snap.IsTombstoned(e.ToKey), "dangling to %s", e.ToKey)
		from, okF := snap.Get(e.FromKey)
		to, okT := snap.Get(e.ToKey)
		if okF && okT && from.CurrentInd && to.CurrentInd {
			fwd[e.FromKey] = append(fwd[e.FromKey], e.ToKey)
			rev[e.ToKey] = append(rev[e.ToKey], e.FromKey)
		}
	}

	for e := range snap.Query(context.Background(), filter.All{}) {
		assert.True(t, temporal.Valid(e.Indicators()), "entity %s has invalid state %+v", e.Key, e.Indicators())
		assert.Equal(t, sortedUnique(fwd[e.Key]), e.ForwardDeps, "forward deps of %s", e.Key)
		assert.Equal(t, sortedUnique(rev[e.Key]), e.ReverseDeps, "reverse deps of %s", e.Key)
	}
}

func TestBulkLoad(t *testing.T) {
	s := openStore(t)
	report := loadSample(t, s)

	assert.Equal(t, uint64(1), report.Generation)
	assert.Equal(t, 4, report.Entities)
	assert.Equal(t, 4, report.Edges, "duplicate edge triple is deduplicated")
	assert.Empty(t, report.Errors)

	cfg, ok := s.Get(configKey(t))
	require.True(t, ok)
	assert.Equal(t, "rust", cfg.Language)
	assert.Equal(t, []string{"e1", "e2"}, cfg.ReverseDeps)
	assert.True(t, cfg.CurrentInd)
	assert.True(t, cfg.FutureInd)
	assert.Equal(t, temporal.ActionNone, cfg.FutureAction)

	main, ok := s.Get("e1")
	require.True(t, ok)
	assert.Equal(t, []string{"e2", configKey(t)}, main.ForwardDeps)

	assertInvariants(t, s)
}

func TestBulkLoad_PartialFailure(t *testing.T) {
	s := openStore(t, WithLoadWorkers(2))
	ents := []ParsedEntity{
		{Key: "a", EntityType: "fn", Name: "dup", FilePath: "a.rs", LineStart: 1, LineEnd: 2},
		{Key: "b", EntityType: "fn", Name: "dup", FilePath: "b.rs", LineStart: 1, LineEnd: 2},
		{Key: "a", EntityType: "fn", Name: "again", FilePath: "c.rs", LineStart: 1, LineEnd: 2},
		{EntityType: "fn", Name: "escape", FilePath: "../x.rs", LineStart: 1, LineEnd: 2},
		{EntityType: "fn", Name: "", FilePath: "y.rs", LineStart: 1, LineEnd: 2},
		{EntityType: "fn", Name: "backwards", FilePath: "z.rs", LineStart: 9, LineEnd: 2},
		{Key: "bad key", EntityType: "fn", Name: "k", FilePath: "k.rs"},
		{Key: "c", EntityType: "fn", Name: "c", FilePath: "c.rs", EntityClass: "bench"},
	}
	edges := []ParsedEdge{
		{From: "a", To: "b", EdgeType: "Calls"},
		{From: "dup", To: "a", EdgeType: "Calls"},
		{From: "a", To: "ghost", EdgeType: "Calls"},
		{From: "a", To: "b", EdgeType: "Likes"},
		{From: "", To: "b", EdgeType: "Calls"},
	}
	report, err := s.BulkLoad(context.Background(), ents, edges)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Entities)
	assert.Equal(t, 1, report.Edges)

	byIndex := map[string]error{}
	for _, le := range report.Errors {
		byIndex[fmt.Sprintf("%s%d", le.Item, le.Index)] = le
	}
	assert.ErrorIs(t, byIndex["entity2"], ErrKeyCollision)
	assert.ErrorIs(t, byIndex["entity3"], keys.ErrInvalidPath)
	assert.ErrorIs(t, byIndex["entity4"], ErrInvalidEntity)
	assert.ErrorIs(t, byIndex["entity5"], ErrInvalidEntity)
	assert.ErrorIs(t, byIndex["entity6"], ErrInvalidEntity)
	assert.ErrorIs(t, byIndex["entity7"], ErrInvalidEntity)
	assert.ErrorIs(t, byIndex["edge1"], ErrAmbiguousEndpoint)
	assert.ErrorIs(t, byIndex["edge2"], ErrUnresolvedEdge)
	assert.ErrorIs(t, byIndex["edge3"], ErrInvalidEntity)
	assert.ErrorIs(t, byIndex["edge4"], ErrInvalidEntity)
	assert.Len(t, report.Errors, 10)

	first, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a.rs", first.FilePath, "first entity with a key wins")
	assertInvariants(t, s)
}

func TestBulkLoad_RejectsInvalidUTF8Key(t *testing.T) {
	s := openStore(t)
	report, err := s.BulkLoad(context.Background(), []ParsedEntity{
		{Key: "k\xffa", EntityType: "fn", Name: "broken", FilePath: "k.rs", LineStart: 1, LineEnd: 2},
		{Key: "b", EntityType: "fn", Name: "b", FilePath: "b.rs", LineStart: 1, LineEnd: 2},
	}, []ParsedEdge{
		{From: "k\xffa", To: "b", EdgeType: "Calls"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Entities)
	assert.Equal(t, 0, report.Edges)
	require.NotEmpty(t, report.Errors)
	assert.ErrorIs(t, report.Errors[0], ErrInvalidEntity)
	_, ok := s.Get("k\xffa")
	assert.False(t, ok)
}

func TestBulkLoad_ReplacesGeneration(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	require.NoError(t, s.ApplyMutation(context.Background(), MutationRequest{
		Key: "e9", Action: temporal.ActionCreate, FutureCode: graph.Ptr("fn x(){}"),
	}))
	require.NoError(t, s.RevertMutation(context.Background(), "e9"))
	assert.True(t, s.Snapshot().IsTombstoned("e9"))

	report, err := s.BulkLoad(context.Background(), []ParsedEntity{
		{Key: "only", EntityType: "module", Name: "only", FilePath: "only.rs"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Generation)

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Len())
	assert.False(t, snap.IsTombstoned("e9"), "bulk load starts a new generation")
	_, ok := s.Get("e1")
	assert.False(t, ok)
}

func TestBulkLoad_Cancelled(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ents, edges := sampleInput()
	_, err := s.BulkLoad(ctx, ents, edges)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1), s.Snapshot().Generation(), "cancelled load publishes nothing")
}

func TestQuery(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)

	all := collect(t, s, "ALL")
	assert.Len(t, all, s.Snapshot().Len())
	assert.True(t, slices.IsSortedFunc(all, func(a, b graph.Entity) int {
		return strings.Compare(a.Key, b.Key)
	}))

	fns := collect(t, s, "entity_type = fn")
	assert.Len(t, fns, 3)

	pub := collect(t, s, "is_public = true, entity_type = 'fn'")
	require.Len(t, pub, 1)
	assert.Equal(t, "e2", pub[0].Key)

	union := collect(t, s, "entity_type = 'fn'; entity_type = 'struct'")
	assert.Len(t, union, 4)

	tests := collect(t, s, "class = test")
	require.Len(t, tests, 1)
	assert.Equal(t, "test_helper", tests[0].Name)

	_, err := s.QueryString(context.Background(), "flavor = sweet")
	var mfe *filter.MalformedFilterError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, "flavor", mfe.Token)

	t.Run("early stop", func(t *testing.T) {
		seq, err := s.Query(context.Background(), filter.All{})
		require.NoError(t, err)
		n := 0
		for range seq {
			n++
			if n == 2 {
				break
			}
		}
		assert.Equal(t, 2, n)
	})

	t.Run("returned entities are copies", func(t *testing.T) {
		e := collect(t, s, "key = e1")[0]
		e.ForwardDeps[0] = "mutated"
		again, _ := s.Get("e1")
		assert.Equal(t, "e2", again.ForwardDeps[0])
	})
}

// Entity e1 Unchanged -> Delete -> commit -> gone.
func TestScenario_DeleteThenCommit(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e1", Action: temporal.ActionDelete, FutureCode: graph.Ptr("ignored")}))
	e1, ok := s.Get("e1")
	require.True(t, ok)
	assert.Equal(t, temporal.StateDelete.Indicators(), e1.Indicators())
	assert.Nil(t, e1.FutureCode, "future code is ignored for delete")
	assertInvariants(t, s)

	report, err := s.CommitAndReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, report.Removed)
	assert.Equal(t, 2, report.EdgesDropped)
	assert.False(t, report.NoOp)

	_, ok = s.Get("e1")
	assert.False(t, ok)
	assert.True(t, s.Snapshot().IsTombstoned("e1"))

	e2, _ := s.Get("e2")
	testHelper, err := keys.Derive("rust", "fn", "test_helper", "tests/it.rs", 3, 9)
	require.NoError(t, err)
	assert.Equal(t, []string{testHelper}, e2.ReverseDeps)
	assertInvariants(t, s)

	err = s.ApplyMutation(ctx, MutationRequest{Key: "e1", Action: temporal.ActionCreate, FutureCode: graph.Ptr("fn main(){}")})
	assert.ErrorIs(t, err, ErrKeyCollision, "tombstoned keys are never reused")
}

// New key e9 -> Create -> commit -> current.
func TestScenario_CreateThenCommit(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e9", Action: temporal.ActionCreate, FutureCode: graph.Ptr("fn x(){}")}))
	e9, ok := s.Get("e9")
	require.True(t, ok)
	assert.Equal(t, temporal.StateCreate.Indicators(), e9.Indicators())
	assert.Nil(t, e9.CurrentCode)
	assertInvariants(t, s)

	report, err := s.CommitAndReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e9"}, report.Created)

	e9, ok = s.Get("e9")
	require.True(t, ok)
	assert.True(t, e9.CurrentInd)
	assert.True(t, e9.FutureInd)
	assert.Equal(t, temporal.ActionNone, e9.FutureAction)
	require.NotNil(t, e9.CurrentCode)
	assert.Equal(t, "fn x(){}", *e9.CurrentCode)
	assert.Nil(t, e9.FutureCode)
	assertInvariants(t, s)
}

func TestApplyMutation_EditAndMeta(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e2", Action: temporal.ActionEdit, FutureCode: graph.Ptr("fn helper() { 2 }")}))
	e2, _ := s.Get("e2")
	assert.Equal(t, temporal.StateEdit.Indicators(), e2.Indicators())
	assert.Equal(t, "fn helper() {}", *e2.CurrentCode)

	key, err := keys.Derive("rust", "fn", "added", "src/new.rs", 4, 8)
	require.NoError(t, err)
	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: key, Action: temporal.ActionCreate, FutureCode: graph.Ptr("fn added() {}")}))
	added, _ := s.Get(key)
	assert.Equal(t, "added", added.Name)
	assert.Equal(t, graph.EntityKind("fn"), added.EntityType)
	assert.Equal(t, 4, added.LineStart)

	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{
		Key: "meta", Action: temporal.ActionCreate, FutureCode: graph.Ptr("struct M;"),
		Meta: &EntityMeta{EntityType: "struct", Name: "M", FilePath: "src/m.rs", LineStart: 1, LineEnd: 1, EntityClass: "test"},
	}))
	meta, _ := s.Get("meta")
	assert.Equal(t, "M", meta.Name)
	assert.Equal(t, graph.ClassTest, meta.EntityClass)
	assert.Equal(t, "rust", meta.Language)

	report, err := s.CommitAndReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, report.Edited)
	assert.ElementsMatch(t, []string{key, "meta"}, report.Created)
	e2, _ = s.Get("e2")
	assert.Equal(t, "fn helper() { 2 }", *e2.CurrentCode)
	assertInvariants(t, s)
}

func TestApplyMutation_Rejections(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	ctx := context.Background()
	code := graph.Ptr("x")

	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e2", Action: temporal.ActionEdit, FutureCode: code}))
	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "new", Action: temporal.ActionCreate, FutureCode: code}))
	before := s.Snapshot()

	tests := []struct {
		name string
		req  MutationRequest
		want error
	}{
		{"create existing", MutationRequest{Key: "e1", Action: temporal.ActionCreate, FutureCode: code}, ErrKeyCollision},
		{"edit missing", MutationRequest{Key: "nope", Action: temporal.ActionEdit, FutureCode: code}, ErrEntityNotFound},
		{"delete missing", MutationRequest{Key: "nope", Action: temporal.ActionDelete}, ErrEntityNotFound},
		{"edit pending edit", MutationRequest{Key: "e2", Action: temporal.ActionEdit, FutureCode: code}, temporal.ErrInvalidTransition},
		{"delete pending edit", MutationRequest{Key: "e2", Action: temporal.ActionDelete}, temporal.ErrInvalidTransition},
		{"edit pending create", MutationRequest{Key: "new", Action: temporal.ActionEdit, FutureCode: code}, temporal.ErrInvalidTransition},
		{"edit without code", MutationRequest{Key: "e1", Action: temporal.ActionEdit}, temporal.ErrMissingFutureCode},
		{"create without code", MutationRequest{Key: "fresh", Action: temporal.ActionCreate}, temporal.ErrMissingFutureCode},
		{"bad key", MutationRequest{Key: "has space", Action: temporal.ActionCreate, FutureCode: code}, keys.ErrInvalidKey},
		{"no action", MutationRequest{Key: "e1"}, temporal.ErrInvalidTransition},
		{"bad meta", MutationRequest{Key: "m", Action: temporal.ActionCreate, FutureCode: code, Meta: &EntityMeta{LineStart: 5, LineEnd: 1}}, ErrInvalidEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ApplyMutation(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Same(t, before, s.Snapshot(), "rejected mutations publish nothing")
	assertInvariants(t, s)
}

func TestRevertMutation(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e1", Action: temporal.ActionDelete}))
	require.NoError(t, s.RevertMutation(ctx, "e1"))
	e1, _ := s.Get("e1")
	assert.Equal(t, temporal.Unchanged(), e1.Indicators())

	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e2", Action: temporal.ActionEdit, FutureCode: graph.Ptr("y")}))
	require.NoError(t, s.RevertMutation(ctx, "e2"))
	e2, _ := s.Get("e2")
	assert.Equal(t, temporal.Unchanged(), e2.Indicators())
	assert.Nil(t, e2.FutureCode)

	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "tmp", Action: temporal.ActionCreate, FutureCode: graph.Ptr("z")}))
	require.NoError(t, s.RevertMutation(ctx, "tmp"))
	_, ok := s.Get("tmp")
	assert.False(t, ok)
	assert.True(t, s.Snapshot().IsTombstoned("tmp"))

	v := s.Snapshot().Version()
	require.NoError(t, s.RevertMutation(ctx, "e1"), "reverting an unchanged entity is a no-op")
	assert.Equal(t, v, s.Snapshot().Version())

	assert.ErrorIs(t, s.RevertMutation(ctx, "tmp"), ErrEntityNotFound)
	assertInvariants(t, s)
}

func TestCommitAndReset_Idempotent(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	before := s.Snapshot()

	report, err := s.CommitAndReset(context.Background())
	require.NoError(t, err)
	assert.True(t, report.NoOp)
	assert.Same(t, before, s.Snapshot(), "no-op commit publishes nothing")

	require.NoError(t, s.ApplyMutation(context.Background(), MutationRequest{Key: "e1", Action: temporal.ActionEdit, FutureCode: graph.Ptr("fn main() { 1 }")}))
	_, err = s.CommitAndReset(context.Background())
	require.NoError(t, err)
	after := s.Snapshot().State()

	report, err = s.CommitAndReset(context.Background())
	require.NoError(t, err)
	assert.True(t, report.NoOp)
	assert.Equal(t, after, s.Snapshot().State())
}

func TestReplaceClusters(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	ctx := context.Background()

	snap := s.Snapshot()
	res, err := cluster.NewEngine().Run(ctx, snap.ClusterInput())
	require.NoError(t, err)
	require.NoError(t, s.ReplaceClusters(ctx, res.Generation, res.Clusters))
	assert.Equal(t, res.Clusters, s.Snapshot().Clusters())

	// Pending mutations do not change the current graph.
	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e1", Action: temporal.ActionDelete}))
	require.NoError(t, s.ReplaceClusters(ctx, res.Generation, res.Clusters))
	assert.Len(t, s.Snapshot().Clusters(), len(res.Clusters))

	_, err = s.CommitAndReset(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Clusters(), "commit clears clusters")

	err = s.ReplaceClusters(ctx, res.Generation, res.Clusters)
	assert.ErrorIs(t, err, ErrStaleSnapshot)

	err = s.ReplaceClusters(ctx, s.Snapshot().Generation(), []graph.Cluster{{ID: "c", Members: []string{"e1"}}})
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestClusterInput_CurrentOnly(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	require.NoError(t, s.ApplyMutation(context.Background(), MutationRequest{Key: "fut", Action: temporal.ActionCreate, FutureCode: graph.Ptr("x")}))

	in := s.Snapshot().ClusterInput()
	assert.NotContains(t, in.Nodes, "fut")
	assert.Len(t, in.Nodes, 4)
	assert.Len(t, in.Edges, 4)
}

func TestStats(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	ctx := context.Background()
	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e1", Action: temporal.ActionDelete}))
	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e2", Action: temporal.ActionEdit, FutureCode: graph.Ptr("x")}))
	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "n", Action: temporal.ActionCreate, FutureCode: graph.Ptr("x")}))

	st := s.Stats()
	assert.Equal(t, "memory", st.Backend)
	assert.Equal(t, 5, st.Entities)
	assert.Equal(t, 4, st.Edges)
	assert.Equal(t, map[string]int{"unchanged": 2, "edit": 1, "delete": 1, "create": 1}, st.States)
}

func TestSnapshotIndexes(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	snap := s.Snapshot()

	assert.Equal(t, []string{"e1"}, snap.ByName("main"))
	assert.Len(t, snap.ByFile("src/lib.rs"), 2)
	assert.Len(t, snap.ByType(graph.KindFunction), 3)
	assert.Empty(t, snap.ByName("nobody"))
}

func TestSnapshotIsolation(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	old := s.Snapshot()

	require.NoError(t, s.ApplyMutation(context.Background(), MutationRequest{Key: "e1", Action: temporal.ActionDelete}))
	e1, _ := old.Get("e1")
	assert.Equal(t, temporal.Unchanged(), e1.Indicators(), "old snapshot is unaffected by later writes")
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := openStore(t)
	loadSample(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := s.Snapshot()
				n := 0
				for e := range snap.Query(ctx, filter.All{}) {
					assert.True(t, temporal.Valid(e.Indicators()))
					n++
				}
				assert.Equal(t, snap.Len(), n)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e1", Action: temporal.ActionEdit, FutureCode: graph.Ptr("v")}))
		require.NoError(t, s.RevertMutation(ctx, "e1"))
	}
	wg.Wait()
}

type failingBackend struct {
	MemoryBackend
	fail bool
}

func (f *failingBackend) Replace(context.Context, *graph.State) error {
	if f.fail {
		return errors.New("disk full")
	}
	return nil
}

func (f *failingBackend) Apply(context.Context, uint64, Delta) error {
	if f.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestBackendFailureLeavesStateUntouched(t *testing.T) {
	be := &failingBackend{}
	s := openStore(t, WithBackend(be))
	loadSample(t, s)
	before := s.Snapshot()
	ctx := context.Background()

	be.fail = true
	ents, edges := sampleInput()
	_, err := s.BulkLoad(ctx, ents[:1], edges)
	assert.Error(t, err)
	assert.Error(t, s.ApplyMutation(ctx, MutationRequest{Key: "e1", Action: temporal.ActionDelete}))
	assert.Same(t, before, s.Snapshot())

	be.fail = false
	require.NoError(t, s.ApplyMutation(ctx, MutationRequest{Key: "e1", Action: temporal.ActionDelete}))
	be.fail = true
	_, err = s.CommitAndReset(ctx)
	assert.Error(t, err)
	_, ok := s.Get("e1")
	assert.True(t, ok, "failed commit keeps the pending delete")
}

func TestClosedStore(t *testing.T) {
	s, err := Open(context.Background(), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrStoreClosed)

	ctx := context.Background()
	_, err = s.BulkLoad(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.ApplyMutation(ctx, MutationRequest{Key: "k", Action: temporal.ActionCreate, FutureCode: graph.Ptr("x")}), ErrStoreClosed)
	assert.ErrorIs(t, s.RevertMutation(ctx, "k"), ErrStoreClosed)
	_, err = s.CommitAndReset(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Query(ctx, filter.All{})
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, ok := s.Get("k")
	assert.False(t, ok)
}

type stateBackend struct {
	MemoryBackend
	state *graph.State
}

func (b *stateBackend) Load(context.Context) (*graph.State, error) { return b.state, nil }

func (b *stateBackend) Replace(_ context.Context, st *graph.State) error {
	b.state = st
	return nil
}

func TestOpenRestoresState(t *testing.T) {
	be := &stateBackend{}
	s := openStore(t, WithBackend(be))
	loadSample(t, s)
	want := s.Snapshot().State()

	reopened := openStore(t, WithBackend(be))
	assert.Equal(t, want, reopened.Snapshot().State())
	assertInvariants(t, reopened)
}
