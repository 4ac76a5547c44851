// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_AllCombinations(t *testing.T) {
	valid := 0
	for _, cur := range []bool{false, true} {
		for _, fut := range []bool{false, true} {
			for _, act := range []Action{ActionNone, ActionCreate, ActionEdit, ActionDelete} {
				ind := Indicators{CurrentInd: cur, FutureInd: fut, FutureAction: act}
				state, err := Classify(ind)
				if err != nil {
					assert.ErrorIs(t, err, ErrInvalidState)
					assert.False(t, Valid(ind))
					continue
				}
				valid++
				assert.Equal(t, ind, state.Indicators())
			}
		}
	}
	assert.Equal(t, 4, valid, "exactly four states are valid")
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		exists  bool
		from    Indicators
		action  Action
		code    bool
		want    State
		wantErr error
	}{
		{"unchanged to edit", true, Unchanged(), ActionEdit, true, StateEdit, nil},
		{"unchanged to delete", true, Unchanged(), ActionDelete, false, StateDelete, nil},
		{"delete ignores code", true, Unchanged(), ActionDelete, true, StateDelete, nil},
		{"new key to create", false, Indicators{}, ActionCreate, true, StateCreate, nil},
		{"create without code", false, Indicators{}, ActionCreate, false, 0, ErrMissingFutureCode},
		{"edit without code", true, Unchanged(), ActionEdit, false, 0, ErrMissingFutureCode},
		{"create on existing", true, Unchanged(), ActionCreate, true, 0, ErrInvalidTransition},
		{"edit on new key", false, Indicators{}, ActionEdit, true, 0, ErrInvalidTransition},
		{"delete on new key", false, Indicators{}, ActionDelete, false, 0, ErrInvalidTransition},
		{"edit twice", true, StateEdit.Indicators(), ActionEdit, true, 0, ErrInvalidTransition},
		{"delete after edit", true, StateEdit.Indicators(), ActionDelete, false, 0, ErrInvalidTransition},
		{"edit after delete", true, StateDelete.Indicators(), ActionEdit, true, 0, ErrInvalidTransition},
		{"edit after create", true, StateCreate.Indicators(), ActionEdit, true, 0, ErrInvalidTransition},
		{"no action", true, Unchanged(), ActionNone, true, 0, ErrInvalidTransition},
		{"bogus action", true, Unchanged(), Action("Rename"), true, 0, ErrUnknownAction},
		{"corrupt start", true, Indicators{CurrentInd: false, FutureInd: false}, ActionEdit, true, 0, ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.exists, tt.from, tt.action, tt.code)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, got, "failed apply returns the input state")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Indicators(), got)
		})
	}
}

func TestRevert(t *testing.T) {
	ind, out, err := Revert(StateEdit.Indicators())
	require.NoError(t, err)
	assert.Equal(t, Unchanged(), ind)
	assert.Equal(t, RevertRestore, out)

	ind, out, err = Revert(StateDelete.Indicators())
	require.NoError(t, err)
	assert.Equal(t, Unchanged(), ind)
	assert.Equal(t, RevertRestore, out)

	_, out, err = Revert(StateCreate.Indicators())
	require.NoError(t, err)
	assert.Equal(t, RevertDiscard, out)

	ind, out, err = Revert(Unchanged())
	require.NoError(t, err)
	assert.Equal(t, Unchanged(), ind)
	assert.Equal(t, RevertNoop, out)

	_, _, err = Revert(Indicators{FutureAction: ActionEdit})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestResolve_Total(t *testing.T) {
	want := map[State]Resolution{
		StateUnchanged: ResolveKeep,
		StateEdit:      ResolvePromote,
		StateDelete:    ResolveRemove,
		StateCreate:    ResolvePromote,
	}
	for state, res := range want {
		t.Run(state.String(), func(t *testing.T) {
			ind, got, err := Resolve(state.Indicators())
			require.NoError(t, err)
			assert.Equal(t, res, got)
			assert.Equal(t, Unchanged(), ind)
		})
	}

	t.Run("idempotent on unchanged", func(t *testing.T) {
		ind, res, err := Resolve(Unchanged())
		require.NoError(t, err)
		ind2, res2, err := Resolve(ind)
		require.NoError(t, err)
		assert.Equal(t, ind, ind2)
		assert.Equal(t, ResolveKeep, res)
		assert.Equal(t, ResolveKeep, res2)
	})
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]Action{
		"": ActionNone, "None": ActionNone, "null": ActionNone,
		"create": ActionCreate, "Edit": ActionEdit, "DELETE": ActionDelete,
	} {
		got, err := ParseAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAction("rename")
	assert.ErrorIs(t, err, ErrUnknownAction)

	assert.Equal(t, "None", ActionNone.String())
	assert.Equal(t, "Create", ActionCreate.String())
}
