// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package temporal governs the two-timeline state of graph entities.
//
// Every entity carries (current_ind, future_ind, future_action). Only four
// combinations are valid:
//
//	State      current future action
//	Unchanged  1       1      ""
//	Edit       1       1      Edit
//	Delete     1       0      Delete
//	Create     0       1      Create
//
// Writers may move Unchanged to Edit or Delete, and a brand new key to
// Create. Revert moves Edit and Delete back to Unchanged. Resolve is the
// commit step and is defined for every state.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package temporal

import (
	"fmt"
	"strings"
)

// Action is the pending change recorded on the future timeline.
type Action string

const (
	// ActionNone means no pending change.
	ActionNone Action = ""

	// ActionCreate marks an entity that exists only in the future.
	ActionCreate Action = "Create"

	// ActionEdit marks an entity whose code will change.
	ActionEdit Action = "Edit"

	// ActionDelete marks an entity that will be removed.
	ActionDelete Action = "Delete"
)

// String returns the action token, or "None" for ActionNone.
func (a Action) String() string {
	if a == ActionNone {
		return "None"
	}
	return string(a)
}

// ParseAction accepts action tokens case-insensitively. "", "none" and
// "null" map to ActionNone.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null":
		return ActionNone, nil
	case "create":
		return ActionCreate, nil
	case "edit":
		return ActionEdit, nil
	case "delete":
		return ActionDelete, nil
	default:
		return ActionNone, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// State is one of the four valid temporal states.
type State int

const (
	// StateUnchanged is the baseline: present in both timelines.
	StateUnchanged State = iota

	// StateEdit is present in both timelines with modified future code.
	StateEdit

	// StateDelete is present now and absent in the future.
	StateDelete

	// StateCreate is absent now and present in the future.
	StateCreate
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateUnchanged:
		return "unchanged"
	case StateEdit:
		return "edit"
	case StateDelete:
		return "delete"
	case StateCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Indicators is the raw temporal triple stored on an entity.
type Indicators struct {
	CurrentInd   bool
	FutureInd    bool
	FutureAction Action
}

// Unchanged returns the baseline indicators (1, 1, None).
func Unchanged() Indicators {
	return Indicators{CurrentInd: true, FutureInd: true}
}

// Indicators returns the canonical triple for s.
func (s State) Indicators() Indicators {
	switch s {
	case StateEdit:
		return Indicators{CurrentInd: true, FutureInd: true, FutureAction: ActionEdit}
	case StateDelete:
		return Indicators{CurrentInd: true, FutureInd: false, FutureAction: ActionDelete}
	case StateCreate:
		return Indicators{CurrentInd: false, FutureInd: true, FutureAction: ActionCreate}
	default:
		return Unchanged()
	}
}

// Classify maps indicators to their State.
//
// Outputs:
//
//	State - The matching state.
//	error - ErrInvalidState when the triple is not one of the four rows.
func Classify(ind Indicators) (State, error) {
	switch ind {
	case StateUnchanged.Indicators():
		return StateUnchanged, nil
	case StateEdit.Indicators():
		return StateEdit, nil
	case StateDelete.Indicators():
		return StateDelete, nil
	case StateCreate.Indicators():
		return StateCreate, nil
	default:
		return 0, fmt.Errorf("%w: current=%t future=%t action=%s",
			ErrInvalidState, ind.CurrentInd, ind.FutureInd, ind.FutureAction)
	}
}

// Valid reports whether ind is one of the four valid states.
func Valid(ind Indicators) bool {
	_, err := Classify(ind)
	return err == nil
}

// Apply computes the state reached by a writer-initiated action.
//
// Description:
//
//	exists reports whether the key already names an entity. For an existing
//	entity the only legal start state is Unchanged, and the only legal
//	actions are Edit and Delete. For a new key the only legal action is
//	Create. Create and Edit require hasFutureCode.
//
// Outputs:
//
//	Indicators - The new triple.
//	error - ErrInvalidTransition, ErrMissingFutureCode, ErrInvalidState or
//	ErrUnknownAction.
func Apply(exists bool, from Indicators, action Action, hasFutureCode bool) (Indicators, error) {
	switch action {
	case ActionCreate, ActionEdit, ActionDelete:
	case ActionNone:
		return from, fmt.Errorf("%w: no action given", ErrInvalidTransition)
	default:
		return from, fmt.Errorf("%w: %q", ErrUnknownAction, string(action))
	}

	if !exists {
		if action != ActionCreate {
			return from, fmt.Errorf("%w: %s requires an existing entity", ErrInvalidTransition, action)
		}
		if !hasFutureCode {
			return from, ErrMissingFutureCode
		}
		return StateCreate.Indicators(), nil
	}

	state, err := Classify(from)
	if err != nil {
		return from, err
	}
	if state != StateUnchanged {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state, action)
	}

	switch action {
	case ActionEdit:
		if !hasFutureCode {
			return from, ErrMissingFutureCode
		}
		return StateEdit.Indicators(), nil
	case ActionDelete:
		return StateDelete.Indicators(), nil
	default:
		return from, fmt.Errorf("%w: %s on existing entity", ErrInvalidTransition, action)
	}
}

// RevertOutcome says what the store must do after a revert.
type RevertOutcome int

const (
	// RevertRestore resets the entity to Unchanged.
	RevertRestore RevertOutcome = iota

	// RevertDiscard drops the entity; it only ever existed in the future.
	RevertDiscard

	// RevertNoop leaves an Unchanged entity as it is.
	RevertNoop
)

// Revert undoes a pending mutation.
//
// Edit and Delete return to Unchanged, Create is discarded, Unchanged is a
// no-op.
func Revert(from Indicators) (Indicators, RevertOutcome, error) {
	state, err := Classify(from)
	if err != nil {
		return from, RevertNoop, err
	}
	switch state {
	case StateEdit, StateDelete:
		return Unchanged(), RevertRestore, nil
	case StateCreate:
		return from, RevertDiscard, nil
	default:
		return from, RevertNoop, nil
	}
}

// Resolution says what the store must do to an entity at commit.
type Resolution int

const (
	// ResolveKeep leaves the entity and its code untouched.
	ResolveKeep Resolution = iota

	// ResolvePromote copies future code into current code.
	ResolvePromote

	// ResolveRemove deletes the entity.
	ResolveRemove
)

// String returns the string representation of the Resolution.
func (r Resolution) String() string {
	switch r {
	case ResolveKeep:
		return "keep"
	case ResolvePromote:
		return "promote"
	case ResolveRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Resolve is the commit transition. It is total: every valid state maps to
// a resolution, and the resulting indicators are always Unchanged.
func Resolve(from Indicators) (Indicators, Resolution, error) {
	state, err := Classify(from)
	if err != nil {
		return from, ResolveKeep, err
	}
	switch state {
	case StateEdit, StateCreate:
		return Unchanged(), ResolvePromote, nil
	case StateDelete:
		return Unchanged(), ResolveRemove, nil
	default:
		return Unchanged(), ResolveKeep, nil
	}
}
