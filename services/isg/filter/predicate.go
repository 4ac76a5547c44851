// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// Predicate is a parsed filter. The concrete types are All, *Atom, And and
// Or; no other implementations exist.
type Predicate interface {
	// Match reports whether the entity satisfies the predicate.
	Match(e *graph.Entity) bool

	// String returns the canonical text form. Equal predicates render
	// identically, so the result is usable as a cache key.
	String() string

	isPredicate()
}

// All matches every entity.
type All struct{}

func (All) Match(*graph.Entity) bool { return true }
func (All) String() string           { return "ALL" }
func (All) isPredicate()             {}

// IsAll reports whether p is the match-everything predicate.
func IsAll(p Predicate) bool {
	if p == nil {
		return true
	}
	_, ok := p.(All)
	return ok
}

// Op is an atom comparison operator.
type Op int

const (
	// OpEq is exact match.
	OpEq Op = iota

	// OpNeq is the negation of OpEq.
	OpNeq

	// OpContains is case-sensitive substring containment.
	OpContains
)

// String returns the operator token.
func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNeq:
		return "!="
	case OpContains:
		return "~"
	default:
		return "?"
	}
}

// Literal is the right-hand side of an atom.
type Literal struct {
	// Text is the literal as written, unquoted.
	Text string

	// Quoted is true for '...' and "..." literals.
	Quoted bool

	// Null is true for bare None or null.
	Null bool

	num    int
	flag   bool
	action temporal.Action
}

func (l Literal) String() string {
	switch {
	case l.Null:
		return "None"
	case l.Quoted:
		return strconv.Quote(l.Text)
	default:
		return l.Text
	}
}

// Atom compares one field against one literal.
type Atom struct {
	Field string
	Op    Op
	Value Literal

	f field
}

// NewAtom builds a checked atom. The literal text is interpreted the way
// the parser interprets a bare word.
func NewAtom(fieldName string, op Op, literal string) (*Atom, error) {
	return newAtom(
		token{kind: tokWord, text: fieldName},
		token{kind: tokEq, text: op.String()},
		op,
		token{kind: tokWord, text: literal},
	)
}

func newAtom(fieldTok, opTok token, op Op, litTok token) (*Atom, error) {
	f, ok := lookupField(fieldTok.text)
	if !ok {
		return nil, malformed(fieldTok, "unknown field %q", fieldTok.text)
	}
	lit := Literal{Text: litTok.text, Quoted: litTok.kind == tokString}
	if !lit.Quoted && isNullWord(lit.Text) {
		lit.Null = true
	}

	if lit.Null && op == OpContains {
		return nil, malformed(litTok, "'~' needs a substring, not None")
	}

	if !lit.Null {
		switch f.kind {
		case FieldInt:
			if op != OpContains {
				n, err := strconv.Atoi(lit.Text)
				if err != nil {
					return nil, malformed(litTok, "field %s needs an integer", f.name)
				}
				lit.num = n
			}
		case FieldBool:
			if op == OpContains {
				return nil, malformed(opTok, "'~' is not defined for bool field %s", f.name)
			}
			b, ok := parseBool(lit.Text)
			if !ok {
				return nil, malformed(litTok, "field %s needs true or false", f.name)
			}
			lit.flag = b
		case FieldAction:
			if op != OpContains {
				a, err := temporal.ParseAction(lit.Text)
				if err != nil {
					return nil, malformed(litTok, "field %s needs Create, Edit, Delete or None", f.name)
				}
				lit.action = a
				if a == temporal.ActionNone {
					lit.Null = true
				}
			}
		}
	}

	return &Atom{Field: f.name, Op: op, Value: lit, f: f}, nil
}

// Match implements Predicate.
func (a *Atom) Match(e *graph.Entity) bool {
	v := a.f.get(e)
	switch a.Op {
	case OpEq:
		return a.equal(v)
	case OpNeq:
		return !a.equal(v)
	case OpContains:
		return a.contains(v)
	default:
		return false
	}
}

func (a *Atom) equal(v value) bool {
	if a.Value.Null {
		return !v.present
	}
	switch a.f.kind {
	case FieldString:
		return v.str == a.Value.Text
	case FieldOptString:
		return v.present && v.str == a.Value.Text
	case FieldInt:
		return v.num == a.Value.num
	case FieldBool:
		return v.flag == a.Value.flag
	case FieldAction:
		return temporal.Action(v.str) == a.Value.action
	case FieldList:
		return containsString(v.list, a.Value.Text)
	default:
		return false
	}
}

func (a *Atom) contains(v value) bool {
	if !v.present && a.f.kind != FieldString {
		return false
	}
	if a.f.kind == FieldList {
		for _, item := range v.list {
			if strings.Contains(item, a.Value.Text) {
				return true
			}
		}
		return false
	}
	return strings.Contains(v.str, a.Value.Text)
}

func (a *Atom) String() string {
	return a.Field + " " + a.Op.String() + " " + a.Value.String()
}

func (*Atom) isPredicate() {}

// And matches when every term matches.
type And struct {
	Terms []Predicate
}

// Match implements Predicate.
func (p And) Match(e *graph.Entity) bool {
	for _, t := range p.Terms {
		if !t.Match(e) {
			return false
		}
	}
	return true
}

func (p And) String() string {
	parts := make([]string, len(p.Terms))
	for i, t := range p.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func (And) isPredicate() {}

// Or matches when any term matches.
type Or struct {
	Terms []Predicate
}

// Match implements Predicate.
func (p Or) Match(e *graph.Entity) bool {
	for _, t := range p.Terms {
		if t.Match(e) {
			return true
		}
	}
	return false
}

func (p Or) String() string {
	parts := make([]string, len(p.Terms))
	for i, t := range p.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, "; ")
}

func (Or) isPredicate() {}

func isNullWord(s string) bool {
	switch s {
	case "None", "none", "null", "NULL", "Null":
		return true
	}
	return false
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}
