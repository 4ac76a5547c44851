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
	"slices"
	"sort"
	"strconv"

	"github.com/AleutianAI/isgraph/services/isg/graph"
)

// FieldKind describes how a field compares against literals.
type FieldKind int

const (
	// FieldString is a required string. Empty counts as absent.
	FieldString FieldKind = iota

	// FieldOptString is an optional string; None matches absent.
	FieldOptString

	// FieldInt is an integer; literals must be numbers.
	FieldInt

	// FieldBool accepts true/false/1/0.
	FieldBool

	// FieldAction is the future action; literals are action tokens or None.
	FieldAction

	// FieldList is a string list; '=' tests membership, '~' any element.
	FieldList
)

// String returns the string representation of the FieldKind.
func (k FieldKind) String() string {
	switch k {
	case FieldString:
		return "string"
	case FieldOptString:
		return "optional string"
	case FieldInt:
		return "int"
	case FieldBool:
		return "bool"
	case FieldAction:
		return "action"
	case FieldList:
		return "list"
	default:
		return "unknown"
	}
}

// value is a field read from an entity.
type value struct {
	present bool
	str     string
	num     int
	flag    bool
	list    []string
}

type field struct {
	name string
	kind FieldKind
	get  func(e *graph.Entity) value
}

func str(s string) value { return value{present: s != "", str: s} }

func optStr(s *string) value {
	if s == nil {
		return value{}
	}
	return value{present: true, str: *s}
}

func num(n int) value { return value{present: true, num: n, str: strconv.Itoa(n)} }

func flag(b bool) value { return value{present: true, flag: b} }

func list(l []string) value { return value{present: len(l) > 0, list: l} }

var fields = map[string]field{
	"key":                 {"key", FieldString, func(e *graph.Entity) value { return str(e.Key) }},
	"entity_type":         {"entity_type", FieldString, func(e *graph.Entity) value { return str(string(e.EntityType)) }},
	"entity_class":        {"entity_class", FieldString, func(e *graph.Entity) value { return str(string(e.EntityClass)) }},
	"name":                {"name", FieldString, func(e *graph.Entity) value { return str(e.Name) }},
	"file_path":           {"file_path", FieldString, func(e *graph.Entity) value { return str(e.FilePath) }},
	"language":            {"language", FieldString, func(e *graph.Entity) value { return str(e.Language) }},
	"signature":           {"signature", FieldString, func(e *graph.Entity) value { return str(e.Signature) }},
	"line_start":          {"line_start", FieldInt, func(e *graph.Entity) value { return num(e.LineStart) }},
	"line_end":            {"line_end", FieldInt, func(e *graph.Entity) value { return num(e.LineEnd) }},
	"doc":                 {"doc", FieldOptString, func(e *graph.Entity) value { return optStr(e.Doc) }},
	"current_code":        {"current_code", FieldOptString, func(e *graph.Entity) value { return optStr(e.CurrentCode) }},
	"future_code":         {"future_code", FieldOptString, func(e *graph.Entity) value { return optStr(e.FutureCode) }},
	"return_type":         {"return_type", FieldOptString, func(e *graph.Entity) value { return optStr(e.Type.ReturnType) }},
	"current_ind":         {"current_ind", FieldBool, func(e *graph.Entity) value { return flag(e.CurrentInd) }},
	"future_ind":          {"future_ind", FieldBool, func(e *graph.Entity) value { return flag(e.FutureInd) }},
	"is_public":           {"is_public", FieldBool, func(e *graph.Entity) value { return flag(e.Type.IsPublic) }},
	"is_async":            {"is_async", FieldBool, func(e *graph.Entity) value { return flag(e.Type.IsAsync) }},
	"is_unsafe":           {"is_unsafe", FieldBool, func(e *graph.Entity) value { return flag(e.Type.IsUnsafe) }},
	"future_action":       {"future_action", FieldAction, func(e *graph.Entity) value { return str(string(e.FutureAction)) }},
	"forward_deps":        {"forward_deps", FieldList, func(e *graph.Entity) value { return list(e.ForwardDeps) }},
	"reverse_deps":        {"reverse_deps", FieldList, func(e *graph.Entity) value { return list(e.ReverseDeps) }},
	"param_types":         {"param_types", FieldList, func(e *graph.Entity) value { return list(e.Type.ParamTypes) }},
	"param_names":         {"param_names", FieldList, func(e *graph.Entity) value { return list(e.Type.ParamNames) }},
	"generic_constraints": {"generic_constraints", FieldList, func(e *graph.Entity) value { return list(e.Type.GenericConstraints) }},
	"trait_impls":         {"trait_impls", FieldList, func(e *graph.Entity) value { return list(e.Type.TraitImpls) }},
}

// aliases map the short names used in Level 1 prose to canonical fields.
var aliases = map[string]string{
	"type":  "entity_type",
	"class": "entity_class",
	"file":  "file_path",
	"line":  "line_start",
}

func lookupField(name string) (field, bool) {
	if canon, ok := aliases[name]; ok {
		name = canon
	}
	f, ok := fields[name]
	return f, ok
}

// Fields returns the canonical filterable field names, sorted.
func Fields() []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KindOf returns the kind of a field name or alias.
func KindOf(name string) (FieldKind, bool) {
	f, ok := lookupField(name)
	return f.kind, ok
}

func containsString(l []string, s string) bool {
	return slices.Contains(l, s)
}
