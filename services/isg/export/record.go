// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"fmt"
	"strconv"

	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// Level selects how much of each entity is exported.
type Level int

const (
	// Level0 exports edges only.
	Level0 Level = 0

	// Level1 exports entity metadata with dependency lists.
	Level1 Level = 1

	// Level2 adds type information to Level1.
	Level2 Level = 2
)

// String returns "L0", "L1" or "L2".
func (l Level) String() string {
	return "L" + strconv.Itoa(int(l))
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l >= Level0 && l <= Level2
}

// ParseLevel accepts "0".."2" and "L0".."L2" (either case).
func ParseLevel(s string) (Level, error) {
	if len(s) == 2 && (s[0] == 'L' || s[0] == 'l') {
		s = s[1:]
	}
	n, err := strconv.Atoi(s)
	if err != nil || !Level(n).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
	return Level(n), nil
}

// ValueKind is the type of a column.
type ValueKind int

const (
	// ValueString is a string column.
	ValueString ValueKind = iota

	// ValueInt is an integer column.
	ValueInt

	// ValueBool is a boolean column.
	ValueBool

	// ValueList is a list-of-strings column.
	ValueList
)

// Column describes one field of an exported record.
type Column struct {
	Name     string
	Kind     ValueKind
	Optional bool
}

var (
	level0Columns = []Column{
		{Name: "from_key", Kind: ValueString},
		{Name: "to_key", Kind: ValueString},
		{Name: "edge_type", Kind: ValueString},
	}

	level1Head = []Column{
		{Name: "key", Kind: ValueString},
		{Name: "name", Kind: ValueString},
		{Name: "entity_type", Kind: ValueString},
		{Name: "entity_class", Kind: ValueString},
		{Name: "file_path", Kind: ValueString},
		{Name: "line_start", Kind: ValueInt},
		{Name: "line_end", Kind: ValueInt},
		{Name: "signature", Kind: ValueString},
		{Name: "doc", Kind: ValueString, Optional: true},
		{Name: "current_ind", Kind: ValueBool},
		{Name: "future_ind", Kind: ValueBool},
		{Name: "future_action", Kind: ValueString, Optional: true},
		{Name: "future_code", Kind: ValueString, Optional: true},
	}

	currentCodeColumn = Column{Name: "current_code", Kind: ValueString, Optional: true}

	level1Tail = []Column{
		{Name: "forward_deps", Kind: ValueList},
		{Name: "reverse_deps", Kind: ValueList},
	}

	level2Extra = []Column{
		{Name: "return_type", Kind: ValueString, Optional: true},
		{Name: "param_types", Kind: ValueList},
		{Name: "param_names", Kind: ValueList},
		{Name: "is_public", Kind: ValueBool},
		{Name: "is_async", Kind: ValueBool},
		{Name: "is_unsafe", Kind: ValueBool},
		{Name: "generic_constraints", Kind: ValueList},
		{Name: "trait_impls", Kind: ValueList},
	}

	columnsByName = func() map[string]Column {
		m := make(map[string]Column)
		for _, set := range [][]Column{level0Columns, level1Head, {currentCodeColumn}, level1Tail, level2Extra} {
			for _, c := range set {
				m[c.Name] = c
			}
		}
		return m
	}()
)

// Columns returns the ordered schema for a level.
func Columns(level Level, includeCurrentCode bool) ([]Column, error) {
	switch level {
	case Level0:
		return append([]Column(nil), level0Columns...), nil
	case Level1, Level2:
		cols := append([]Column(nil), level1Head...)
		if includeCurrentCode {
			cols = append(cols, currentCodeColumn)
		}
		cols = append(cols, level1Tail...)
		if level == Level2 {
			cols = append(cols, level2Extra...)
		}
		return cols, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownLevel, int(level))
	}
}

func columnsFromNames(names []string) ([]Column, error) {
	cols := make([]Column, 0, len(names))
	for _, n := range names {
		c, ok := columnsByName[n]
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q", ErrSerialization, n)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// Value is one field value. Absent is set for an omitted optional field.
type Value struct {
	Str    string
	Int    int
	Bool   bool
	List   []string
	Absent bool
}

// Record is one exported row. Values are parallel to the document columns.
type Record struct {
	Values []Value
}

func str(s string) Value { return Value{Str: s} }

func optStr(p *string) Value {
	if p == nil {
		return Value{Absent: true}
	}
	return Value{Str: *p}
}

func listValue(l []string) Value {
	if l == nil {
		l = []string{}
	}
	return Value{List: l}
}

// edgeRecord builds a Level 0 row.
func edgeRecord(e graph.Edge) Record {
	return Record{Values: []Value{str(e.FromKey), str(e.ToKey), str(string(e.EdgeType))}}
}

// entityRecord builds a Level 1 or Level 2 row following cols.
func entityRecord(e *graph.Entity, cols []Column) Record {
	vals := make([]Value, 0, len(cols))
	pending := e.FutureAction != temporal.ActionNone
	for _, c := range cols {
		var v Value
		switch c.Name {
		case "key":
			v = str(e.Key)
		case "name":
			v = str(e.Name)
		case "entity_type":
			v = str(string(e.EntityType))
		case "entity_class":
			v = str(string(e.EntityClass))
		case "file_path":
			v = str(e.FilePath)
		case "line_start":
			v = Value{Int: e.LineStart}
		case "line_end":
			v = Value{Int: e.LineEnd}
		case "signature":
			v = str(e.Signature)
		case "doc":
			v = optStr(e.Doc)
		case "current_ind":
			v = Value{Bool: e.CurrentInd}
		case "future_ind":
			v = Value{Bool: e.FutureInd}
		case "future_action":
			if pending {
				v = str(string(e.FutureAction))
			} else {
				v = Value{Absent: true}
			}
		case "future_code":
			if pending {
				v = optStr(e.FutureCode)
			} else {
				v = Value{Absent: true}
			}
		case "current_code":
			v = optStr(e.CurrentCode)
		case "forward_deps":
			v = listValue(e.ForwardDeps)
		case "reverse_deps":
			v = listValue(e.ReverseDeps)
		case "return_type":
			v = optStr(e.Type.ReturnType)
		case "param_types":
			v = listValue(e.Type.ParamTypes)
		case "param_names":
			v = listValue(e.Type.ParamNames)
		case "is_public":
			v = Value{Bool: e.Type.IsPublic}
		case "is_async":
			v = Value{Bool: e.Type.IsAsync}
		case "is_unsafe":
			v = Value{Bool: e.Type.IsUnsafe}
		case "generic_constraints":
			v = listValue(e.Type.GenericConstraints)
		case "trait_impls":
			v = listValue(e.Type.TraitImpls)
		}
		vals = append(vals, v)
	}
	return Record{Values: vals}
}

// Document is a complete export: metadata, schema and rows.
type Document struct {
	Level      Level
	Generation uint64
	Version    uint64
	Filter     string
	Columns    []Column
	Records    []Record
}

// ColumnNames returns the column names in order.
func (d *Document) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Get returns the value of column name in row i.
func (d *Document) Get(i int, name string) (Value, bool) {
	if i < 0 || i >= len(d.Records) {
		return Value{}, false
	}
	for j, c := range d.Columns {
		if c.Name == name {
			return d.Records[i].Values[j], true
		}
	}
	return Value{}, false
}
