// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph defines the entity, edge and cluster types of the
// interface signature graph.
//
// # Ownership Model
//
// Values handed out by the store are clones. Callers may mutate them freely;
// the store never observes the change. Use Entity.Clone when copying.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// EntityKind is the entity type token ("fn", "struct", ...).
//
// Any non-empty token is accepted; the constants below are the ones the
// bundled parsers emit.
type EntityKind string

const (
	KindFunction  EntityKind = "fn"
	KindMethod    EntityKind = "method"
	KindStruct    EntityKind = "struct"
	KindEnum      EntityKind = "enum"
	KindTrait     EntityKind = "trait"
	KindInterface EntityKind = "interface"
	KindImpl      EntityKind = "impl"
	KindModule    EntityKind = "module"
	KindType      EntityKind = "type"
	KindConst     EntityKind = "const"
	KindStatic    EntityKind = "static"
	KindMacro     EntityKind = "macro"
	KindClass     EntityKind = "class"
	KindVariable  EntityKind = "variable"
)

// EntityClass separates production code from tests.
type EntityClass string

const (
	// ClassCode is production code. Empty input defaults to it.
	ClassCode EntityClass = "code"

	// ClassTest is test code.
	ClassTest EntityClass = "test"
)

// ParseEntityClass maps a token to an EntityClass. Empty means ClassCode.
func ParseEntityClass(s string) (EntityClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "code":
		return ClassCode, nil
	case "test":
		return ClassTest, nil
	default:
		return "", fmt.Errorf("unknown entity class %q", s)
	}
}

// EdgeType defines the type of relationship between entities.
type EdgeType string

const (
	EdgeDependsOn  EdgeType = "DependsOn"
	EdgeImplements EdgeType = "Implements"
	EdgeCalls      EdgeType = "Calls"
	EdgeUses       EdgeType = "Uses"
	EdgeImports    EdgeType = "Imports"
	EdgeContains   EdgeType = "Contains"
	EdgeExtends    EdgeType = "Extends"
	EdgeReferences EdgeType = "References"
)

// edgeTypes lists the known edge types in declaration order.
var edgeTypes = []EdgeType{
	EdgeDependsOn, EdgeImplements, EdgeCalls, EdgeUses,
	EdgeImports, EdgeContains, EdgeExtends, EdgeReferences,
}

// EdgeTypes returns all known edge types.
func EdgeTypes() []EdgeType {
	return slices.Clone(edgeTypes)
}

// ParseEdgeType matches a token case-insensitively against the known edge
// types. "depends_on" and "dependson" both resolve to EdgeDependsOn.
func ParseEdgeType(s string) (EdgeType, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, et := range edgeTypes {
		if strings.ToLower(string(et)) == norm {
			return et, nil
		}
	}
	return "", fmt.Errorf("unknown edge type %q", s)
}

// TypeInfo holds the type-system extension fields exported at Level 2.
type TypeInfo struct {
	ReturnType         *string  `json:"return_type,omitempty"`
	ParamTypes         []string `json:"param_types,omitempty"`
	ParamNames         []string `json:"param_names,omitempty"`
	IsPublic           bool     `json:"is_public"`
	IsAsync            bool     `json:"is_async"`
	IsUnsafe           bool     `json:"is_unsafe"`
	GenericConstraints []string `json:"generic_constraints,omitempty"`
	TraitImpls         []string `json:"trait_impls,omitempty"`
}

// Clone returns a deep copy.
func (t TypeInfo) Clone() TypeInfo {
	t.ReturnType = cloneString(t.ReturnType)
	t.ParamTypes = slices.Clone(t.ParamTypes)
	t.ParamNames = slices.Clone(t.ParamNames)
	t.GenericConstraints = slices.Clone(t.GenericConstraints)
	t.TraitImpls = slices.Clone(t.TraitImpls)
	return t
}

// Entity is a code-level unit with its temporal state.
//
// ForwardDeps and ReverseDeps are derived by the store from the edge table,
// restricted to entities with CurrentInd set. They are sorted and never
// written by callers.
type Entity struct {
	Key         string      `json:"key"`
	EntityType  EntityKind  `json:"entity_type"`
	EntityClass EntityClass `json:"entity_class"`
	Name        string      `json:"name"`
	FilePath    string      `json:"file_path"`
	LineStart   int         `json:"line_start"`
	LineEnd     int         `json:"line_end"`
	Language    string      `json:"language"`
	Signature   string      `json:"signature"`
	Doc         *string     `json:"doc,omitempty"`

	CurrentCode *string `json:"current_code,omitempty"`
	FutureCode  *string `json:"future_code,omitempty"`

	ForwardDeps []string `json:"forward_deps,omitempty"`
	ReverseDeps []string `json:"reverse_deps,omitempty"`

	CurrentInd   bool            `json:"current_ind"`
	FutureInd    bool            `json:"future_ind"`
	FutureAction temporal.Action `json:"future_action,omitempty"`

	Type TypeInfo `json:"type"`
}

// Indicators returns the entity's temporal triple.
func (e *Entity) Indicators() temporal.Indicators {
	return temporal.Indicators{
		CurrentInd:   e.CurrentInd,
		FutureInd:    e.FutureInd,
		FutureAction: e.FutureAction,
	}
}

// SetIndicators overwrites the entity's temporal triple.
func (e *Entity) SetIndicators(ind temporal.Indicators) {
	e.CurrentInd = ind.CurrentInd
	e.FutureInd = ind.FutureInd
	e.FutureAction = ind.FutureAction
}

// State classifies the entity's temporal triple.
func (e *Entity) State() (temporal.State, error) {
	return temporal.Classify(e.Indicators())
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	e.Doc = cloneString(e.Doc)
	e.CurrentCode = cloneString(e.CurrentCode)
	e.FutureCode = cloneString(e.FutureCode)
	e.ForwardDeps = slices.Clone(e.ForwardDeps)
	e.ReverseDeps = slices.Clone(e.ReverseDeps)
	e.Type = e.Type.Clone()
	return e
}

// Edge is a directed relation between two entity keys.
//
// Edges are deduplicated by the (FromKey, ToKey, EdgeType) triple.
type Edge struct {
	FromKey  string   `json:"from_key"`
	ToKey    string   `json:"to_key"`
	EdgeType EdgeType `json:"edge_type"`
}

// String returns "from -[type]-> to".
func (e Edge) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", e.FromKey, e.EdgeType, e.ToKey)
}

// CompareEdges orders edges by (from, to, type).
func CompareEdges(a, b Edge) int {
	if c := strings.Compare(a.FromKey, b.FromKey); c != 0 {
		return c
	}
	if c := strings.Compare(a.ToKey, b.ToKey); c != 0 {
		return c
	}
	return strings.Compare(string(a.EdgeType), string(b.EdgeType))
}

// SortEdges sorts edges in place by (from, to, type) and removes duplicates.
func SortEdges(edges []Edge) []Edge {
	slices.SortFunc(edges, CompareEdges)
	return slices.Compact(edges)
}

// Cluster is a group of entities produced by the cluster engine.
//
// Clusters are derived data. They are replaced wholesale and never touched
// by temporal transitions.
type Cluster struct {
	ID            string   `json:"cluster_id"`
	Label         string   `json:"label"`
	Members       []string `json:"members"`
	Modularity    float64  `json:"modularity"`
	Cohesion      float64  `json:"cohesion"`
	Coupling      float64  `json:"coupling"`
	InternalEdges float64  `json:"internal_edges"`
	ExternalEdges float64  `json:"external_edges"`
	Algorithm     string   `json:"algorithm"`
}

// Clone returns a deep copy.
func (c Cluster) Clone() Cluster {
	c.Members = slices.Clone(c.Members)
	return c
}

// State is the persisted form of a store generation.
//
// Backends serialize and restore exactly this value.
type State struct {
	Generation uint64    `json:"generation"`
	Entities   []Entity  `json:"entities"`
	Edges      []Edge    `json:"edges"`
	Tombstones []string  `json:"tombstones"`
	Clusters   []Cluster `json:"clusters"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Ptr returns a pointer to s. Handy for optional fields.
func Ptr(s string) *string {
	return &s
}
