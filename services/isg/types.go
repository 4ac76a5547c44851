// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package isg

import (
	"github.com/AleutianAI/isgraph/services/isg/analysis"
	"github.com/AleutianAI/isgraph/services/isg/export"
	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/store"
)

// LoadRequest is the request body for POST /v1/isg/load.
type LoadRequest struct {
	// Entities are parser output. Required, may be empty only if Edges is
	// also empty.
	Entities []store.ParsedEntity `json:"entities" binding:"required"`

	// Edges reference entities by key or unique name.
	Edges []store.ParsedEdge `json:"edges"`
}

// EntityRequest is the query for GET /v1/isg/entity.
type EntityRequest struct {
	Key string `form:"key" binding:"required"`
}

// QueryRequest is the query for GET /v1/isg/query.
type QueryRequest struct {
	// Filter uses the filter grammar. Empty means ALL.
	Filter string `form:"filter"`

	// Limit caps returned entities (default 1000).
	Limit int `form:"limit" binding:"gte=0"`
}

// QueryResponse is the response for GET /v1/isg/query.
type QueryResponse struct {
	Generation uint64         `json:"generation"`
	Version    uint64         `json:"version"`
	Total      int            `json:"total"`
	Truncated  bool           `json:"truncated"`
	Entities   []graph.Entity `json:"entities"`
}

// ExportRequest is the query for GET /v1/isg/export.
type ExportRequest struct {
	// Level is 0, 1 or 2 (or L0, L1, L2). Default 1.
	Level string `form:"level"`

	Filter string `form:"filter"`

	// Format is json or tsv. Default json.
	Format string `form:"format"`

	// IncludeCurrentCode overrides the configured default when set.
	IncludeCurrentCode *bool `form:"include_current_code"`

	// MaxBytes overrides the configured budget when set. 0 disables it.
	MaxBytes *int64 `form:"max_bytes" binding:"omitempty,gte=0"`

	// Compress returns a zstd frame.
	Compress bool `form:"compress"`
}

// EstimateRequest is the query for GET /v1/isg/estimate.
type EstimateRequest struct {
	Level  string `form:"level"`
	Filter string `form:"filter"`
}

// MutationRequest is the request body for POST /v1/isg/mutations.
type MutationRequest struct {
	Key string `json:"key" binding:"required"`

	// Action is Create, Edit or Delete (case-insensitive).
	Action string `json:"action" binding:"required"`

	// FutureCode is required for Create and Edit.
	FutureCode *string `json:"future_code"`

	// Meta describes a created entity.
	Meta *store.EntityMeta `json:"meta"`
}

// RevertRequest is the request body for POST /v1/isg/mutations/revert.
type RevertRequest struct {
	Key string `json:"key" binding:"required"`
}

// MutationResponse acknowledges a mutation or revert.
type MutationResponse struct {
	Key     string       `json:"key"`
	Entity  *graph.Entity `json:"entity,omitempty"`
	Version uint64       `json:"version"`
}

// ClustersRequest is the query for GET /v1/isg/clusters.
type ClustersRequest struct {
	// Key restricts the response to the cluster holding this entity.
	Key string `form:"key"`
}

// ClustersResponse is the response for GET /v1/isg/clusters.
type ClustersResponse struct {
	Generation uint64          `json:"generation"`
	Clusters   []graph.Cluster `json:"clusters"`
}

// TraversalRequest is the query for GET /v1/isg/blast-radius and
// GET /v1/isg/dependencies.
type TraversalRequest struct {
	Key string `form:"key" binding:"required"`

	// Depth is the hop limit (default 10, max 100).
	Depth int `form:"depth" binding:"gte=0,lte=100"`
}

// CyclesResponse is the response for GET /v1/isg/cycles.
type CyclesResponse struct {
	Generation uint64           `json:"generation"`
	Cycles     []analysis.Cycle `json:"cycles"`
}

// ChangesResponse is the response for GET /v1/isg/changes.
type ChangesResponse struct {
	Generation uint64          `json:"generation"`
	Version    uint64          `json:"version"`
	Changes    []export.Change `json:"changes"`
}

// StatsResponse is the response for GET /v1/isg/stats.
type StatsResponse struct {
	store.Stats
	ExportCache export.CacheStats `json:"export_cache"`
}

// HealthResponse is the response for GET /v1/isg/health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Backend       string  `json:"backend"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
