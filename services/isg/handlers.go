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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/isgraph/services/isg/export"
	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/store"
	"github.com/AleutianAI/isgraph/services/isg/telemetry"
	"github.com/AleutianAI/isgraph/services/isg/temporal"
)

// Response headers carried by exports.
const (
	HeaderGeneration = "X-ISG-Generation"
	HeaderVersion    = "X-ISG-Version"
	HeaderRecords    = "X-ISG-Records"
	HeaderCache      = "X-ISG-Cache"
)

// Handlers contains the HTTP handlers for the graph service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleLoad handles POST /v1/isg/load.
//
// Description:
//
//	Replaces the whole graph with parser output and starts a new
//	generation. Per-item problems are reported in the response and do not
//	fail the request.
//
// Request Body:
//
//	LoadRequest
//
// Response:
//
//	200 OK: store.LoadReport
//	400 Bad Request: Validation error
//	500 Internal Server Error: Backend error
func (h *Handlers) HandleLoad(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoad")

	var req LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	logger.Info("Loading graph", "entities", len(req.Entities), "edges", len(req.Edges))

	report, err := h.svc.Store().BulkLoad(c.Request.Context(), req.Entities, req.Edges)
	if err != nil {
		writeError(c, logger, "Load failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleEntity handles GET /v1/isg/entity.
//
// Query Parameters:
//
//	key - Entity key (required)
//
// Response:
//
//	200 OK: graph.Entity
//	404 Not Found: No live entity with that key
func (h *Handlers) HandleEntity(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEntity")

	var req EntityRequest
	if !bindQuery(c, logger, &req) {
		return
	}

	entity, ok := h.svc.Store().Get(req.Key)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Entity not found",
			Code:  "NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, entity)
}

// HandleQuery handles GET /v1/isg/query.
//
// Query Parameters:
//
//	filter - Filter expression (default ALL)
//	limit - Maximum entities returned (default 1000)
//
// Response:
//
//	200 OK: QueryResponse
//	400 Bad Request: Malformed filter
func (h *Handlers) HandleQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleQuery")

	var req QueryRequest
	if !bindQuery(c, logger, &req) {
		return
	}

	resp, err := h.svc.Query(c.Request.Context(), req.Filter, req.Limit)
	if err != nil {
		writeError(c, logger, "Query failed", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleExport handles GET /v1/isg/export.
//
// Description:
//
//	Renders the graph at Level 0, 1 or 2. The body is the encoded document;
//	generation, version, record count and cache outcome are returned in
//	X-ISG-* headers.
//
// Query Parameters:
//
//	level, filter, format, include_current_code, max_bytes, compress
//
// Response:
//
//	200 OK: application/json, text/tab-separated-values or application/zstd
//	400 Bad Request: Unknown level, format or malformed filter
//	413 Request Entity Too Large: Estimate exceeds max_bytes
func (h *Handlers) HandleExport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExport")

	var req ExportRequest
	if !bindQuery(c, logger, &req) {
		return
	}

	result, err := h.svc.Export(c.Request.Context(), ExportParams{
		Level:              req.Level,
		Filter:             req.Filter,
		Format:             req.Format,
		IncludeCurrentCode: req.IncludeCurrentCode,
		MaxBytes:           req.MaxBytes,
		Compress:           req.Compress,
	})
	if err != nil {
		writeError(c, logger, "Export failed", err)
		return
	}

	cache := "miss"
	if result.Cached {
		cache = "hit"
	}
	c.Header(HeaderGeneration, strconv.FormatUint(result.Generation, 10))
	c.Header(HeaderVersion, strconv.FormatUint(result.Version, 10))
	c.Header(HeaderRecords, strconv.Itoa(result.Records))
	c.Header(HeaderCache, cache)
	c.Data(http.StatusOK, contentType(result), result.Data)
}

// contentType picks the media type of an export body.
func contentType(r *export.Result) string {
	switch {
	case r.Compressed:
		return "application/zstd"
	case r.Format == export.FormatTSV:
		return "text/tab-separated-values; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// HandleEstimate handles GET /v1/isg/estimate.
//
// Response:
//
//	200 OK: export.Estimate
//	400 Bad Request: Unknown level or malformed filter
func (h *Handlers) HandleEstimate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEstimate")

	var req EstimateRequest
	if !bindQuery(c, logger, &req) {
		return
	}

	est, err := h.svc.Estimate(req.Level, req.Filter)
	if err != nil {
		writeError(c, logger, "Estimate failed", err)
		return
	}
	c.JSON(http.StatusOK, est)
}

// HandleMutation handles POST /v1/isg/mutations.
//
// Request Body:
//
//	MutationRequest
//
// Response:
//
//	200 OK: MutationResponse
//	400 Bad Request: Unknown action, invalid key or missing future code
//	404 Not Found: Edit or Delete of an unknown key
//	409 Conflict: Key collision or invalid temporal transition
func (h *Handlers) HandleMutation(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleMutation")

	var req MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	action, err := temporal.ParseAction(req.Action)
	if err == nil && action == temporal.ActionNone {
		err = temporal.ErrUnknownAction
	}
	if err != nil {
		writeError(c, logger, "Invalid action", err)
		return
	}

	err = h.svc.Store().ApplyMutation(c.Request.Context(), store.MutationRequest{
		Key:        req.Key,
		Action:     action,
		FutureCode: req.FutureCode,
		Meta:       req.Meta,
	})
	if err != nil {
		writeError(c, logger, "Mutation rejected", err)
		return
	}
	c.JSON(http.StatusOK, h.mutationResponse(req.Key))
}

// HandleRevert handles POST /v1/isg/mutations/revert.
//
// Response:
//
//	200 OK: MutationResponse (entity omitted when a Create was discarded)
//	404 Not Found: Unknown key
func (h *Handlers) HandleRevert(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRevert")

	var req RevertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	if err := h.svc.Store().RevertMutation(c.Request.Context(), req.Key); err != nil {
		writeError(c, logger, "Revert failed", err)
		return
	}
	c.JSON(http.StatusOK, h.mutationResponse(req.Key))
}

func (h *Handlers) mutationResponse(key string) MutationResponse {
	snap := h.svc.Store().Snapshot()
	resp := MutationResponse{Key: key, Version: snap.Version()}
	if e, ok := snap.Get(key); ok {
		resp.Entity = &e
	}
	return resp
}

// HandleCommit handles POST /v1/isg/commit.
//
// Response:
//
//	200 OK: store.CommitReport
func (h *Handlers) HandleCommit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCommit")

	report, err := h.svc.Store().CommitAndReset(c.Request.Context())
	if err != nil {
		writeError(c, logger, "Commit failed", err)
		return
	}
	logger.Info("Committed",
		"generation", report.Generation,
		"created", len(report.Created),
		"edited", len(report.Edited),
		"removed", len(report.Removed),
		"noop", report.NoOp,
	)
	c.JSON(http.StatusOK, report)
}

// HandleCluster handles POST /v1/isg/cluster.
//
// Response:
//
//	200 OK: cluster.Result
//	409 Conflict: Graph kept changing during the run
//	422 Unprocessable Entity: Graph is empty
func (h *Handlers) HandleCluster(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCluster")

	result, err := h.svc.Cluster(c.Request.Context())
	if err != nil {
		writeError(c, logger, "Clustering failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleClusters handles GET /v1/isg/clusters.
//
// Query Parameters:
//
//	key - Return only the cluster holding this entity (optional)
func (h *Handlers) HandleClusters(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClusters")

	var req ClustersRequest
	if !bindQuery(c, logger, &req) {
		return
	}

	clusters, err := h.svc.Clusters(req.Key)
	if err != nil {
		writeError(c, logger, "Cluster lookup failed", err)
		return
	}
	if clusters == nil {
		clusters = []graph.Cluster{}
	}
	c.JSON(http.StatusOK, ClustersResponse{
		Generation: h.svc.Store().Snapshot().Generation(),
		Clusters:   clusters,
	})
}

// HandleBlastRadius handles GET /v1/isg/blast-radius.
//
// Description:
//
//	Returns every entity that transitively depends on key, by depth.
//
// Query Parameters:
//
//	key - Root entity (required)
//	depth - Hop limit (default 10, max 100)
func (h *Handlers) HandleBlastRadius(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleBlastRadius")

	var req TraversalRequest
	if !bindQuery(c, logger, &req) {
		return
	}

	result, err := h.svc.BlastRadius(c.Request.Context(), req.Key, req.Depth)
	if err != nil {
		writeError(c, logger, "Blast radius failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleDependencies handles GET /v1/isg/dependencies.
func (h *Handlers) HandleDependencies(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDependencies")

	var req TraversalRequest
	if !bindQuery(c, logger, &req) {
		return
	}

	result, err := h.svc.Dependencies(c.Request.Context(), req.Key, req.Depth)
	if err != nil {
		writeError(c, logger, "Dependency lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleCycles handles GET /v1/isg/cycles.
func (h *Handlers) HandleCycles(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCycles")

	gen := h.svc.Store().Snapshot().Generation()
	cycles, err := h.svc.Cycles(c.Request.Context())
	if err != nil {
		writeError(c, logger, "Cycle detection failed", err)
		return
	}
	c.JSON(http.StatusOK, CyclesResponse{Generation: gen, Cycles: cycles})
}

// HandleChanges handles GET /v1/isg/changes.
//
// Response:
//
//	200 OK: ChangesResponse with pending mutations in key order
func (h *Handlers) HandleChanges(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleChanges")

	snap := h.svc.Store().Snapshot()
	changes, err := h.svc.Changes(c.Request.Context())
	if err != nil {
		writeError(c, logger, "Listing changes failed", err)
		return
	}
	c.JSON(http.StatusOK, ChangesResponse{
		Generation: snap.Generation(),
		Version:    snap.Version(),
		Changes:    changes,
	})
}

// HandleStats handles GET /v1/isg/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, StatsResponse{
		Stats:       h.svc.Store().Stats(),
		ExportCache: h.svc.Exporter().CacheStats(),
	})
}

// HandleHealth handles GET /v1/isg/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       ServiceVersion,
		Backend:       h.svc.Store().Backend(),
		UptimeSeconds: h.svc.Uptime().Seconds(),
	})
}

// bindQuery binds query parameters into req and writes a 400 on failure.
func bindQuery(c *gin.Context, logger *slog.Logger, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		logger.Warn("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return false
	}
	return true
}

// writeError maps err to a status code and writes an ErrorResponse.
func writeError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := statusFor(err)
	if traceID := telemetry.TraceID(c.Request.Context()); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{
		Error:   msg,
		Code:    code,
		Details: err.Error(),
	})
}

// getOrCreateRequestID extracts or generates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
