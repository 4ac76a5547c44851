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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all graph routes with the router.
//
// Description:
//
//	Registers all /v1/isg/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Graph Endpoints:
//
//	POST /v1/isg/load - Replace the graph with parser output
//	GET  /v1/isg/entity - Get one entity by key
//	GET  /v1/isg/query - Filter entities
//	GET  /v1/isg/export - Render a Level 0, 1 or 2 export
//	GET  /v1/isg/estimate - Estimate export size
//
// Temporal Endpoints:
//
//	POST /v1/isg/mutations - Record a pending Create, Edit or Delete
//	POST /v1/isg/mutations/revert - Discard a pending change
//	GET  /v1/isg/changes - List pending changes
//	POST /v1/isg/commit - Make the future timeline current
//
// Analysis Endpoints:
//
//	POST /v1/isg/cluster - Run label propagation and store clusters
//	GET  /v1/isg/clusters - List stored clusters
//	GET  /v1/isg/blast-radius - Transitive dependents of an entity
//	GET  /v1/isg/dependencies - Transitive dependencies of an entity
//	GET  /v1/isg/cycles - Dependency cycles
//
// Health Endpoints:
//
//	GET  /v1/isg/stats - Store statistics
//	GET  /v1/isg/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	isg := rg.Group("/isg")
	{
		isg.POST("/load", handlers.HandleLoad)
		isg.GET("/entity", handlers.HandleEntity)
		isg.GET("/query", handlers.HandleQuery)
		isg.GET("/export", handlers.HandleExport)
		isg.GET("/estimate", handlers.HandleEstimate)

		isg.POST("/mutations", handlers.HandleMutation)
		isg.POST("/mutations/revert", handlers.HandleRevert)
		isg.GET("/changes", handlers.HandleChanges)
		isg.POST("/commit", handlers.HandleCommit)

		isg.POST("/cluster", handlers.HandleCluster)
		isg.GET("/clusters", handlers.HandleClusters)
		isg.GET("/blast-radius", handlers.HandleBlastRadius)
		isg.GET("/dependencies", handlers.HandleDependencies)
		isg.GET("/cycles", handlers.HandleCycles)

		isg.GET("/stats", handlers.HandleStats)
		isg.GET("/health", handlers.HandleHealth)
	}
}
