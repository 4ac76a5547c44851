// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package isg exposes the interface signature graph over HTTP.
//
// The Service ties a store.Store to an export.Exporter and a cluster.Engine.
// Handlers translate requests into Service calls and map sentinel errors to
// HTTP status codes.
package isg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/isgraph/services/isg/analysis"
	"github.com/AleutianAI/isgraph/services/isg/cluster"
	"github.com/AleutianAI/isgraph/services/isg/config"
	"github.com/AleutianAI/isgraph/services/isg/export"
	"github.com/AleutianAI/isgraph/services/isg/filter"
	"github.com/AleutianAI/isgraph/services/isg/graph"
	badgerstore "github.com/AleutianAI/isgraph/services/isg/storage/badger"
	"github.com/AleutianAI/isgraph/services/isg/storage/sqlite"
	"github.com/AleutianAI/isgraph/services/isg/store"
)

// ServiceVersion is the isgraph service version.
const ServiceVersion = "0.1.0"

// DefaultQueryLimit caps query responses when no limit is given.
const DefaultQueryLimit = 1000

// Service is the application layer over one store.
//
// Thread Safety: Safe for concurrent use. Cluster runs are serialized.
type Service struct {
	store    *store.Store
	exporter *export.Exporter
	engine   *cluster.Engine
	logger   *slog.Logger
	started  time.Time

	exportDefaults atomic.Pointer[config.ExportConfig]
	clusterMu      sync.Mutex
}

// NewBackend builds the persistence backend named by cfg.
//
// Inputs:
//
//	cfg - Storage section. Backend is one of memory, badger or sqlite.
//	logger - Passed to backends that log.
//
// Outputs:
//
//	store.Backend - The opened backend. The store closes it.
//	error - Non-nil if the backend cannot be opened.
func NewBackend(cfg config.StorageConfig, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryBackend(), nil
	case "badger":
		bcfg := badgerstore.DefaultConfig()
		bcfg.Path = cfg.Path
		bcfg.SyncWrites = cfg.SyncWrites
		bcfg.GCInterval = cfg.GCInterval
		bcfg.Logger = logger
		return badgerstore.NewBackend(bcfg)
	case "sqlite":
		return sqlite.Open(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// OpenService opens the configured backend and store and builds a Service.
func OpenService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	backend, err := NewBackend(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", cfg.Storage.Backend, err)
	}

	opts := []store.Option{store.WithBackend(backend), store.WithLogger(logger)}
	if cfg.Load.Workers > 0 {
		opts = append(opts, store.WithLoadWorkers(cfg.Load.Workers))
	}
	st, err := store.Open(ctx, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return NewService(st, cfg, logger), nil
}

// NewService wraps an open store.
func NewService(st *store.Store, cfg *config.Config, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store: st,
		exporter: export.New(
			export.WithCacheSize(cfg.Export.CacheSize),
			export.WithLogger(logger),
		),
		engine: cluster.NewEngine(
			cluster.WithMaxIterations(cfg.Cluster.MaxIterations),
			cluster.WithFoldMultiplicity(cfg.Cluster.FoldMultiplicity),
			cluster.WithLogger(logger),
		),
		logger:  logger.With(slog.String("component", "isg_service")),
		started: time.Now(),
	}
	s.SetExportDefaults(cfg.Export)
	return s
}

// Store returns the underlying store.
func (s *Service) Store() *store.Store { return s.store }

// Exporter returns the exporter.
func (s *Service) Exporter() *export.Exporter { return s.exporter }

// Uptime returns the time since the service was created.
func (s *Service) Uptime() time.Duration { return time.Since(s.started) }

// Close closes the store and its backend.
func (s *Service) Close() error {
	return s.store.Close()
}

// SetExportDefaults replaces the export defaults. Used on config reload.
func (s *Service) SetExportDefaults(cfg config.ExportConfig) {
	s.exportDefaults.Store(&cfg)
}

// ExportDefaults returns the current export defaults.
func (s *Service) ExportDefaults() config.ExportConfig {
	return *s.exportDefaults.Load()
}

// ExportParams are the caller-facing export knobs. Nil pointers take the
// configured defaults.
type ExportParams struct {
	Level              string
	Filter             string
	Format             string
	IncludeCurrentCode *bool
	MaxBytes           *int64
	Compress           bool
}

// Export renders the current snapshot.
func (s *Service) Export(ctx context.Context, p ExportParams) (*export.Result, error) {
	level, err := parseLevel(p.Level)
	if err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(p.Format)
	if err != nil {
		return nil, err
	}
	pred, err := filter.Parse(p.Filter)
	if err != nil {
		return nil, err
	}

	defaults := s.ExportDefaults()
	opts := export.Options{
		IncludeCurrentCode: defaults.IncludeCurrentCode,
		MaxBytes:           defaults.MaxBytes,
		Compress:           p.Compress,
	}
	if p.IncludeCurrentCode != nil {
		opts.IncludeCurrentCode = *p.IncludeCurrentCode
	}
	if p.MaxBytes != nil {
		opts.MaxBytes = *p.MaxBytes
	}

	return s.exporter.Export(ctx, s.store.Snapshot(), export.Request{
		Level:   level,
		Filter:  pred,
		Format:  format,
		Options: opts,
	})
}

// Estimate pre-counts an export without rendering it.
func (s *Service) Estimate(levelText, filterText string) (export.Estimate, error) {
	level, err := parseLevel(levelText)
	if err != nil {
		return export.Estimate{}, err
	}
	pred, err := filter.Parse(filterText)
	if err != nil {
		return export.Estimate{}, err
	}
	return export.EstimatedSize(s.store.Snapshot(), level, pred)
}

// parseLevel defaults an empty level to Level 1.
func parseLevel(text string) (export.Level, error) {
	if text == "" {
		return export.Level1, nil
	}
	return export.ParseLevel(text)
}

// Query returns up to limit matching entities in key order with the total
// match count. Generation and version describe the snapshot the entities
// were read from. limit <= 0 uses DefaultQueryLimit.
func (s *Service) Query(ctx context.Context, filterText string, limit int) (*QueryResponse, error) {
	pred, err := filter.Parse(filterText)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	snap := s.store.Snapshot()
	resp := &QueryResponse{
		Generation: snap.Generation(),
		Version:    snap.Version(),
		Entities:   make([]graph.Entity, 0, min(limit, snap.Len())),
	}
	for e := range snap.Query(ctx, pred) {
		resp.Total++
		if len(resp.Entities) < limit {
			resp.Entities = append(resp.Entities, e)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp.Truncated = resp.Total > len(resp.Entities)
	return resp, nil
}

// Cluster partitions the current graph and stores the clusters.
//
// Description:
//
//	Runs label propagation on a snapshot and writes the result back with
//	the snapshot's generation. If a load or commit lands while the engine
//	runs, the write is rejected with store.ErrStaleSnapshot and the run is
//	retried once against the new snapshot.
//
// Outputs:
//
//	*cluster.Result - The stored partition.
//	error - cluster.ErrEmptyGraph, store.ErrStaleSnapshot, or context and
//	backend errors.
func (s *Service) Cluster(ctx context.Context) (*cluster.Result, error) {
	s.clusterMu.Lock()
	defer s.clusterMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		snap := s.store.Snapshot()
		result, err := s.engine.Run(ctx, snap.ClusterInput())
		if err != nil {
			return nil, err
		}
		err = s.store.ReplaceClusters(ctx, result.Generation, result.Clusters)
		if err == nil {
			s.logger.Info("clusters updated",
				slog.Uint64("generation", result.Generation),
				slog.Int("clusters", len(result.Clusters)),
				slog.Float64("modularity", result.Modularity),
			)
			return result, nil
		}
		if !errors.Is(err, store.ErrStaleSnapshot) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("graph changed during clustering, retrying",
			slog.Uint64("generation", result.Generation),
		)
	}
	return nil, lastErr
}

// Clusters returns the stored clusters, optionally only the one holding key.
func (s *Service) Clusters(key string) ([]graph.Cluster, error) {
	clusters := s.store.Snapshot().Clusters()
	if key == "" {
		return clusters, nil
	}
	for _, c := range clusters {
		if _, ok := slices.BinarySearch(c.Members, key); ok {
			return []graph.Cluster{c}, nil
		}
	}
	return nil, fmt.Errorf("%w: no cluster holds %s", store.ErrEntityNotFound, key)
}

// BlastRadius returns the entities that transitively depend on key.
func (s *Service) BlastRadius(ctx context.Context, key string, depth int) (*analysis.TraversalResult, error) {
	return analysis.BlastRadius(ctx, s.store.Snapshot(), key, depth)
}

// Dependencies returns the entities key transitively depends on.
func (s *Service) Dependencies(ctx context.Context, key string, depth int) (*analysis.TraversalResult, error) {
	return analysis.Dependencies(ctx, s.store.Snapshot(), key, depth)
}

// Cycles returns the dependency cycles of the current graph.
func (s *Service) Cycles(ctx context.Context) ([]analysis.Cycle, error) {
	return analysis.Cycles(ctx, s.store.Snapshot())
}

// Changes lists pending mutations.
func (s *Service) Changes(ctx context.Context) ([]export.Change, error) {
	return export.PendingChanges(ctx, s.store.Snapshot())
}
