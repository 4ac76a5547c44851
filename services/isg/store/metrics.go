// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for store operations.
var (
	tracer = otel.Tracer("isgraph.store")
	meter  = otel.Meter("isgraph.store")
)

var (
	// storeOps counts store operations by operation and result
	storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isg",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Total store operations by operation and result",
	}, []string{"operation", "result"})

	// storeOpDuration tracks store operation latency
	storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "isg",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Store operation duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"operation"})

	// storeEntities is the live entity count of the most recent snapshot
	storeEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "isg",
		Subsystem: "store",
		Name:      "entities",
		Help:      "Number of entities in the most recently published snapshot",
	})

	// loadErrors counts per-item bulk load errors
	loadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isg",
		Subsystem: "store",
		Name:      "load_errors_total",
		Help:      "Per-item bulk load errors by item kind",
	}, []string{"item"})
)

// OTel instruments for bulk load sizing.
var (
	loadEntities metric.Int64Histogram
	loadEdges    metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the OTel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		loadEntities, err = meter.Int64Histogram(
			"isg_load_entities",
			metric.WithDescription("Number of entities accepted per bulk load"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		loadEdges, err = meter.Int64Histogram(
			"isg_load_edges",
			metric.WithDescription("Number of edges accepted per bulk load"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordOp records the outcome and latency of one store operation.
func recordOp(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	storeOps.WithLabelValues(operation, result).Inc()
	storeOpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// recordLoadMetrics records bulk load sizes.
func recordLoadMetrics(ctx context.Context, report *LoadReport) {
	for _, le := range report.Errors {
		loadErrors.WithLabelValues(le.Item).Inc()
	}
	if err := initMetrics(); err != nil {
		return
	}
	loadEntities.Record(ctx, int64(report.Entities))
	loadEdges.Record(ctx, int64(report.Edges))
}

// startSpan creates a span for a store operation.
func startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Store."+operation, trace.WithAttributes(attrs...))
}
