// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export renders store snapshots at three levels of detail.
//
// Level 0 is the edge list. Level 1 is entity metadata with forward and
// reverse dependency lists, which carry every Level 0 endpoint pair. Level 2
// adds type information. Each level is a superset of the one below.
//
// Dependency lists are key sets and do not carry edge_type. Two edges of
// different types between the same pair fold into one entry, so Level 0 is
// the only level that preserves edge types.
//
// Records are built once into an ordered Document and then encoded as JSON
// or tab-delimited text with identical column sets. Output never contains
// timestamps: exporting an unchanged snapshot twice yields identical bytes.
package export

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/isgraph/services/isg/filter"
	"github.com/AleutianAI/isgraph/services/isg/graph"
)

var tracer = otel.Tracer("isgraph.export")

var (
	exportRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "isg",
		Subsystem: "export",
		Name:      "requests_total",
		Help:      "Export requests by level, format and result",
	}, []string{"level", "format", "result"})

	exportBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "isg",
		Subsystem: "export",
		Name:      "bytes",
		Help:      "Rendered export size in bytes",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
	}, []string{"level"})
)

// Source is a read-only view of a graph. *store.Snapshot implements it.
type Source interface {
	Generation() uint64
	Version() uint64
	Query(ctx context.Context, pred filter.Predicate) iter.Seq[graph.Entity]
	Count(pred filter.Predicate) int
	EdgesFrom(pred filter.Predicate) []graph.Edge
}

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTSV  Format = "tsv"
)

// ParseFormat accepts "json" and "tsv" in any case. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "tsv", "tab":
		return FormatTSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Options adjust a single export.
type Options struct {
	// IncludeCurrentCode adds the current_code column at Level 1 and 2.
	IncludeCurrentCode bool

	// MaxBytes rejects exports whose estimate is larger. 0 means no limit.
	MaxBytes int64

	// Compress wraps the encoded bytes in a zstd frame.
	Compress bool
}

// Request describes one export.
type Request struct {
	Level   Level
	Filter  filter.Predicate // nil means ALL
	Format  Format           // empty means JSON
	Options Options
}

// Result is a rendered export.
type Result struct {
	Level      Level
	Format     Format
	Generation uint64
	Version    uint64
	Records    int
	Estimate   Estimate
	Data       []byte
	Compressed bool
	Cached     bool
}

// Exporter renders exports and caches the bytes.
//
// Thread Safety: Safe for concurrent use.
type Exporter struct {
	summarizer Summarizer
	cache      *lruCache[cacheKey, *Result]
	logger     *slog.Logger
}

type exporterOptions struct {
	summarizer Summarizer
	cacheSize  int
	logger     *slog.Logger
}

// Option configures an Exporter.
type Option func(*exporterOptions)

// WithSummarizer sets the doc summarizer. Default is NoopSummarizer.
func WithSummarizer(s Summarizer) Option {
	return func(o *exporterOptions) {
		if s != nil {
			o.summarizer = s
		}
	}
}

// WithCacheSize sets how many rendered exports are kept. Default 64.
func WithCacheSize(n int) Option {
	return func(o *exporterOptions) {
		o.cacheSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *exporterOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Exporter.
func New(opts ...Option) *Exporter {
	o := exporterOptions{
		summarizer: NoopSummarizer{},
		cacheSize:  64,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Exporter{
		summarizer: o.summarizer,
		cache:      newLRUCache[cacheKey, *Result](o.cacheSize),
		logger:     o.logger.With(slog.String("component", "isg_export")),
	}
}

// CacheStats returns cache counters.
func (x *Exporter) CacheStats() CacheStats {
	return x.cache.stats()
}

// PurgeCache drops every cached export.
func (x *Exporter) PurgeCache() {
	x.cache.purge()
}

// Export renders src at the requested level.
//
// Description:
//
//	The filter is applied to entities; at Level 0 an edge is exported when
//	its source entity matches. The size estimate is checked against
//	Options.MaxBytes before any record is built. Results are cached by
//	snapshot identity and request, so callers must not modify Result.Data.
//
// Inputs:
//
//	ctx - Cancellation for record building and summarization.
//	src - The snapshot to export.
//	req - Level, filter, format and options.
//
// Outputs:
//
//	*Result - The encoded export.
//	error - ErrUnknownLevel, ErrUnknownFormat, ErrBudgetExceeded,
//	        ErrSerialization or a context error.
//
// Thread Safety: Safe for concurrent use.
func (x *Exporter) Export(ctx context.Context, src Source, req Request) (result *Result, err error) {
	format := req.Format
	if format == "" {
		format = FormatJSON
	}
	pred := req.Filter
	if pred == nil {
		pred = filter.All{}
	}

	ctx, span := tracer.Start(ctx, "Exporter.Export", trace.WithAttributes(
		attribute.Int("isg.level", int(req.Level)),
		attribute.String("isg.format", string(format)),
		attribute.String("isg.filter", pred.String()),
		attribute.Int64("isg.generation", int64(src.Generation())),
	))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if result.Cached {
			outcome = "cached"
		}
		span.End()
		exportRequests.WithLabelValues(req.Level.String(), string(format), outcome).Inc()
	}()

	if !req.Level.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLevel, int(req.Level))
	}
	if format != FormatJSON && format != FormatTSV {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(format))
	}

	est, err := EstimatedSize(src, req.Level, pred)
	if err != nil {
		return nil, err
	}
	if req.Options.MaxBytes > 0 && est.Bytes > req.Options.MaxBytes {
		return nil, fmt.Errorf("%w: estimated %d bytes for %d records, limit %d",
			ErrBudgetExceeded, est.Bytes, est.Records, req.Options.MaxBytes)
	}

	key := cacheKey{
		generation:         src.Generation(),
		version:            src.Version(),
		level:              req.Level,
		filter:             pred.String(),
		format:             format,
		includeCurrentCode: req.Options.IncludeCurrentCode,
		compress:           req.Options.Compress,
	}
	if cached, ok := x.cache.get(key); ok {
		hit := *cached
		hit.Cached = true
		return &hit, nil
	}

	doc, err := x.Document(ctx, src, req.Level, pred, req.Options)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch format {
	case FormatTSV:
		data, err = EncodeTSV(doc)
	default:
		data, err = EncodeJSON(doc)
	}
	if err != nil {
		return nil, err
	}
	exportBytes.WithLabelValues(req.Level.String()).Observe(float64(len(data)))

	if req.Options.Compress {
		if data, err = Compress(data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
	}

	result = &Result{
		Level:      req.Level,
		Format:     format,
		Generation: doc.Generation,
		Version:    doc.Version,
		Records:    len(doc.Records),
		Estimate:   est,
		Data:       data,
		Compressed: req.Options.Compress,
	}
	x.cache.set(key, result)

	x.logger.Debug("export rendered",
		slog.String("level", req.Level.String()),
		slog.String("format", string(format)),
		slog.Int("records", result.Records),
		slog.Int("bytes", len(data)),
	)
	out := *result
	return &out, nil
}

// Document builds the ordered records for an export without encoding them.
func (x *Exporter) Document(ctx context.Context, src Source, level Level, pred filter.Predicate, opts Options) (*Document, error) {
	if pred == nil {
		pred = filter.All{}
	}
	cols, err := Columns(level, opts.IncludeCurrentCode)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		Level:      level,
		Generation: src.Generation(),
		Version:    src.Version(),
		Filter:     pred.String(),
		Columns:    cols,
	}

	if level == Level0 {
		edges := src.EdgesFrom(pred)
		doc.Records = make([]Record, 0, len(edges))
		for i, e := range edges {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			doc.Records = append(doc.Records, edgeRecord(e))
		}
		return doc, nil
	}

	start := time.Now()
	summarized := 0
	doc.Records = make([]Record, 0)
	for e := range src.Query(ctx, pred) {
		if e.Doc == nil {
			summary, err := x.summarizer.Summarize(ctx, &e)
			if err != nil {
				x.logger.Warn("summarizer failed",
					slog.String("key", e.Key),
					slog.String("error", err.Error()),
				)
			} else if summary != "" {
				e.Doc = &summary
				summarized++
			}
		}
		doc.Records = append(doc.Records, entityRecord(&e, cols))
	}
	// Query stops silently on cancellation.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if summarized > 0 {
		x.logger.Debug("docs summarized",
			slog.Int("count", summarized),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	return doc, nil
}
