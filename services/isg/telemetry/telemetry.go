// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry configures the OpenTelemetry providers used by the
// isgraph server.
//
// Packages instrument themselves with otel.Tracer and otel.Meter and
// promauto collectors. Init installs the providers those calls resolve to.
// With the prometheus metric exporter, OTel instruments are bridged into the
// default Prometheus registry, so one /metrics handler serves both.
//
// # Thread Safety
//
// Call Init once at startup. Everything else is safe for concurrent use.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNilContext is returned by Init when ctx is nil.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config selects exporters and identifies the service.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// TraceExporter is "otlp", "stdout" or "none".
	TraceExporter string

	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string

	// OTLPEndpoint is the OTLP gRPC trace receiver, host:port.
	OTLPEndpoint string
	OTLPInsecure bool

	// SampleRatio is the fraction of root traces kept. Values outside
	// (0, 1) keep every trace.
	SampleRatio float64
}

// DefaultConfig returns local defaults: no trace export, Prometheus
// metrics.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "isgraph",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
	}
}

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

func disabled(name string) bool { return name == "" || name == "none" }

// spanExporters builds a span exporter per TraceExporter name.
var spanExporters = map[string]func(context.Context, Config) (sdktrace.SpanExporter, error){
	"otlp": func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	},
	"stdout": func(context.Context, Config) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	},
}

// metricReaders builds a metric reader per MetricExporter name.
var metricReaders = map[string]func(Config) (metric.Reader, error){
	"prometheus": func(Config) (metric.Reader, error) {
		reader, err := promexporter.New()
		if err != nil {
			return nil, err
		}
		setMetricsHandler(promhttp.Handler())
		return reader, nil
	},
	"stdout": func(Config) (metric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		return metric.NewPeriodicReader(exp), nil
	},
}

// Init installs the global tracer and meter providers.
//
// Description:
//
//	A disabled exporter ("none" or empty) leaves its global provider as the
//	otel no-op. With the prometheus reader, MetricsHandler serves both the
//	OTel instruments and the promauto collectors of the default registry.
//
// Outputs:
//
//	shutdown - Flushes and stops the providers in reverse start order.
//	error - ErrNilContext, ErrUnknownExporter, or an exporter error. Any
//	        provider already started is shut down first.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var stops []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (func(context.Context) error, error) {
		_ = shutdown(ctx)
		return nil, err
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	if !disabled(cfg.TraceExporter) {
		build, ok := spanExporters[cfg.TraceExporter]
		if !ok {
			return fail(fmt.Errorf("%w: trace %q", ErrUnknownExporter, cfg.TraceExporter))
		}
		exp, err := build(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("creating %s span exporter: %w", cfg.TraceExporter, err))
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(cfg.sampler()),
		)
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}

	if !disabled(cfg.MetricExporter) {
		build, ok := metricReaders[cfg.MetricExporter]
		if !ok {
			return fail(fmt.Errorf("%w: metric %q", ErrUnknownExporter, cfg.MetricExporter))
		}
		reader, err := build(cfg)
		if err != nil {
			return fail(fmt.Errorf("creating %s metric reader: %w", cfg.MetricExporter, err))
		}
		mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
	}

	return shutdown, nil
}

var (
	metricsMu      sync.RWMutex
	metricsHandler http.Handler
)

func setMetricsHandler(h http.Handler) {
	metricsMu.Lock()
	metricsHandler = h
	metricsMu.Unlock()
}

// MetricsHandler returns the /metrics handler, or nil unless Init ran with
// the prometheus metric exporter.
func MetricsHandler() http.Handler {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metricsHandler
}

// TraceID returns the hex trace ID carried by ctx, or "".
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
