// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/isgraph/pkg/logging"
	"github.com/AleutianAI/isgraph/services/isg"
	"github.com/AleutianAI/isgraph/services/isg/config"
	"github.com/AleutianAI/isgraph/services/isg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves the graph API under /v1/isg and Prometheus metrics under /metrics.
The config file, when given, is watched: log level and export defaults
are reloaded in place. Storage and server changes need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.host and server.port)")
	return cmd
}

func (a *app) serve(cmd *cobra.Command, addr string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := a.logger.Slog()
	cfg := a.cfg
	if addr == "" {
		addr = cfg.Server.Addr()
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "isgraph",
		ServiceVersion: isg.ServiceVersion,
		Environment:    cfg.Telemetry.Environment,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	svc, err := isg.OpenService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(svc, cfg.Server.Debug),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("isg server listening",
			slog.String("addr", addr),
			slog.String("backend", svc.Store().Backend()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("isg server shutting down")
		return srv.Shutdown(sctx)
	})
	if path := a.resolvedConfigPath(); path != "" {
		g.Go(func() error {
			return config.Watch(gctx, path, 0, logger, a.reload(svc))
		})
	}
	return g.Wait()
}

// newRouter builds the gin engine with API routes and /metrics.
func newRouter(svc *isg.Service, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("isgraph"))
	if debug {
		router.Use(gin.Logger())
	}

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}
	v1 := router.Group("/v1")
	isg.RegisterRoutes(v1, isg.NewHandlers(svc))
	return router
}

// reload returns the config watch callback for a running server.
func (a *app) reload(svc *isg.Service) func(*config.Config) {
	return func(next *config.Config) {
		logger := a.logger.Slog()
		if level, err := logging.ParseLevel(next.Logging.Level); err == nil {
			a.logger.SetLevel(level)
		}
		svc.SetExportDefaults(next.Export)
		if next.Storage != a.cfg.Storage || next.Server != a.cfg.Server {
			logger.Warn("storage and server settings changed; restart to apply")
		}
		logger.Info("applied reloaded config",
			slog.String("log_level", next.Logging.Level),
			slog.Bool("include_current_code", next.Export.IncludeCurrentCode),
			slog.Int64("max_bytes", next.Export.MaxBytes),
		)
	}
}
