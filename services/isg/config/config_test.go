// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "isg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Storage.GCInterval)
	assert.Equal(t, 12217, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:12217", cfg.Server.Addr())
	assert.Equal(t, 20, cfg.Cluster.MaxIterations)
	assert.Equal(t, 64, cfg.Export.CacheSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
	assert.Equal(t, "prometheus", cfg.Telemetry.MetricExporter)
}

func TestLoad_Overlay(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
storage:
  backend: Badger
  path: /tmp/isg
cluster:
  fold_multiplicity: true
logging:
  level: DEBUG
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/isg", cfg.Storage.Path)
	assert.True(t, cfg.Storage.SyncWrites, "unset fields keep defaults")
	assert.True(t, cfg.Cluster.FoldMultiplicity)
	assert.Equal(t, 20, cfg.Cluster.MaxIterations)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Env(t *testing.T) {
	path := writeFile(t, t.TempDir(), "server:\n  port: 9000\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "storage:\n  backend: postgres\n"},
		{"badger without path", "storage:\n  backend: badger\n"},
		{"port range", "server:\n  port: 70000\n"},
		{"zero iterations", "cluster:\n  max_iterations: 0\n"},
		{"negative budget", "export:\n  max_bytes: -1\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"unknown trace exporter", "telemetry:\n  trace_exporter: zipkin\n"},
		{"otlp without endpoint", "telemetry:\n  trace_exporter: otlp\n  otlp_endpoint: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, t.TempDir(), tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(writeFile(t, t.TempDir(), "storage: [oops"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWatch_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)), func(c *Config) {
			changes <- c
		})
	}()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// An invalid file is skipped.
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0600))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0600))

	select {
	case c := <-changes:
		assert.Equal(t, "debug", c.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
