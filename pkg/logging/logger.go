// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used by isgraph commands.
//
// Records go to the console (text or JSON) and, when LogDir is set, to a
// daily JSON file named {service}_{YYYY-MM-DD}.log. The minimum level is
// shared by both outputs and can be changed at runtime with SetLevel,
// which the server does when its config file is reloaded.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "isg"})
//	defer logger.Close()
//	store.Open(ctx, store.WithLogger(logger.Slog()))
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is a log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levels = []struct {
	level Level
	slog  slog.Level
	name  string
}{
	{LevelDebug, slog.LevelDebug, "DEBUG"},
	{LevelInfo, slog.LevelInfo, "INFO"},
	{LevelWarn, slog.LevelWarn, "WARN"},
	{LevelError, slog.LevelError, "ERROR"},
}

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	for _, e := range levels {
		if e.level == l {
			return e.name
		}
	}
	return "UNKNOWN"
}

func (l Level) slogLevel() slog.Level {
	for _, e := range levels {
		if e.level == l {
			return e.slog
		}
	}
	return slog.LevelInfo
}

func fromSlog(s slog.Level) Level {
	for _, e := range levels {
		if e.slog == s {
			return e.level
		}
	}
	return LevelInfo
}

// ParseLevel accepts debug, info, warn/warning and error in any case. An
// empty string is Info.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarn, nil
	}
	for _, e := range levels {
		if e.name == name {
			return e.level, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Config configures a Logger. The zero Config writes Info and above to
// stderr as text.
type Config struct {
	Level Level

	// LogDir adds a JSON log file in this directory. A leading ~ is
	// expanded.
	LogDir string

	// Service is attached to every record and names the log file.
	Service string

	// JSON selects JSON console output. The file is always JSON.
	JSON bool

	// Quiet drops console output.
	Quiet bool

	// Output replaces stderr as the console.
	Output io.Writer
}

// Logger owns the handlers and the optional log file.
type Logger struct {
	slog  *slog.Logger
	level *slog.LevelVar

	mu   sync.Mutex
	file *os.File
}

// New creates a Logger. A log directory that cannot be created only
// disables file output; the failure is reported through the new logger.
//
// Close releases the log file.
func New(config Config) *Logger {
	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(config.Level.slogLevel())
	opts := &slog.HandlerOptions{Level: l.level}

	var outs fanout
	if !config.Quiet {
		console := config.Output
		if console == nil {
			console = os.Stderr
		}
		if config.JSON {
			outs = append(outs, slog.NewJSONHandler(console, opts))
		} else {
			outs = append(outs, slog.NewTextHandler(console, opts))
		}
	}

	var fileErr error
	if config.LogDir != "" {
		l.file, fileErr = openLogFile(config.LogDir, config.Service)
		if fileErr == nil {
			outs = append(outs, slog.NewJSONHandler(l.file, opts))
		}
	}

	var h slog.Handler
	switch len(outs) {
	case 0:
		h = slog.DiscardHandler
	case 1:
		h = outs[0]
	default:
		h = outs
	}
	if config.Service != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	l.slog = slog.New(h)

	if fileErr != nil {
		l.slog.Warn("file logging disabled", slog.String("dir", config.LogDir), slog.String("error", fileErr.Error()))
	}
	return l
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "isg"
	}
	name := service + "_" + time.Now().Format(time.DateOnly) + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// SetLevel changes the minimum level of every output.
func (l *Logger) SetLevel(level Level) { l.level.Set(level.slogLevel()) }

// Level returns the current minimum level.
func (l *Logger) Level() Level { return fromSlog(l.level.Level()) }

// Close syncs and closes the log file. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := errors.Join(l.file.Sync(), l.file.Close())
	l.file = nil
	if err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	return nil
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
