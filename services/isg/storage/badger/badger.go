// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger persists graph store state in BadgerDB.
//
// Each store generation is written under its own slot prefix and a single
// pointer key names the live slot, so a bulk replace is never half-visible.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNoPath is returned when a persistent database has no directory.
var ErrNoPath = errors.New("badger: path is required unless InMemory is set")

// Config configures the Badger backend.
type Config struct {
	// Path is the database directory. Created if missing.
	Path string

	// InMemory keeps everything in memory. Tests only.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is the value log GC period. 0 disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC. Out-of-range values use 0.5.
	GCDiscardRatio float64

	// Logger receives backend and Badger log lines. nil silences Badger.
	Logger *slog.Logger
}

// DefaultConfig returns durable defaults with a five minute GC period.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a config for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

func (c Config) options() (badger.Options, error) {
	var opts badger.Options
	switch {
	case c.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case c.Path == "":
		return opts, ErrNoPath
	default:
		if err := os.MkdirAll(c.Path, 0o750); err != nil {
			return opts, fmt.Errorf("creating %s: %w", c.Path, err)
		}
		opts = badger.DefaultOptions(c.Path)
	}

	// Only the latest version of a record is ever read.
	opts = opts.WithSyncWrites(c.SyncWrites).WithNumVersionsToKeep(1)
	if c.Logger == nil {
		return opts.WithLogger(nil), nil
	}
	return opts.WithLogger(slogAdapter{c.Logger.With(slog.String("component", "badger"))}), nil
}

func (c Config) discardRatio() float64 {
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		return 0.5
	}
	return c.GCDiscardRatio
}

// slogAdapter implements badger.Logger. Badger's Info output is per
// compaction, so it is demoted to Debug.
type slogAdapter struct {
	l *slog.Logger
}

func line(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Errorf(format string, args ...any)   { a.l.Error(line(format, args...)) }
func (a slogAdapter) Warningf(format string, args ...any) { a.l.Warn(line(format, args...)) }
func (a slogAdapter) Infof(format string, args ...any)    { a.l.Debug(line(format, args...)) }
func (a slogAdapter) Debugf(format string, args ...any)   { a.l.Debug(line(format, args...)) }

// db is an open Badger database plus its GC goroutine.
type db struct {
	*badger.DB
	stopGC context.CancelFunc
	gcDone chan struct{}
}

// openDB opens the database described by cfg and starts value log GC when
// cfg asks for it on a persistent database.
func openDB(cfg Config) (*db, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", cfg.Path, err)
	}

	d := &db{DB: bdb}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		d.stopGC = cancel
		d.gcDone = make(chan struct{})
		go d.collectGarbage(ctx, cfg.GCInterval, cfg.discardRatio(), cfg.Logger)
	}
	return d, nil
}

// Close stops GC, then closes Badger.
func (d *db) Close() error {
	if d.stopGC != nil {
		d.stopGC()
		<-d.gcDone
	}
	return d.DB.Close()
}

// update runs fn in a read-write transaction and commits when fn succeeds.
func (d *db) update(ctx context.Context, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return txn.Commit()
}

// view runs fn in a read-only transaction.
func (d *db) view(ctx context.Context, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// collectGarbage runs RunValueLogGC every interval until a pass rewrites
// nothing, and exits when ctx is cancelled.
func (d *db) collectGarbage(ctx context.Context, interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(d.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rewrites := 0
		for ctx.Err() == nil {
			err := d.RunValueLogGC(ratio)
			if err == nil {
				rewrites++
				continue
			}
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) && logger != nil {
				logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
			}
			break
		}
		if rewrites > 0 && logger != nil {
			logger.Debug("badger value log GC", slog.Int("rewrites", rewrites))
		}
	}
}
