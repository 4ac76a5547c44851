// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite persists graph store state in a single SQLite file.
//
// Entities and clusters are stored as JSON documents keyed by their
// identifiers; edges and tombstones are plain rows. Every write runs in one
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entities (
	key  TEXT PRIMARY KEY,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS edges (
	from_key  TEXT NOT NULL,
	to_key    TEXT NOT NULL,
	edge_type TEXT NOT NULL,
	PRIMARY KEY (from_key, to_key, edge_type)
);
CREATE TABLE IF NOT EXISTS tombstones (
	key TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS clusters (
	id   TEXT PRIMARY KEY,
	body TEXT NOT NULL
);
`

// Backend implements store.Backend on SQLite.
type Backend struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
//
// Inputs:
//
//	path - Database file. ":memory:" opens a private in-memory database.
//	logger - Optional logger; nil uses slog.Default().
func Open(path string, logger *slog.Logger) (*Backend, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: an in-memory database is per-connection, and the
	// store never writes concurrently.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if path != ":memory:" {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Backend{conn: conn, path: path, logger: logger.With(slog.String("backend", "sqlite"))}, nil
}

// Name implements store.Backend.
func (b *Backend) Name() string { return "sqlite" }

// Close implements store.Backend.
func (b *Backend) Close() error { return b.conn.Close() }

// Load implements store.Backend.
func (b *Backend) Load(ctx context.Context) (*graph.State, error) {
	tx, err := b.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("sqlite load: %w", err)
	}
	defer tx.Rollback()

	st := &graph.State{}
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE name = 'generation'`).Scan(&st.Generation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load: generation: %w", err)
	}

	if err := scanRows(ctx, tx, `SELECT key, body FROM entities ORDER BY key`, func(rows *sql.Rows) error {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return err
		}
		var e graph.Entity
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return fmt.Errorf("decode entity %s: %w", key, err)
		}
		st.Entities = append(st.Entities, e)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sqlite load: %w", err)
	}

	if err := scanRows(ctx, tx, `SELECT from_key, to_key, edge_type FROM edges ORDER BY from_key, to_key, edge_type`, func(rows *sql.Rows) error {
		var e graph.Edge
		var et string
		if err := rows.Scan(&e.FromKey, &e.ToKey, &et); err != nil {
			return err
		}
		e.EdgeType = graph.EdgeType(et)
		st.Edges = append(st.Edges, e)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sqlite load: %w", err)
	}

	if err := scanRows(ctx, tx, `SELECT key FROM tombstones ORDER BY key`, func(rows *sql.Rows) error {
		var k string
		if err := rows.Scan(&k); err != nil {
			return err
		}
		st.Tombstones = append(st.Tombstones, k)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sqlite load: %w", err)
	}

	if err := scanRows(ctx, tx, `SELECT id, body FROM clusters ORDER BY id`, func(rows *sql.Rows) error {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return err
		}
		var c graph.Cluster
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return fmt.Errorf("decode cluster %s: %w", id, err)
		}
		st.Clusters = append(st.Clusters, c)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sqlite load: %w", err)
	}

	return st, nil
}

func scanRows(ctx context.Context, tx *sql.Tx, query string, fn func(*sql.Rows) error) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Replace implements store.Backend. Old rows are deleted and the new state
// inserted in one transaction.
func (b *Backend) Replace(ctx context.Context, state *graph.State) error {
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"entities", "edges", "tombstones", "clusters"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := setGeneration(ctx, tx, state.Generation); err != nil {
			return err
		}
		if err := putEntities(ctx, tx, state.Entities); err != nil {
			return err
		}

		edgeStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO edges (from_key, to_key, edge_type) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer edgeStmt.Close()
		for _, e := range state.Edges {
			if _, err := edgeStmt.ExecContext(ctx, e.FromKey, e.ToKey, string(e.EdgeType)); err != nil {
				return fmt.Errorf("insert edge %s: %w", e, err)
			}
		}

		if err := putTombstones(ctx, tx, state.Tombstones); err != nil {
			return err
		}
		return putClusters(ctx, tx, state.Clusters)
	})
	if err != nil {
		return fmt.Errorf("sqlite replace: %w", err)
	}
	b.logger.Debug("state replaced",
		slog.Uint64("generation", state.Generation),
		slog.Int("entities", len(state.Entities)),
		slog.Int("edges", len(state.Edges)),
	)
	return nil
}

// Apply implements store.Backend.
func (b *Backend) Apply(ctx context.Context, generation uint64, delta store.Delta) error {
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO meta (name, value) VALUES ('generation', ?)`, generation); err != nil {
			return err
		}
		if err := putEntities(ctx, tx, delta.Put); err != nil {
			return err
		}
		for _, k := range delta.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE key = ?`, k); err != nil {
				return fmt.Errorf("delete entity %s: %w", k, err)
			}
		}
		if err := putTombstones(ctx, tx, delta.Tombstones); err != nil {
			return err
		}
		if delta.Clusters != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM clusters`); err != nil {
				return err
			}
			return putClusters(ctx, tx, *delta.Clusters)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite apply: %w", err)
	}
	return nil
}

func (b *Backend) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func setGeneration(ctx context.Context, tx *sql.Tx, gen uint64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta (name, value) VALUES ('generation', ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, gen)
	return err
}

func putEntities(ctx context.Context, tx *sql.Tx, ents []graph.Entity) error {
	if len(ents) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entities (key, body) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range ents {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entity %s: %w", e.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, e.Key, string(body)); err != nil {
			return fmt.Errorf("upsert entity %s: %w", e.Key, err)
		}
	}
	return nil
}

func putTombstones(ctx context.Context, tx *sql.Tx, keys []string) error {
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tombstones (key) VALUES (?)`, k); err != nil {
			return fmt.Errorf("insert tombstone %s: %w", k, err)
		}
	}
	return nil
}

func putClusters(ctx context.Context, tx *sql.Tx, clusters []graph.Cluster) error {
	for _, c := range clusters {
		body, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode cluster %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO clusters (id, body) VALUES (?, ?)`, c.ID, string(body)); err != nil {
			return fmt.Errorf("insert cluster %s: %w", c.ID, err)
		}
	}
	return nil
}

var _ store.Backend = (*Backend)(nil)
