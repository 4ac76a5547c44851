// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/isgraph/services/isg/graph"
	"github.com/AleutianAI/isgraph/services/isg/store"
)

// Key layout:
//
//	m/slot            active slot number (uint64, big endian)
//	m/generation      store generation of the active slot
//	s/{slot}/e/{key}  entity JSON
//	s/{slot}/x/{from}\x00{to}\x00{type}  edge (empty value)
//	s/{slot}/t/{key}  tombstone (empty value)
//	s/{slot}/c/{id}   cluster JSON
var (
	metaSlot       = []byte("m/slot")
	metaGeneration = []byte("m/generation")
)

const (
	kindEntity    = 'e'
	kindEdge      = 'x'
	kindTombstone = 't'
	kindCluster   = 'c'
)

func slotPrefix(slot uint64) []byte {
	return []byte("s/" + strconv.FormatUint(slot, 10) + "/")
}

func recordKey(slot uint64, kind byte, id string) []byte {
	k := slotPrefix(slot)
	k = append(k, kind, '/')
	return append(k, id...)
}

func edgeID(e graph.Edge) string {
	return e.FromKey + "\x00" + e.ToKey + "\x00" + string(e.EdgeType)
}

func parseEdgeID(id string) (graph.Edge, error) {
	parts := bytes.Split([]byte(id), []byte{0})
	if len(parts) != 3 {
		return graph.Edge{}, fmt.Errorf("corrupt edge record %q", id)
	}
	return graph.Edge{FromKey: string(parts[0]), ToKey: string(parts[1]), EdgeType: graph.EdgeType(parts[2])}, nil
}

func encodeUint(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Backend implements store.Backend on BadgerDB.
//
// Thread Safety:
//
//	Safe for concurrent use; BadgerDB serializes conflicting transactions.
type Backend struct {
	db     *db
	logger *slog.Logger
}

// NewBackend opens a BadgerDB with cfg and wraps it as a store backend.
func NewBackend(cfg Config) (*Backend, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{db: db, logger: logger.With(slog.String("backend", "badger"))}, nil
}

// Name implements store.Backend.
func (b *Backend) Name() string { return "badger" }

// Close implements store.Backend.
func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) activeSlot(txn *badger.Txn) (uint64, bool, error) {
	item, err := txn.Get(metaSlot)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var slot uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt slot pointer (%d bytes)", len(val))
		}
		slot = binary.BigEndian.Uint64(val)
		return nil
	})
	return slot, true, err
}

// Load implements store.Backend.
func (b *Backend) Load(ctx context.Context) (*graph.State, error) {
	var state *graph.State
	err := b.db.view(ctx, func(txn *badger.Txn) error {
		slot, ok, err := b.activeSlot(txn)
		if err != nil || !ok {
			return err
		}

		st := &graph.State{}
		item, err := txn.Get(metaGeneration)
		if err != nil {
			return fmt.Errorf("read generation: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			st.Generation = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return err
		}

		prefix := slotPrefix(slot)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rest := item.Key()[len(prefix):]
			if len(rest) < 2 {
				return fmt.Errorf("corrupt record key %q", item.Key())
			}
			id := string(rest[2:])

			switch rest[0] {
			case kindEntity:
				var e graph.Entity
				if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
					return fmt.Errorf("decode entity %s: %w", id, err)
				}
				st.Entities = append(st.Entities, e)
			case kindEdge:
				e, err := parseEdgeID(id)
				if err != nil {
					return err
				}
				st.Edges = append(st.Edges, e)
			case kindTombstone:
				st.Tombstones = append(st.Tombstones, id)
			case kindCluster:
				var c graph.Cluster
				if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
					return fmt.Errorf("decode cluster %s: %w", id, err)
				}
				st.Clusters = append(st.Clusters, c)
			}
		}
		state = st
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger load: %w", err)
	}
	return state, nil
}

// Replace implements store.Backend.
//
// Description:
//
//	Writes the new state into a fresh slot with a WriteBatch, then flips
//	the slot pointer in one transaction and drops the old slot. Readers
//	and a crash before the flip see the previous state.
func (b *Backend) Replace(ctx context.Context, state *graph.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var old uint64
	var hasOld bool
	if err := b.db.View(func(txn *badger.Txn) error {
		var err error
		old, hasOld, err = b.activeSlot(txn)
		return err
	}); err != nil {
		return fmt.Errorf("badger replace: %w", err)
	}
	next := old + 1

	// A previous failed attempt may have left data in the target slot.
	if err := b.db.DropPrefix(slotPrefix(next)); err != nil {
		return fmt.Errorf("badger replace: clear slot %d: %w", next, err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range state.Entities {
		val, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("badger replace: encode entity %s: %w", e.Key, err)
		}
		if err := wb.Set(recordKey(next, kindEntity, e.Key), val); err != nil {
			return fmt.Errorf("badger replace: %w", err)
		}
	}
	for _, e := range state.Edges {
		if err := wb.Set(recordKey(next, kindEdge, edgeID(e)), nil); err != nil {
			return fmt.Errorf("badger replace: %w", err)
		}
	}
	for _, k := range state.Tombstones {
		if err := wb.Set(recordKey(next, kindTombstone, k), nil); err != nil {
			return fmt.Errorf("badger replace: %w", err)
		}
	}
	for _, c := range state.Clusters {
		val, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("badger replace: encode cluster %s: %w", c.ID, err)
		}
		if err := wb.Set(recordKey(next, kindCluster, c.ID), val); err != nil {
			return fmt.Errorf("badger replace: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badger replace: flush: %w", err)
	}

	if err := b.db.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(metaSlot, encodeUint(next)); err != nil {
			return err
		}
		return txn.Set(metaGeneration, encodeUint(state.Generation))
	}); err != nil {
		return fmt.Errorf("badger replace: switch slot: %w", err)
	}

	if hasOld {
		if err := b.db.DropPrefix(slotPrefix(old)); err != nil {
			// The new slot is live; a leftover old slot only costs space.
			b.logger.Warn("failed to drop previous slot", slog.Uint64("slot", old), slog.String("error", err.Error()))
		}
	}

	b.logger.Debug("state replaced",
		slog.Uint64("slot", next),
		slog.Uint64("generation", state.Generation),
		slog.Int("entities", len(state.Entities)),
		slog.Int("edges", len(state.Edges)),
	)
	return nil
}

// Apply implements store.Backend. The delta is written in one transaction.
func (b *Backend) Apply(ctx context.Context, generation uint64, delta store.Delta) error {
	err := b.db.update(ctx, func(txn *badger.Txn) error {
		slot, ok, err := b.activeSlot(txn)
		if err != nil {
			return err
		}
		if !ok {
			// Nothing persisted yet: start slot 1 at this generation.
			slot = 1
			if err := txn.Set(metaSlot, encodeUint(slot)); err != nil {
				return err
			}
			if err := txn.Set(metaGeneration, encodeUint(generation)); err != nil {
				return err
			}
		}

		for _, e := range delta.Put {
			val, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode entity %s: %w", e.Key, err)
			}
			if err := txn.Set(recordKey(slot, kindEntity, e.Key), val); err != nil {
				return err
			}
		}
		for _, k := range delta.Delete {
			if err := txn.Delete(recordKey(slot, kindEntity, k)); err != nil {
				return err
			}
		}
		for _, k := range delta.Tombstones {
			if err := txn.Set(recordKey(slot, kindTombstone, k), nil); err != nil {
				return err
			}
		}
		if delta.Clusters != nil {
			if err := deletePrefix(txn, recordKey(slot, kindCluster, "")); err != nil {
				return err
			}
			for _, c := range *delta.Clusters {
				val, err := json.Marshal(c)
				if err != nil {
					return fmt.Errorf("encode cluster %s: %w", c.ID, err)
				}
				if err := txn.Set(recordKey(slot, kindCluster, c.ID), val); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger apply: %w", err)
	}
	return nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	var doomed [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		doomed = append(doomed, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range doomed {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

var _ store.Backend = (*Backend)(nil)
