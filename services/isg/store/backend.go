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

	"github.com/AleutianAI/isgraph/services/isg/graph"
)

// Backend persists store state.
//
// Description:
//
//	The store keeps the authoritative state in memory and writes through to
//	a Backend before publishing any change. A failed backend write leaves
//	the in-memory state untouched.
//
// Thread Safety:
//
//	The store calls a Backend from one goroutine at a time. Implementations
//	need not be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and stats.
	Name() string

	// Load returns the persisted state, or nil when nothing is stored.
	Load(ctx context.Context) (*graph.State, error)

	// Replace atomically swaps the whole persisted state for state.
	Replace(ctx context.Context, state *graph.State) error

	// Apply writes an incremental change. It must be atomic.
	Apply(ctx context.Context, generation uint64, delta Delta) error

	// Close releases resources.
	Close() error
}

// Delta is an incremental change to a persisted generation.
type Delta struct {
	// Put inserts or overwrites entities.
	Put []graph.Entity

	// Delete removes entities by key.
	Delete []string

	// Tombstones adds tombstoned keys.
	Tombstones []string

	// Clusters, when non-nil, replaces all clusters.
	Clusters *[]graph.Cluster
}

// MemoryBackend keeps nothing. State lives only in the store.
type MemoryBackend struct{}

// NewMemoryBackend returns the non-persistent backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Name implements Backend.
func (*MemoryBackend) Name() string { return "memory" }

// Load implements Backend.
func (*MemoryBackend) Load(context.Context) (*graph.State, error) { return nil, nil }

// Replace implements Backend.
func (*MemoryBackend) Replace(context.Context, *graph.State) error { return nil }

// Apply implements Backend.
func (*MemoryBackend) Apply(context.Context, uint64, Delta) error { return nil }

// Close implements Backend.
func (*MemoryBackend) Close() error { return nil }
