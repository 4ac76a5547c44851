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
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrKeyCollision is returned when a key is already in use, or was used
	// by an entity that has since been tombstoned.
	ErrKeyCollision = errors.New("key collision")

	// ErrEntityNotFound is returned when a key names no live entity.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrStaleSnapshot is returned when derived data computed from an older
	// generation is written back.
	ErrStaleSnapshot = errors.New("snapshot is stale")

	// ErrInvalidEntity is returned when a parsed entity fails validation.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUnresolvedEdge is returned when an edge endpoint matches no entity.
	ErrUnresolvedEdge = errors.New("unresolved edge endpoint")

	// ErrAmbiguousEndpoint is returned when an edge endpoint given by name
	// matches more than one entity.
	ErrAmbiguousEndpoint = errors.New("ambiguous edge endpoint")
)

// LoadError is a per-item problem found during BulkLoad. It does not abort
// the load.
type LoadError struct {
	// Item is "entity" or "edge".
	Item string `json:"item"`

	// Index is the position of the item in the input slice.
	Index int `json:"index"`

	// Key is the entity key (or "from->to" for edges) when known.
	Key string `json:"key,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements error.
func (e LoadError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %d (%s): %v", e.Item, e.Index, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %d: %v", e.Item, e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e LoadError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders Err as its message.
func (e LoadError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Item  string `json:"item"`
		Index int    `json:"index"`
		Key   string `json:"key,omitempty"`
		Error string `json:"error"`
	}{e.Item, e.Index, e.Key, msg})
}
