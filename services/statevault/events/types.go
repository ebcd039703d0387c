// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events implements the notification boundary between the
// checkpoint core and its host application. The core emits observable
// events (state replaced, snapshot created, snapshot evicted) through a
// fan-out emitter; delivery order matches operation order and a failing
// subscriber never aborts the emitting operation or blocks the others.
package events

import "time"

// Type identifies a kind of event.
type Type string

const (
	// TypeStateReplaced is emitted after a rollback replaces the current
	// state document. The host must reinitialize in-memory caches from
	// the new persisted state.
	TypeStateReplaced Type = "state.replaced"

	// TypeSnapshotCreated is emitted after a snapshot is durably appended.
	TypeSnapshotCreated Type = "snapshot.created"

	// TypeSnapshotEvicted is emitted when the bounded snapshot list drops
	// its oldest entry.
	TypeSnapshotEvicted Type = "snapshot.evicted"
)

// Event is a single notification delivered to subscribers.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type is the kind of event.
	Type Type `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Data is the event payload (one of the typed structs below).
	Data any `json:"data,omitempty"`
}

// StateReplacedData is the payload for TypeStateReplaced.
type StateReplacedData struct {
	// SnapshotID is the snapshot that was restored.
	SnapshotID string `json:"snapshot_id"`

	// NewState is a copy of the restored state document. Subscribers own
	// this copy; mutating it does not affect the store.
	NewState map[string]any `json:"new_state"`
}

// SnapshotCreatedData is the payload for TypeSnapshotCreated.
type SnapshotCreatedData struct {
	SnapshotID  string `json:"snapshot_id"`
	Description string `json:"description"`
}

// SnapshotEvictedData is the payload for TypeSnapshotEvicted.
type SnapshotEvictedData struct {
	SnapshotID string `json:"snapshot_id"`
}
