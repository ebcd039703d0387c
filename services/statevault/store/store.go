// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store implements the durable state store: a typed facade over a
// byte-oriented key-value medium that holds the single current state
// document. The document is always replaced as one atomic unit; partial
// writes are never observable through Load.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultStateKey is the medium key holding the current state document.
const DefaultStateKey = "statevault/state/current"

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	storeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statevault_store_operations_total",
		Help: "Durable state store operations by type and status",
	}, []string{"operation", "status"})

	storeSaveBytesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statevault_store_save_bytes",
		Help: "Serialized size of the most recently saved state document",
	})
)

// -----------------------------------------------------------------------------
// StateDocument
// -----------------------------------------------------------------------------

// StateDocument is the opaque, serializable mapping representing the
// entire application's persisted configuration and working data. It is
// always saved and loaded as one unit.
type StateDocument map[string]any

// Clone returns a deep copy of the document via a JSON round trip.
//
// Description:
//
//	Snapshots hold copies of the live document with no shared
//	substructure; later changes to the live document must never be
//	observable through an existing snapshot. A JSON round trip is the
//	cheapest correct deep copy for JSON-shaped data.
//
// Outputs:
//
//	StateDocument - Independent copy, or nil for a nil receiver.
func (d StateDocument) Clone() StateDocument {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		// A document that round-tripped through the store is always
		// marshalable; reaching this means the caller handed us
		// non-JSON values. Fail closed with an empty copy.
		return StateDocument{}
	}
	var out StateDocument
	if err := json.Unmarshal(data, &out); err != nil {
		return StateDocument{}
	}
	return out
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is the durable state store facade.
//
// Description:
//
//	Serializes the current state document to JSON and writes it through
//	the configured medium under a single key. All mutating operations
//	are serialized by an internal mutex, so a concurrent Load never
//	observes a half-written document.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	medium Medium
	key    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the medium key holding the state document.
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithLogger sets the logger for store operations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a durable state store over the given medium.
func New(medium Medium, opts ...Option) *Store {
	s := &Store{
		medium: medium,
		key:    DefaultStateKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "state_store"))
	return s
}

// Save serializes the document and writes it to the medium, replacing
// any prior value atomically from the caller's perspective.
//
// Outputs:
//
//	error - ErrQuotaExceeded (wrapped) when the medium is full so
//	        callers can evict and retry; ErrSerializationFailed when the
//	        document cannot be encoded; other medium failures wrapped as
//	        ErrMediumUnavailable.
func (s *Store) Save(ctx context.Context, doc StateDocument) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		storeOperationsTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.medium.Set(s.key, data); err != nil {
		storeOperationsTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("write state document: %w", err)
	}

	storeSaveBytesGauge.Set(float64(len(data)))
	storeOperationsTotal.WithLabelValues("save", "success").Inc()
	return nil
}

// Load returns the last successfully saved document.
//
// Description:
//
//	Returns absence when no document was ever saved, when the stored
//	value is missing, or when the payload is malformed. Malformed
//	payloads fail closed: they are logged and treated as absent, never
//	surfaced as an error.
//
// Outputs:
//
//	StateDocument - The decoded document. Each call returns a fresh
//	                copy with no shared substructure.
//	bool - False when no usable document exists.
func (s *Store) Load(ctx context.Context) (StateDocument, bool) {
	if ctx == nil || ctx.Err() != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.medium.Get(s.key)
	if err != nil {
		if !isNotFound(err) {
			s.logger.Warn("state load failed, treating as absent",
				slog.String("error", err.Error()),
			)
		}
		storeOperationsTotal.WithLabelValues("load", "absent").Inc()
		return nil, false
	}

	var doc StateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("stored state is corrupt, treating as absent",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(data)),
		)
		storeOperationsTotal.WithLabelValues("load", "corrupt").Inc()
		return nil, false
	}

	storeOperationsTotal.WithLabelValues("load", "success").Inc()
	return doc, true
}

// Clear removes the stored document.
func (s *Store) Clear(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.medium.Remove(s.key); err != nil {
		storeOperationsTotal.WithLabelValues("clear", "error").Inc()
		return fmt.Errorf("clear state document: %w", err)
	}

	storeOperationsTotal.WithLabelValues("clear", "success").Inc()
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
