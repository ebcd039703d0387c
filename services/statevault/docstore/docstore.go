// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docstore implements the session/document store: a keyed
// collection of documents with a soft count bound, least-recently-updated
// eviction, and a pinned exemption. When the persistence medium reports
// quota exhaustion, the store evicts down to half capacity and retries
// the write exactly once.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/statevault/services/statevault/store"
)

// DefaultCollectionKey is the medium key holding the document collection.
const DefaultCollectionKey = "statevault/documents"

// DefaultMaxDocuments is the soft bound on stored document count.
const DefaultMaxDocuments = 100

// ErrDocumentNotFound is returned when an operation references an
// unknown document id.
var ErrDocumentNotFound = errors.New("document not found")

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	documentEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statevault_document_evictions_total",
		Help: "Documents evicted by trigger (quota or proactive)",
	}, []string{"trigger"})

	documentCountGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statevault_documents_current",
		Help: "Number of documents currently stored",
	})
)

// -----------------------------------------------------------------------------
// Document
// -----------------------------------------------------------------------------

// Document is a single stored document (a generalized session).
type Document struct {
	// ID uniquely identifies the document.
	ID string `json:"id"`

	// Payload is the document body.
	Payload map[string]any `json:"payload"`

	// CreatedAt is the creation time (Unix milliseconds UTC).
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the last update time (Unix milliseconds UTC).
	UpdatedAt int64 `json:"updated_at"`

	// Pinned exempts the document from automatic eviction.
	Pinned bool `json:"pinned"`

	// seq is the insertion order, used to break UpdatedAt ties
	// deterministically. Not persisted separately; restored from slice
	// position on load.
	seq int
}

// collection is the persisted wire form of the store contents.
type collection struct {
	Documents []*Document `json:"documents"`
	CurrentID string      `json:"current_id,omitempty"`
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is the bounded document store.
//
// Description:
//
//	Holds documents in memory and persists the whole collection through
//	the medium after every mutation. Eviction removes the oldest
//	documents by UpdatedAt, always skipping pinned ones, until at most
//	maxDocuments/2 remain; it runs proactively when the count exceeds
//	maxDocuments and reactively when a persist fails with
//	ErrQuotaExceeded (followed by exactly one retry).
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	medium    store.Medium
	key       string
	maxDocs   int
	logger    *slog.Logger
	now       func() int64
	docs      []*Document
	byID      map[string]*Document
	currentID string
	nextSeq   int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxDocuments overrides the soft document count bound.
func WithMaxDocuments(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxDocs = n
		}
	}
}

// WithCollectionKey overrides the medium key for the collection.
func WithCollectionKey(key string) Option {
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

// WithNowFunc overrides the time source (Unix milliseconds).
// Test hook for deterministic eviction ordering.
func WithNowFunc(now func() int64) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates a document store over the given medium, loading any
// previously persisted collection. A corrupt stored collection fails
// closed: it is logged and the store starts empty.
func Open(medium store.Medium, opts ...Option) *Store {
	s := &Store{
		medium:  medium,
		key:     DefaultCollectionKey,
		maxDocs: DefaultMaxDocuments,
		logger:  slog.Default(),
		now:     func() int64 { return time.Now().UnixMilli() },
		byID:    make(map[string]*Document),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "document_store"))

	s.loadExisting()
	documentCountGauge.Set(float64(len(s.docs)))
	return s
}

func (s *Store) loadExisting() {
	data, err := s.medium.Get(s.key)
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			s.logger.Warn("document collection load failed, starting empty",
				slog.String("error", err.Error()),
			)
		}
		return
	}

	var coll collection
	if err := json.Unmarshal(data, &coll); err != nil {
		s.logger.Warn("stored document collection is corrupt, starting empty",
			slog.String("error", err.Error()),
		)
		return
	}

	for i, doc := range coll.Documents {
		doc.seq = i
		s.docs = append(s.docs, doc)
		s.byID[doc.ID] = doc
	}
	s.nextSeq = len(coll.Documents)
	if _, ok := s.byID[coll.CurrentID]; ok {
		s.currentID = coll.CurrentID
	}
}

// Create allocates a new document with a unique id, inserts it, persists
// the collection, and makes the new document current.
//
// Outputs:
//
//	string - The new document id.
//	error - Non-nil if persistence fails after eviction-and-retry.
func (s *Store) Create(ctx context.Context, payload map[string]any) (string, error) {
	if ctx == nil {
		return "", store.ErrNilContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	doc := &Document{
		ID:        uuid.NewString(),
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
		seq:       s.nextSeq,
	}
	s.nextSeq++
	s.docs = append(s.docs, doc)
	s.byID[doc.ID] = doc
	s.currentID = doc.ID

	if len(s.docs) > s.maxDocs {
		evicted := s.evictLocked()
		documentEvictionsTotal.WithLabelValues("proactive").Add(float64(evicted))
	}

	if err := s.persistLocked(); err != nil {
		return "", err
	}
	return doc.ID, nil
}

// Update replaces the payload of an existing document and bumps its
// UpdatedAt. Fails with ErrDocumentNotFound for an unknown id.
func (s *Store) Update(ctx context.Context, id string, payload map[string]any) error {
	if ctx == nil {
		return store.ErrNilContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	doc.Payload = payload
	doc.UpdatedAt = s.now()
	return s.persistLocked()
}

// Delete removes a document by id. Clears the current pointer if it
// referenced the deleted document.
func (s *Store) Delete(ctx context.Context, id string) error {
	if ctx == nil {
		return store.ErrNilContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	s.removeLocked(id)
	if s.currentID == id {
		s.currentID = ""
	}
	return s.persistLocked()
}

// SetPinned marks or unmarks a document as exempt from eviction.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) error {
	if ctx == nil {
		return store.ErrNilContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	doc.Pinned = pinned
	return s.persistLocked()
}

// List returns all documents ordered pinned first, then by UpdatedAt
// descending, ties broken by insertion order. The returned documents are
// copies; mutating them does not affect the store.
func (s *Store) List() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := make([]*Document, len(s.docs))
	copy(ordered, s.docs)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Pinned != ordered[j].Pinned {
			return ordered[i].Pinned
		}
		if ordered[i].UpdatedAt != ordered[j].UpdatedAt {
			return ordered[i].UpdatedAt > ordered[j].UpdatedAt
		}
		return ordered[i].seq < ordered[j].seq
	})

	out := make([]Document, len(ordered))
	for i, doc := range ordered {
		out[i] = *doc
	}
	return out
}

// Current returns the document the current pointer references.
func (s *Store) Current() (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.byID[s.currentID]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// persistLocked writes the collection through the medium. On quota
// exhaustion it evicts down to half capacity and retries exactly once;
// a second failure is surfaced, never retried again.
func (s *Store) persistLocked() error {
	err := s.writeLocked()
	if err == nil {
		documentCountGauge.Set(float64(len(s.docs)))
		return nil
	}
	if !errors.Is(err, store.ErrQuotaExceeded) {
		return err
	}

	evicted := s.evictLocked()
	documentEvictionsTotal.WithLabelValues("quota").Add(float64(evicted))
	s.logger.Warn("persist hit storage quota, evicted and retrying once",
		slog.Int("evicted", evicted),
		slog.Int("remaining", len(s.docs)),
	)

	if err := s.writeLocked(); err != nil {
		return fmt.Errorf("persist after eviction: %w", err)
	}
	documentCountGauge.Set(float64(len(s.docs)))
	return nil
}

func (s *Store) writeLocked() error {
	data, err := json.Marshal(collection{
		Documents: s.docs,
		CurrentID: s.currentID,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrSerializationFailed, err)
	}
	return s.medium.Set(s.key, data)
}

// evictLocked removes the oldest-by-UpdatedAt non-pinned documents until
// at most maxDocs/2 remain. Pinned documents are never removed, even
// when they are the oldest. Returns the number of removals.
func (s *Store) evictLocked() int {
	target := s.maxDocs / 2

	candidates := make([]*Document, len(s.docs))
	copy(candidates, s.docs)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].UpdatedAt != candidates[j].UpdatedAt {
			return candidates[i].UpdatedAt < candidates[j].UpdatedAt
		}
		return candidates[i].seq < candidates[j].seq
	})

	evicted := 0
	for _, doc := range candidates {
		if len(s.docs) <= target {
			break
		}
		if doc.Pinned {
			continue
		}
		s.removeLocked(doc.ID)
		if s.currentID == doc.ID {
			s.currentID = ""
		}
		evicted++
	}
	return evicted
}

func (s *Store) removeLocked(id string) {
	for i, doc := range s.docs {
		if doc.ID == id {
			s.docs = append(s.docs[:i], s.docs[i+1:]...)
			break
		}
	}
	delete(s.byID, id)
}
