// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot implements the rollback system: an ordered, bounded
// list of named state snapshots with create, list, delete, and restore
// operations, plus a watchdog that automatically restores a snapshot
// unless explicitly disarmed within a deadline.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/statevault/services/statevault/events"
	"github.com/AleutianAI/statevault/services/statevault/store"
)

// DefaultListKey is the medium key holding the persisted snapshot list.
const DefaultListKey = "statevault/snapshots"

// DefaultMaxSnapshots is the bound on retained snapshots.
const DefaultMaxSnapshots = 10

// DefaultAutoRollbackDeadline is the watchdog deadline.
const DefaultAutoRollbackDeadline = 5 * time.Minute

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrSnapshotNotFound indicates no snapshot exists with the given id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrRollbackWriteFailed indicates the restored state could not be
	// written; the durable store is unchanged.
	ErrRollbackWriteFailed = errors.New("rollback write failed")

	// ErrManagerClosed indicates the manager has been closed.
	ErrManagerClosed = errors.New("snapshot manager is closed")
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	snapshotOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statevault_snapshot_operations_total",
		Help: "Snapshot manager operations by type and status",
	}, []string{"operation", "status"})

	snapshotsCurrentGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statevault_snapshots_current",
		Help: "Number of snapshots currently retained",
	})

	rollbackDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statevault_rollback_duration_seconds",
		Help:    "Time to restore a snapshot into the durable store",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"status"})

	guardOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statevault_guard_outcomes_total",
		Help: "Auto-rollback guard outcomes",
	}, []string{"outcome"})
)

// -----------------------------------------------------------------------------
// Tracer
// -----------------------------------------------------------------------------

var managerTracer = otel.Tracer("statevault.snapshot")

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Snapshot is an immutable, timestamped copy of the full persisted state
// plus a human-readable description. Created only via CreateSnapshot;
// the embedded state is never mutated in place.
type Snapshot struct {
	// ID uniquely identifies the snapshot (unix-ms prefix + random suffix).
	ID string `json:"id"`

	// Timestamp is the creation time (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	// Description is the human-readable label.
	Description string `json:"description"`

	// State is the captured state document. Ownership is fully
	// transferred to the snapshot at creation time.
	State store.StateDocument `json:"state"`
}

// Info is the listing view of a snapshot; the state payload is omitted
// so callers can enumerate history without the full document.
type Info struct {
	ID          string `json:"id"`
	Timestamp   int64  `json:"timestamp"`
	Description string `json:"description"`
}

// Notifier receives the manager's observable events. Satisfied by
// events.Emitter and events.Recorder.
type Notifier interface {
	Emit(eventType events.Type, data any)
}

// Config configures the snapshot manager.
type Config struct {
	// MaxSnapshots bounds the retained snapshot list.
	// Default: DefaultMaxSnapshots.
	MaxSnapshots int

	// AutoRollbackDeadline is the watchdog deadline for
	// PrepareAutoRollback. Default: DefaultAutoRollbackDeadline.
	AutoRollbackDeadline time.Duration

	// ListKey is the medium key for the persisted snapshot list.
	// Default: DefaultListKey.
	ListKey string

	// Clock is the time source. Default: system clock.
	Clock Clock

	// Logger for manager operations.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSnapshots:         DefaultMaxSnapshots,
		AutoRollbackDeadline: DefaultAutoRollbackDeadline,
		ListKey:              DefaultListKey,
		Clock:                NewRealClock(),
		Logger:               slog.Default(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxSnapshots <= 0 {
		return fmt.Errorf("max_snapshots must be positive, got %d", c.MaxSnapshots)
	}
	if c.AutoRollbackDeadline <= 0 {
		return errors.New("auto_rollback_deadline must be positive")
	}
	if c.ListKey == "" {
		return errors.New("list_key must not be empty")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Manager
// -----------------------------------------------------------------------------

// Manager maintains the ordered, bounded snapshot list and performs
// restores through the durable state store.
//
// Description:
//
//	All mutating operations are short critical sections serialized by a
//	single mutex: a CreateSnapshot cannot observe a half-written
//	document and two concurrent Rollback calls cannot interleave their
//	writes. The watchdog goroutine armed by PrepareAutoRollback is the
//	only asynchronous actor; its fire handler re-checks an
//	armed/disarmed/fired state under the guard lock so the race between
//	disarm and fire resolves to exactly one deterministic outcome.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	cfg      Config
	store    *store.Store
	medium   store.Medium
	notifier Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	snapshots []*Snapshot
	closed    bool
}

// NewManager creates a snapshot manager over the given durable store and
// medium, loading any previously persisted snapshot list. A corrupt
// stored list fails closed: it is logged and the manager starts empty.
//
// Inputs:
//   - st: The durable state store holding the current document. Must not be nil.
//   - medium: The persistence medium for the snapshot list. Must not be nil.
//   - notifier: Event sink. May be nil (events dropped).
//   - cfg: Configuration. If nil, uses DefaultConfig().
//
// Outputs:
//   - *Manager: The new manager.
//   - error: Non-nil if inputs or configuration are invalid.
//
// Thread Safety: Safe for concurrent use.
func NewManager(st *store.Store, medium store.Medium, notifier Notifier, cfg *Config) (*Manager, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if medium == nil {
		return nil, errors.New("medium must not be nil")
	}

	if cfg == nil {
		defaults := DefaultConfig()
		cfg = &defaults
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ListKey == "" {
		cfg.ListKey = DefaultListKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{
		cfg:      *cfg,
		store:    st,
		medium:   medium,
		notifier: notifier,
		logger:   cfg.Logger.With(slog.String("component", "snapshot_manager")),
	}

	m.loadExisting()
	snapshotsCurrentGauge.Set(float64(len(m.snapshots)))
	return m, nil
}

func (m *Manager) loadExisting() {
	data, err := m.medium.Get(m.cfg.ListKey)
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			m.logger.Warn("snapshot list load failed, starting empty",
				slog.String("error", err.Error()),
			)
		}
		return
	}

	var snaps []*Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		m.logger.Warn("stored snapshot list is corrupt, starting empty",
			slog.String("error", err.Error()),
		)
		return
	}
	m.snapshots = snaps
}

// CreateSnapshot captures the current state document as a new snapshot.
//
// Description:
//
//	Reads the current document from the durable store; if none exists
//	there is nothing to checkpoint and the call returns created=false
//	with no error and no list change. Otherwise the snapshot is
//	appended to the tail (append order = chronological) and, when the
//	list exceeds MaxSnapshots, the head (oldest) is evicted
//	unconditionally. A persist failure discards the attempted snapshot;
//	the in-memory list is never left half-appended.
//
// Outputs:
//   - string: The new snapshot id (empty when created=false).
//   - bool: False when no current state exists.
//   - error: Non-nil if persisting the updated list fails.
//
// Thread Safety: Safe for concurrent use.
func (m *Manager) CreateSnapshot(ctx context.Context, description string) (string, bool, error) {
	if ctx == nil {
		return "", false, store.ErrNilContext
	}

	ctx, span := managerTracer.Start(ctx, "snapshot.Manager.CreateSnapshot",
		trace.WithAttributes(attribute.String("description", description)),
	)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", false, ErrManagerClosed
	}

	state, ok := m.store.Load(ctx)
	if !ok {
		span.SetAttributes(attribute.Bool("state_present", false))
		snapshotOperationsTotal.WithLabelValues("create", "empty").Inc()
		return "", false, nil
	}

	now := m.cfg.Clock.Now()
	snap := &Snapshot{
		ID:          newSnapshotID(now),
		Timestamp:   now.UnixMilli(),
		Description: description,
		State:       state,
	}

	prior := m.snapshots
	next := make([]*Snapshot, len(prior), len(prior)+1)
	copy(next, prior)
	next = append(next, snap)

	var evicted []*Snapshot
	for len(next) > m.cfg.MaxSnapshots {
		evicted = append(evicted, next[0])
		next = next[1:]
	}

	m.snapshots = next
	if err := m.persistLocked(); err != nil {
		// The attempted snapshot is discarded, not left half-appended.
		m.snapshots = prior
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist snapshot list failed")
		snapshotOperationsTotal.WithLabelValues("create", "error").Inc()
		return "", false, fmt.Errorf("persist snapshot list: %w", err)
	}

	snapshotsCurrentGauge.Set(float64(len(m.snapshots)))
	snapshotOperationsTotal.WithLabelValues("create", "success").Inc()
	span.SetAttributes(
		attribute.String("snapshot_id", snap.ID),
		attribute.Int("snapshot_count", len(m.snapshots)),
		attribute.Int("evicted", len(evicted)),
	)

	m.logger.Info("snapshot created",
		slog.String("snapshot_id", snap.ID),
		slog.String("description", description),
		slog.Int("snapshot_count", len(m.snapshots)),
	)

	m.emit(events.TypeSnapshotCreated, events.SnapshotCreatedData{
		SnapshotID:  snap.ID,
		Description: description,
	})
	for _, old := range evicted {
		m.emit(events.TypeSnapshotEvicted, events.SnapshotEvictedData{
			SnapshotID: old.ID,
		})
	}

	return snap.ID, true, nil
}

// Rollback restores a snapshot's state into the durable store.
//
// Description:
//
//	Writes the snapshot's embedded state back through the store as a
//	full atomic replace. A failed write leaves the store unchanged and
//	wraps ErrRollbackWriteFailed. The snapshot itself is never mutated
//	or removed; it may be rolled back to more than once. On success the
//	state.replaced event carries a copy of the restored document so the
//	host can reinitialize its in-memory caches.
//
// Outputs:
//   - error: ErrSnapshotNotFound, ErrRollbackWriteFailed (wrapped), or nil.
//
// Thread Safety: Safe for concurrent use.
func (m *Manager) Rollback(ctx context.Context, id string) error {
	if ctx == nil {
		return store.ErrNilContext
	}

	start := time.Now()
	ctx, span := managerTracer.Start(ctx, "snapshot.Manager.Rollback",
		trace.WithAttributes(attribute.String("snapshot_id", id)),
	)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	snap := m.findLocked(id)
	if snap == nil {
		span.SetStatus(codes.Error, "snapshot not found")
		snapshotOperationsTotal.WithLabelValues("rollback", "not_found").Inc()
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}

	if err := m.store.Save(ctx, snap.State); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write restored state failed")
		rollbackDurationHistogram.WithLabelValues("error").Observe(time.Since(start).Seconds())
		snapshotOperationsTotal.WithLabelValues("rollback", "error").Inc()
		return fmt.Errorf("%w: %v", ErrRollbackWriteFailed, err)
	}

	rollbackDurationHistogram.WithLabelValues("success").Observe(time.Since(start).Seconds())
	snapshotOperationsTotal.WithLabelValues("rollback", "success").Inc()

	m.logger.Info("snapshot restored",
		slog.String("snapshot_id", id),
		slog.String("description", snap.Description),
		slog.Duration("age", time.Duration(m.cfg.Clock.Now().UnixMilli()-snap.Timestamp)*time.Millisecond),
	)

	m.emit(events.TypeStateReplaced, events.StateReplacedData{
		SnapshotID: id,
		NewState:   snap.State.Clone(),
	})

	return nil
}

// ListSnapshots returns the listing view of all snapshots, oldest first.
func (m *Manager) ListSnapshots() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, len(m.snapshots))
	for i, snap := range m.snapshots {
		out[i] = Info{
			ID:          snap.ID,
			Timestamp:   snap.Timestamp,
			Description: snap.Description,
		}
	}
	return out
}

// DeleteSnapshot removes a snapshot by id if present.
//
// Outputs:
//   - bool: True if a removal occurred; false for an unknown id (no-op).
func (m *Manager) DeleteSnapshot(ctx context.Context, id string) bool {
	if ctx == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	for i, snap := range m.snapshots {
		if snap.ID == id {
			m.snapshots = append(m.snapshots[:i], m.snapshots[i+1:]...)
			if err := m.persistLocked(); err != nil {
				m.logger.Warn("persist after snapshot delete failed",
					slog.String("snapshot_id", id),
					slog.String("error", err.Error()),
				)
			}
			snapshotsCurrentGauge.Set(float64(len(m.snapshots)))
			snapshotOperationsTotal.WithLabelValues("delete", "success").Inc()
			return true
		}
	}

	snapshotOperationsTotal.WithLabelValues("delete", "not_found").Inc()
	return false
}

// Count returns the number of retained snapshots.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

// Close marks the manager closed. Armed guards whose timers fire after
// Close find the manager closed and log instead of rolling back.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("snapshot manager closed")
	return nil
}

func (m *Manager) findLocked(id string) *Snapshot {
	for _, snap := range m.snapshots {
		if snap.ID == id {
			return snap
		}
	}
	return nil
}

func (m *Manager) persistLocked() error {
	data, err := json.Marshal(m.snapshots)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrSerializationFailed, err)
	}
	return m.medium.Set(m.cfg.ListKey, data)
}

func (m *Manager) emit(eventType events.Type, data any) {
	if m.notifier != nil {
		m.notifier.Emit(eventType, data)
	}
}

// newSnapshotID builds a unique, monotonic-ish id from the creation time
// and a random suffix.
func newSnapshotID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}
