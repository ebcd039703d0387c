// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// guardState is the lifecycle of an auto-rollback guard.
type guardState int

const (
	guardArmed guardState = iota
	guardDisarmed
	guardFired
)

// guard is a cancellable scheduled rollback.
//
// Description:
//
//	State transitions (armed -> disarmed, armed -> fired) happen under
//	the guard mutex, so when disarm and timer-fire race, exactly one
//	wins deterministically and the rollback action runs at most once.
type guard struct {
	mu    sync.Mutex
	state guardState
	stop  chan struct{}
}

// disarm cancels the guard. Safe to call more than once and after the
// timer has already fired; those calls are no-ops.
func (g *guard) disarm() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != guardArmed {
		return false
	}
	g.state = guardDisarmed
	close(g.stop)
	return true
}

// tryFire claims the fire transition. Returns false when the guard was
// already disarmed or fired.
func (g *guard) tryFire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != guardArmed {
		return false
	}
	g.state = guardFired
	return true
}

// PrepareAutoRollback checkpoints the current state and arms a watchdog
// that restores the checkpoint unless disarmed within the deadline.
//
// Description:
//
//	Creates a snapshot labeled with operationDescription, then starts a
//	deadline timer (Config.AutoRollbackDeadline). If the timer fires
//	before the returned disarm function is invoked, the manager
//	automatically rolls back to the just-created snapshot: if the risky
//	operation doesn't confirm success in time, it is reverted. When
//	there is no current state to checkpoint, no timer is armed and the
//	returned disarm is a no-op.
//
// Inputs:
//   - ctx: Context for the snapshot creation. Must not be nil.
//   - operationDescription: Label for the checkpoint snapshot.
//
// Outputs:
//   - func(): Disarm. Cancels the pending rollback; calling it after the
//     timer fired, or more than once, is a safe no-op.
//   - error: Non-nil if the checkpoint snapshot could not be persisted;
//     the returned disarm is then a no-op.
//
// Thread Safety: Safe for concurrent use. The rollback action runs at
// most once per call.
func (m *Manager) PrepareAutoRollback(ctx context.Context, operationDescription string) (func(), error) {
	noop := func() {}

	id, created, err := m.CreateSnapshot(ctx, operationDescription)
	if err != nil {
		return noop, err
	}
	if !created {
		// Nothing to checkpoint means nothing to roll back to.
		m.logger.Debug("auto-rollback not armed, no current state",
			slog.String("operation", operationDescription),
		)
		return noop, nil
	}

	g := &guard{
		state: guardArmed,
		stop:  make(chan struct{}),
	}
	deadline := m.cfg.AutoRollbackDeadline
	fire := m.cfg.Clock.After(deadline)

	m.logger.Info("auto-rollback armed",
		slog.String("snapshot_id", id),
		slog.String("operation", operationDescription),
		slog.Duration("deadline", deadline),
	)

	go m.watch(g, fire, id, operationDescription)

	return func() {
		if g.disarm() {
			guardOutcomesTotal.WithLabelValues("disarmed").Inc()
			m.logger.Info("auto-rollback disarmed",
				slog.String("snapshot_id", id),
				slog.String("operation", operationDescription),
			)
		}
	}, nil
}

// watch waits for the deadline or cancellation, then performs the
// rollback if the guard is still armed.
func (m *Manager) watch(g *guard, fire <-chan time.Time, snapshotID, operation string) {
	select {
	case <-g.stop:
		return
	case <-fire:
	}

	if !g.tryFire() {
		// Disarmed between timer delivery and here; superseded fire is a no-op.
		return
	}

	guardOutcomesTotal.WithLabelValues("fired").Inc()
	m.logger.Warn("auto-rollback deadline expired, restoring checkpoint",
		slog.String("snapshot_id", snapshotID),
		slog.String("operation", operation),
	)

	if err := m.Rollback(context.Background(), snapshotID); err != nil {
		m.logger.Error("auto-rollback failed",
			slog.String("snapshot_id", snapshotID),
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
}
