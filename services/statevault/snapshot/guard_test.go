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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/statevault/services/statevault/events"
	"github.com/AleutianAI/statevault/services/statevault/store"
)

func newGuardFixture(t *testing.T) *testFixture {
	t.Helper()

	f := newTestFixture(t, 10)
	return f
}

func (f *testFixture) loadValue(t *testing.T, key string) any {
	t.Helper()
	doc, ok := f.store.Load(context.Background())
	require.True(t, ok)
	return doc[key]
}

// =============================================================================
// PrepareAutoRollback Tests
// =============================================================================

func TestPrepareAutoRollback_FiresAfterDeadline(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"mode": "safe"})

	_, err := f.manager.PrepareAutoRollback(ctx, "risky migration")
	require.NoError(t, err)
	require.Equal(t, 1, f.manager.Count(), "arming checkpoints the current state")

	// The risky operation mangles the state and never confirms.
	f.saveState(t, store.StateDocument{"mode": "risky"})

	f.clock.Advance(DefaultAutoRollbackDeadline)

	require.Eventually(t, func() bool {
		doc, ok := f.store.Load(ctx)
		return ok && doc["mode"] == "safe"
	}, 2*time.Second, 5*time.Millisecond, "watchdog must restore the checkpoint")

	replaced := f.recorder.EventsByType(events.TypeStateReplaced)
	require.Len(t, replaced, 1)
	assert.Equal(t, "safe", replaced[0].Data.(events.StateReplacedData).NewState["mode"])
}

func TestPrepareAutoRollback_DisarmCancelsRollback(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"mode": "safe"})

	disarm, err := f.manager.PrepareAutoRollback(ctx, "risky migration")
	require.NoError(t, err)

	f.saveState(t, store.StateDocument{"mode": "committed"})
	disarm()

	f.clock.Advance(DefaultAutoRollbackDeadline * 2)

	assert.Never(t, func() bool {
		doc, ok := f.store.Load(ctx)
		return ok && doc["mode"] != "committed"
	}, 200*time.Millisecond, 10*time.Millisecond, "disarmed guard must never roll back")

	assert.Empty(t, f.recorder.EventsByType(events.TypeStateReplaced))
}

func TestPrepareAutoRollback_DisarmIsIdempotent(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"v": "1"})

	disarm, err := f.manager.PrepareAutoRollback(ctx, "op")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		disarm()
		disarm()
		disarm()
	})
}

func TestPrepareAutoRollback_DisarmAfterFireIsNoop(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"mode": "safe"})

	disarm, err := f.manager.PrepareAutoRollback(ctx, "op")
	require.NoError(t, err)

	f.saveState(t, store.StateDocument{"mode": "risky"})
	f.clock.Advance(DefaultAutoRollbackDeadline)

	require.Eventually(t, func() bool {
		doc, ok := f.store.Load(ctx)
		return ok && doc["mode"] == "safe"
	}, 2*time.Second, 5*time.Millisecond)

	// Too late: the rollback already happened and stays happened.
	disarm()
	assert.Equal(t, "safe", f.loadValue(t, "mode"))
	assert.Len(t, f.recorder.EventsByType(events.TypeStateReplaced), 1)
}

func TestPrepareAutoRollback_RollbackRunsAtMostOnce(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"mode": "safe"})

	_, err := f.manager.PrepareAutoRollback(ctx, "op")
	require.NoError(t, err)

	f.clock.Advance(DefaultAutoRollbackDeadline)
	require.Eventually(t, func() bool {
		return len(f.recorder.EventsByType(events.TypeStateReplaced)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Further time passing must not re-trigger the same guard.
	f.clock.Advance(DefaultAutoRollbackDeadline * 10)
	assert.Never(t, func() bool {
		return len(f.recorder.EventsByType(events.TypeStateReplaced)) > 1
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestPrepareAutoRollback_NoStateArmsNothing(t *testing.T) {
	f := newGuardFixture(t)

	disarm, err := f.manager.PrepareAutoRollback(context.Background(), "op")
	require.NoError(t, err)
	require.NotNil(t, disarm)

	assert.Equal(t, 0, f.manager.Count(), "no checkpoint without state")
	assert.NotPanics(t, disarm)

	f.clock.Advance(DefaultAutoRollbackDeadline * 2)
	assert.Empty(t, f.recorder.EventsByType(events.TypeStateReplaced))
}

func TestPrepareAutoRollback_CheckpointFailureSurfaced(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"v": "1"})
	f.medium.FailNextSetWith(errors.New("disk gone"))

	disarm, err := f.manager.PrepareAutoRollback(ctx, "op")
	require.Error(t, err)
	require.NotNil(t, disarm, "returned disarm must be a callable no-op")
	assert.NotPanics(t, disarm)

	f.clock.Advance(DefaultAutoRollbackDeadline * 2)
	assert.Empty(t, f.recorder.EventsByType(events.TypeStateReplaced))
}

// =============================================================================
// guard State Machine Tests
// =============================================================================

func TestGuard_DisarmWinsOverTryFire(t *testing.T) {
	g := &guard{state: guardArmed, stop: make(chan struct{})}

	assert.True(t, g.disarm())
	assert.False(t, g.tryFire(), "fire after disarm must lose")
	assert.False(t, g.disarm(), "second disarm is a no-op")
}

func TestGuard_TryFireWinsOverDisarm(t *testing.T) {
	g := &guard{state: guardArmed, stop: make(chan struct{})}

	assert.True(t, g.tryFire())
	assert.False(t, g.disarm(), "disarm after fire must lose")
	assert.False(t, g.tryFire(), "second fire is a no-op")
}
