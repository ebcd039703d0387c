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

type testFixture struct {
	manager  *Manager
	store    *store.Store
	medium   *store.MemoryMedium
	recorder *events.Recorder
	clock    *FakeClock
}

func newTestFixture(t *testing.T, maxSnapshots int) *testFixture {
	t.Helper()

	medium := store.NewMemoryMedium(0)
	st := store.New(medium)
	recorder := events.NewRecorder()
	clock := NewFakeClock(time.Unix(1_700_000_000, 0))

	cfg := DefaultConfig()
	cfg.MaxSnapshots = maxSnapshots
	cfg.Clock = clock

	m, err := NewManager(st, medium, recorder, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return &testFixture{
		manager:  m,
		store:    st,
		medium:   medium,
		recorder: recorder,
		clock:    clock,
	}
}

func (f *testFixture) saveState(t *testing.T, doc store.StateDocument) {
	t.Helper()
	require.NoError(t, f.store.Save(context.Background(), doc))
}

// =============================================================================
// CreateSnapshot Tests
// =============================================================================

func TestManager_CreateSnapshot_CapturesCurrentState(t *testing.T) {
	f := newTestFixture(t, 10)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"version": "1"})

	id, created, err := f.manager.CreateSnapshot(ctx, "before upgrade")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, id)

	infos := f.manager.ListSnapshots()
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)
	assert.Equal(t, "before upgrade", infos[0].Description)
	assert.Equal(t, f.clock.Now().UnixMilli(), infos[0].Timestamp)

	createdEvents := f.recorder.EventsByType(events.TypeSnapshotCreated)
	require.Len(t, createdEvents, 1)
	assert.Equal(t, id, createdEvents[0].Data.(events.SnapshotCreatedData).SnapshotID)
}

func TestManager_CreateSnapshot_NoStateIsNotAnError(t *testing.T) {
	f := newTestFixture(t, 10)

	id, created, err := f.manager.CreateSnapshot(context.Background(), "nothing yet")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, id)

	assert.Empty(t, f.manager.ListSnapshots(), "list must be unchanged")
	assert.Empty(t, f.recorder.Events())
}

func TestManager_CreateSnapshot_EvictsOldestBeyondBound(t *testing.T) {
	f := newTestFixture(t, 3)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"v": "x"})

	ids := make([]string, 0, 4)
	for _, desc := range []string{"a", "b", "c", "d"} {
		id, created, err := f.manager.CreateSnapshot(ctx, desc)
		require.NoError(t, err)
		require.True(t, created)
		ids = append(ids, id)
	}

	// The fourth create drops the oldest; b, c, d remain in order.
	infos := f.manager.ListSnapshots()
	require.Len(t, infos, 3)
	assert.Equal(t, ids[1], infos[0].ID)
	assert.Equal(t, ids[2], infos[1].ID)
	assert.Equal(t, ids[3], infos[2].ID)

	evicted := f.recorder.EventsByType(events.TypeSnapshotEvicted)
	require.Len(t, evicted, 1)
	assert.Equal(t, ids[0], evicted[0].Data.(events.SnapshotEvictedData).SnapshotID)
}

func TestManager_CreateSnapshot_EmitsCreatedBeforeEvicted(t *testing.T) {
	f := newTestFixture(t, 1)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"v": "x"})

	_, _, err := f.manager.CreateSnapshot(ctx, "first")
	require.NoError(t, err)
	f.recorder.Clear()

	_, _, err = f.manager.CreateSnapshot(ctx, "second")
	require.NoError(t, err)

	all := f.recorder.Events()
	require.Len(t, all, 2)
	assert.Equal(t, events.TypeSnapshotCreated, all[0].Type)
	assert.Equal(t, events.TypeSnapshotEvicted, all[1].Type)
}

func TestManager_CreateSnapshot_PersistFailureLeavesListIntact(t *testing.T) {
	f := newTestFixture(t, 10)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"v": "1"})
	_, _, err := f.manager.CreateSnapshot(ctx, "kept")
	require.NoError(t, err)
	f.recorder.Clear()

	f.medium.FailNextSetWith(errors.New("disk gone"))
	_, created, err := f.manager.CreateSnapshot(ctx, "lost")
	require.Error(t, err)
	assert.False(t, created)

	// The attempted snapshot is discarded; no event, no list change.
	infos := f.manager.ListSnapshots()
	require.Len(t, infos, 1)
	assert.Equal(t, "kept", infos[0].Description)
	assert.Empty(t, f.recorder.Events())
}

func TestManager_CreateSnapshot_ImmuneToLaterStateChanges(t *testing.T) {
	f := newTestFixture(t, 10)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"step": "initial"})
	id, _, err := f.manager.CreateSnapshot(ctx, "checkpoint")
	require.NoError(t, err)

	f.saveState(t, store.StateDocument{"step": "mutated"})

	require.NoError(t, f.manager.Rollback(ctx, id))
	doc, ok := f.store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "initial", doc["step"])
}

// =============================================================================
// Rollback Tests
// =============================================================================

func TestManager_Rollback_RestoresSnapshotState(t *testing.T) {
	f := newTestFixture(t, 10)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{
		"version": "1",
		"nested":  map[string]any{"key": "value"},
	})
	id, _, err := f.manager.CreateSnapshot(ctx, "baseline")
	require.NoError(t, err)

	f.saveState(t, store.StateDocument{"version": "2"})
	require.NoError(t, f.manager.Rollback(ctx, id))

	doc, ok := f.store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", doc["version"])
	assert.Equal(t, "value", doc["nested"].(map[string]any)["key"])

	replaced := f.recorder.EventsByType(events.TypeStateReplaced)
	require.Len(t, replaced, 1)
	data := replaced[0].Data.(events.StateReplacedData)
	assert.Equal(t, id, data.SnapshotID)
	assert.Equal(t, "1", data.NewState["version"])
}

func TestManager_Rollback_UnknownID(t *testing.T) {
	f := newTestFixture(t, 10)

	err := f.manager.Rollback(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestManager_Rollback_SnapshotSurvivesAndIsRepeatable(t *testing.T) {
	f := newTestFixture(t, 10)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"v": "safe"})
	id, _, err := f.manager.CreateSnapshot(ctx, "reusable")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		f.saveState(t, store.StateDocument{"v": "broken"})
		require.NoError(t, f.manager.Rollback(ctx, id))

		doc, ok := f.store.Load(ctx)
		require.True(t, ok)
		assert.Equal(t, "safe", doc["v"])
	}

	assert.Equal(t, 1, f.manager.Count(), "rollback never consumes the snapshot")
}

func TestManager_Rollback_WriteFailureLeavesStoreUnchanged(t *testing.T) {
	f := newTestFixture(t, 10)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"v": "1"})
	id, _, err := f.manager.CreateSnapshot(ctx, "baseline")
	require.NoError(t, err)
	f.saveState(t, store.StateDocument{"v": "2"})

	f.medium.FailSetsWith(errors.New("disk gone"))
	err = f.manager.Rollback(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRollbackWriteFailed)

	f.medium.FailSetsWith(nil)
	doc, ok := f.store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "2", doc["v"], "failed rollback must not touch the store")

	assert.Empty(t, f.recorder.EventsByType(events.TypeStateReplaced))
}

// =============================================================================
// Delete / List Tests
// =============================================================================

func TestManager_DeleteSnapshot(t *testing.T) {
	f := newTestFixture(t, 10)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"v": "x"})
	id, _, err := f.manager.CreateSnapshot(ctx, "disposable")
	require.NoError(t, err)

	assert.True(t, f.manager.DeleteSnapshot(ctx, id))
	assert.Equal(t, 0, f.manager.Count())

	// Unknown and already-deleted ids are no-ops.
	assert.False(t, f.manager.DeleteSnapshot(ctx, id))
	assert.False(t, f.manager.DeleteSnapshot(ctx, "missing"))
}

func TestManager_ListSnapshots_OmitsStatePayload(t *testing.T) {
	f := newTestFixture(t, 10)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"big": "payload"})
	id, _, err := f.manager.CreateSnapshot(ctx, "labeled")
	require.NoError(t, err)

	infos := f.manager.ListSnapshots()
	require.Len(t, infos, 1)
	assert.Equal(t, Info{
		ID:          id,
		Timestamp:   f.clock.Now().UnixMilli(),
		Description: "labeled",
	}, infos[0])
}

// =============================================================================
// Persistence Tests
// =============================================================================

func TestManager_SnapshotsSurviveReopen(t *testing.T) {
	medium := store.NewMemoryMedium(0)
	st := store.New(medium)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, store.StateDocument{"v": "1"}))

	first, err := NewManager(st, medium, nil, nil)
	require.NoError(t, err)
	id, _, err := first.CreateSnapshot(ctx, "persisted")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewManager(st, medium, nil, nil)
	require.NoError(t, err)

	infos := second.ListSnapshots()
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)

	// A reopened manager can restore from a snapshot taken before.
	require.NoError(t, st.Save(ctx, store.StateDocument{"v": "2"}))
	require.NoError(t, second.Rollback(ctx, id))
	doc, ok := st.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", doc["v"])
}

func TestManager_CorruptListStartsEmpty(t *testing.T) {
	medium := store.NewMemoryMedium(0)
	medium.Corrupt(DefaultListKey, []byte("{broken"))

	m, err := NewManager(store.New(medium), medium, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Count())
}

// =============================================================================
// Lifecycle / Config Tests
// =============================================================================

func TestManager_ClosedRejectsOperations(t *testing.T) {
	f := newTestFixture(t, 10)
	ctx := context.Background()

	f.saveState(t, store.StateDocument{"v": "x"})
	id, _, err := f.manager.CreateSnapshot(ctx, "before close")
	require.NoError(t, err)

	require.NoError(t, f.manager.Close())
	require.NoError(t, f.manager.Close(), "double close is a no-op")

	_, _, err = f.manager.CreateSnapshot(ctx, "after close")
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, f.manager.Rollback(ctx, id), ErrManagerClosed)
	assert.False(t, f.manager.DeleteSnapshot(ctx, id))
}

func TestManager_ConfigValidation(t *testing.T) {
	medium := store.NewMemoryMedium(0)
	st := store.New(medium)

	cfg := DefaultConfig()
	cfg.MaxSnapshots = 0
	_, err := NewManager(st, medium, nil, &cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.AutoRollbackDeadline = -time.Second
	_, err = NewManager(st, medium, nil, &cfg)
	assert.Error(t, err)

	_, err = NewManager(nil, medium, nil, nil)
	assert.Error(t, err)
	_, err = NewManager(st, nil, nil, nil)
	assert.Error(t, err)
}
