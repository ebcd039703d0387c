// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/statevault/services/statevault/config"
	"github.com/AleutianAI/statevault/services/statevault/docstore"
	"github.com/AleutianAI/statevault/services/statevault/events"
	"github.com/AleutianAI/statevault/services/statevault/snapshot"
	"github.com/AleutianAI/statevault/services/statevault/storage/badger"
	"github.com/AleutianAI/statevault/services/statevault/store"
)

// vault bundles the opened core components and their shared database.
type vault struct {
	db      *badger.DB
	store   *store.Store
	docs    *docstore.Store
	snaps   *snapshot.Manager
	emitter *events.Emitter
}

// openVault builds the component stack from configuration.
func openVault(cfg config.Config, logger *slog.Logger) (*vault, error) {
	dbCfg := badger.DefaultConfig()
	dbCfg.Path = cfg.Storage.Path
	dbCfg.InMemory = cfg.Storage.InMemory
	dbCfg.Logger = logger

	db, err := badger.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	medium, err := store.NewBadgerMedium(db, cfg.Storage.CapacityBytes)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create medium: %w", err)
	}

	st := store.New(medium, store.WithLogger(logger))
	docs := docstore.Open(medium,
		docstore.WithMaxDocuments(cfg.Documents.MaxDocuments),
		docstore.WithLogger(logger),
	)
	emitter := events.NewEmitter()

	snapCfg := snapshot.DefaultConfig()
	snapCfg.MaxSnapshots = cfg.Snapshots.MaxSnapshots
	snapCfg.AutoRollbackDeadline = cfg.Snapshots.AutoRollbackDeadline()
	snapCfg.Logger = logger

	snaps, err := snapshot.NewManager(st, medium, emitter, &snapCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot manager: %w", err)
	}

	return &vault{
		db:      db,
		store:   st,
		docs:    docs,
		snaps:   snaps,
		emitter: emitter,
	}, nil
}

// close releases the vault's resources.
func (v *vault) close() {
	if err := v.snaps.Close(); err != nil {
		slog.Warn("close snapshot manager", slog.String("error", err.Error()))
	}
	if err := v.db.Close(); err != nil {
		slog.Warn("close database", slog.String("error", err.Error()))
	}
}
