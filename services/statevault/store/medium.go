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
	"errors"
	"fmt"
	"sync"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/statevault/services/statevault/storage/badger"
)

// Medium is the byte-oriented key-value interface every durable component
// writes through. Implementations must report capacity exhaustion as
// ErrQuotaExceeded so callers can distinguish it from other failures.
//
// Thread Safety: implementations must be safe for concurrent use.
type Medium interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any prior value.
	// Returns ErrQuotaExceeded when the medium is full.
	Set(key string, value []byte) error

	// Remove deletes the value for key. Removing an absent key is a no-op.
	Remove(key string) error
}

// -----------------------------------------------------------------------------
// BadgerMedium
// -----------------------------------------------------------------------------

// BadgerMedium adapts a BadgerDB instance to the Medium interface with
// byte-budget capacity accounting.
//
// Description:
//
//	BadgerDB itself does not surface a distinguishable disk-full
//	condition at write time, so the medium enforces a configurable byte
//	budget across all keys it manages. Projected usage is computed
//	before each write; writes that would exceed the budget fail with
//	ErrQuotaExceeded without touching the database.
//
// Thread Safety: Safe for concurrent use.
type BadgerMedium struct {
	db *badger.DB

	mu       sync.Mutex
	capacity int64
	sizes    map[string]int64
	used     int64
}

// NewBadgerMedium creates a medium over an open BadgerDB instance.
//
// Inputs:
//
//	db - The open database. Must not be nil.
//	capacityBytes - Total byte budget across keys and values.
//	                Zero or negative disables quota enforcement.
//
// Outputs:
//
//	*BadgerMedium - The medium. Existing keys are scanned so the
//	                capacity accounting survives restarts.
//	error - Non-nil if db is nil or the initial scan fails.
func NewBadgerMedium(db *badger.DB, capacityBytes int64) (*BadgerMedium, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}

	m := &BadgerMedium{
		db:       db,
		capacity: capacityBytes,
		sizes:    make(map[string]int64),
	}

	// Rebuild usage accounting from what is already on disk.
	err := db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			size := int64(len(item.Key())) + item.ValueSize()
			m.sizes[string(item.Key())] = size
			m.used += size
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan existing keys: %w", err)
	}

	return m, nil
}

// Get returns the value for key, or ErrKeyNotFound.
func (m *BadgerMedium) Get(key string) ([]byte, error) {
	var value []byte
	err := m.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediumUnavailable, err)
	}
	return value, nil
}

// Set stores value under key, enforcing the byte budget.
func (m *BadgerMedium) Set(key string, value []byte) error {
	size := int64(len(key)) + int64(len(value))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity > 0 {
		projected := m.used - m.sizes[key] + size
		if projected > m.capacity {
			return fmt.Errorf("%w: %d bytes needed, %d available",
				ErrQuotaExceeded, projected, m.capacity)
		}
	}

	err := m.db.Update(func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediumUnavailable, err)
	}

	m.used += size - m.sizes[key]
	m.sizes[key] = size
	return nil
}

// Remove deletes the value for key. Absent keys are a no-op.
func (m *BadgerMedium) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.db.Update(func(txn *dgbadger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediumUnavailable, err)
	}

	m.used -= m.sizes[key]
	delete(m.sizes, key)
	return nil
}

// UsedBytes returns the current accounted usage.
func (m *BadgerMedium) UsedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// -----------------------------------------------------------------------------
// MemoryMedium
// -----------------------------------------------------------------------------

// MemoryMedium is an in-memory Medium with the same byte-budget semantics
// as BadgerMedium. Used in tests to exercise quota and failure paths
// deterministically.
//
// Thread Safety: Safe for concurrent use.
type MemoryMedium struct {
	mu       sync.Mutex
	capacity int64
	values   map[string][]byte
	used     int64
	failSet  error
	failOnce error
}

// NewMemoryMedium creates an in-memory medium with the given byte budget.
// Zero or negative capacity disables quota enforcement.
func NewMemoryMedium(capacityBytes int64) *MemoryMedium {
	return &MemoryMedium{
		capacity: capacityBytes,
		values:   make(map[string][]byte),
	}
}

// Get returns a copy of the value for key, or ErrKeyNotFound.
func (m *MemoryMedium) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a copy of value under key, enforcing the byte budget.
func (m *MemoryMedium) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOnce != nil {
		err := m.failOnce
		m.failOnce = nil
		return err
	}
	if m.failSet != nil {
		return m.failSet
	}

	size := int64(len(key)) + int64(len(value))
	prior := int64(0)
	if existing, ok := m.values[key]; ok {
		prior = int64(len(key)) + int64(len(existing))
	}

	if m.capacity > 0 {
		projected := m.used - prior + size
		if projected > m.capacity {
			return fmt.Errorf("%w: %d bytes needed, %d available",
				ErrQuotaExceeded, projected, m.capacity)
		}
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[key] = stored
	m.used += size - prior
	return nil
}

// Remove deletes the value for key.
func (m *MemoryMedium) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.values[key]; ok {
		m.used -= int64(len(key)) + int64(len(existing))
		delete(m.values, key)
	}
	return nil
}

// FailSetsWith forces subsequent Set calls to fail with err.
// Pass nil to restore normal behavior. Test hook.
func (m *MemoryMedium) FailSetsWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSet = err
}

// FailNextSetWith forces only the next Set call to fail with err.
// Test hook for quota-then-retry paths.
func (m *MemoryMedium) FailNextSetWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOnce = err
}

// Corrupt overwrites the stored value for key without quota accounting.
// Test hook for exercising fail-closed load behavior.
func (m *MemoryMedium) Corrupt(key string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = raw
}

// UsedBytes returns the current accounted usage.
func (m *MemoryMedium) UsedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}
