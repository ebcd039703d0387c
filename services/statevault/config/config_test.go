// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Snapshots.MaxSnapshots)
	assert.Equal(t, 5*time.Minute, cfg.Snapshots.AutoRollbackDeadline())
	assert.Equal(t, 100, cfg.Documents.MaxDocuments)
	assert.Equal(t, int64(64<<20), cfg.Storage.CapacityBytes)
}

func TestLoad_CreatesDefaultFileOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "statevault.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	assert.NoError(t, err, "default config file must be written")
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statevault.yaml")
	content := `
snapshots:
  max_snapshots: 3
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Snapshots.MaxSnapshots)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Documents.MaxDocuments, cfg.Documents.MaxDocuments)
	assert.Equal(t, Default().Snapshots.AutoRollbackDeadlineMs, cfg.Snapshots.AutoRollbackDeadlineMs)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statevault.yaml")
	content := `
snapshots:
  max_snapshots: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statevault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0640))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_PathRequiredUnlessInMemory(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = ""
	assert.Error(t, cfg.Validate())

	cfg.Storage.InMemory = true
	assert.NoError(t, cfg.Validate())
}

func TestValidate_PortRange(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}
