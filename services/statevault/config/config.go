// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the StateVault configuration file and exposes the
// recognized tunables with their defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full StateVault configuration.
type Config struct {
	Storage   StorageConfig  `yaml:"storage"`
	Snapshots SnapshotConfig `yaml:"snapshots"`
	Documents DocumentConfig `yaml:"documents"`
	Server    ServerConfig   `yaml:"server"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// StorageConfig configures the persistence medium.
type StorageConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string `yaml:"path"`

	// InMemory disables disk persistence. Testing only.
	InMemory bool `yaml:"in_memory"`

	// CapacityBytes is the medium byte budget. Zero disables quota
	// enforcement.
	CapacityBytes int64 `yaml:"capacity_bytes" validate:"gte=0"`
}

// SnapshotConfig configures the rollback system.
type SnapshotConfig struct {
	// MaxSnapshots bounds the retained snapshot list.
	MaxSnapshots int `yaml:"max_snapshots" validate:"gt=0"`

	// AutoRollbackDeadlineMs is the watchdog deadline in milliseconds.
	AutoRollbackDeadlineMs int64 `yaml:"auto_rollback_deadline_ms" validate:"gt=0"`
}

// AutoRollbackDeadline returns the deadline as a duration.
func (c SnapshotConfig) AutoRollbackDeadline() time.Duration {
	return time.Duration(c.AutoRollbackDeadlineMs) * time.Millisecond
}

// DocumentConfig configures the session document store.
type DocumentConfig struct {
	// MaxDocuments is the soft bound on stored document count.
	MaxDocuments int `yaml:"max_documents" validate:"gt=0"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables JSON file logging to the given directory when set.
	// Supports a leading ~ for home directory expansion.
	Dir string `yaml:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Port to listen on.
	Port int `yaml:"port" validate:"gt=0,lte=65535"`

	// RatePerSecond limits mutating requests. Zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
}

// Default returns the configuration defaults.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Storage: StorageConfig{
			Path:          filepath.Join(home, ".statevault", "db"),
			CapacityBytes: 64 << 20,
		},
		Snapshots: SnapshotConfig{
			MaxSnapshots:           10,
			AutoRollbackDeadlineMs: 300000,
		},
		Documents: DocumentConfig{
			MaxDocuments: 100,
		},
		Server: ServerConfig{
			Port:          8080,
			RatePerSecond: 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".statevault", "statevault.yaml"), nil
}

// Load reads the configuration from path, creating a default file on
// first run. An empty path uses DefaultPath(). Values absent from the
// file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return cfg, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return cfg, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("invalid config: storage.path is required unless storage.in_memory is set")
	}
	return nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}
