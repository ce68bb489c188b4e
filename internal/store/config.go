// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package store

import (
	"errors"
	"time"
)

// Config holds BadgerDB tuning for the local point store.
type Config struct {
	// Path is the directory for the BadgerDB database.
	Path string

	// SyncWrites enables fsync on every write. Inserts must be durable
	// before they return, so production keeps this on; tests turn it off.
	SyncWrites bool

	// MemTableSize is the BadgerDB memtable size in bytes.
	MemTableSize int64

	// ValueLogFileSize is the BadgerDB value log file size in bytes.
	ValueLogFileSize int64

	// NumCompactors is the number of BadgerDB compaction workers (minimum 2).
	NumCompactors int

	// GCRatio is the value-log GC rewrite threshold.
	GCRatio float64

	// GCInterval is how often the maintenance service runs value-log GC.
	GCInterval time.Duration

	// CloseTimeout bounds how long Close waits for BadgerDB shutdown.
	CloseTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		SyncWrites:       true,
		MemTableSize:     64 << 20,
		ValueLogFileSize: 256 << 20,
		NumCompactors:    2,
		GCRatio:          0.5,
		GCInterval:       10 * time.Minute,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("store path is required")
	}
	if c.NumCompactors < 2 {
		return errors.New("store requires at least 2 compactors")
	}
	if c.MemTableSize <= 0 || c.ValueLogFileSize <= 0 {
		return errors.New("store sizes must be positive")
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return errors.New("store GC ratio must be in (0, 1)")
	}
	return nil
}
