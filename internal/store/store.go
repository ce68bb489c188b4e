// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package store provides durable, indexed local persistence for location
// samples on BadgerDB.
//
// The store is the system of record until samples are synced. It keeps one
// primary record per sample plus secondary index keys for timestamp,
// calendar date, pending state, and owner, so every query surface is a
// prefix scan rather than a full-store filter.
//
// Key layout:
//
//	point:<id>                      primary record (JSON)
//	idx:ts:<16-hex-ms>:<id>         capture-time index
//	idx:date:<YYYY-MM-DD>:<id>      calendar-date index
//	idx:pending:<id>                unsynced samples
//	idx:owner:<ownerId>:<id>        owner index
//
// Each exported mutation is one BadgerDB transaction: atomic in itself, but
// a pair of calls is not atomic across the pair. Callers must not assume
// read-modify-write sequences spanning two calls.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/point"
)

const (
	prefixPoint   = "point:"
	prefixTS      = "idx:ts:"
	prefixDate    = "idx:date:"
	prefixPending = "idx:pending:"
	prefixOwner   = "idx:owner:"

	// estimatedBytesPerSample is the constant-factor size approximation used
	// by Stats. Exact byte accounting is not required.
	estimatedBytesPerSample = 200

	// deleteChunkSize bounds how many samples one DeleteOlderThan transaction
	// removes, keeping transactions under BadgerDB's size limits.
	deleteChunkSize = 1000
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("point store is closed")

// Stats describes the current store contents.
type Stats struct {
	// Count is the total number of stored samples.
	Count int64

	// OldestMs and NewestMs are capture timestamps; zero when empty.
	OldestMs int64
	NewestMs int64

	// PendingCount is the number of unsynced samples.
	PendingCount int64

	// EstimatedBytes approximates on-disk size at ~200 bytes per sample.
	EstimatedBytes int64
}

// PointStore is the durable local store for location samples.
type PointStore struct {
	db     *badger.DB
	config Config

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens the store at the configured path.
func Open(cfg Config) (*PointStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open BadgerDB: %s", point.ErrStorage, err.Error())
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("point store opened")

	return &PointStore{db: db, config: cfg}, nil
}

// Insert persists a sample. The write is durable before Insert returns.
// Fails with point.ErrDuplicateID when the id already exists.
func (s *PointStore) Insert(ctx context.Context, sample *point.Sample) error {
	if err := s.guard(); err != nil {
		return err
	}
	if sample == nil || sample.ID == "" {
		return fmt.Errorf("%w: sample id is required", point.ErrStorage)
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("%w: marshal sample: %s", point.ErrStorage, err.Error())
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := pointKey(sample.ID)
		if _, err := txn.Get(key); err == nil {
			return point.ErrDuplicateID
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		for _, idx := range indexKeys(sample) {
			if err := txn.Set(idx, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, point.ErrDuplicateID) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: insert: %s", point.ErrStorage, err.Error())
	}
	return nil
}

// QueryByTimeRange returns all samples with CapturedAtMs in [startMs, endMs].
// Order is not guaranteed; callers sort.
func (s *PointStore) QueryByTimeRange(ctx context.Context, startMs, endMs int64) ([]*point.Sample, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var samples []*point.Sample
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixTS)
		seek := []byte(fmt.Sprintf("%s%016x:", prefixTS, startMs))
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ts, id, ok := parseTSKey(it.Item().Key())
			if !ok {
				continue
			}
			if ts > endMs {
				break
			}
			sample, err := getSample(txn, id)
			if err != nil {
				return err
			}
			samples = append(samples, sample)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: time-range query: %s", point.ErrStorage, err.Error())
	}
	return samples, nil
}

// QueryByDate returns all samples whose CalendarDate equals the argument.
func (s *PointStore) QueryByDate(ctx context.Context, calendarDate string) ([]*point.Sample, error) {
	return s.queryIndex(ctx, prefixDate+calendarDate+":")
}

// QueryAll returns every stored sample. The result is unbounded and may be
// large.
func (s *PointStore) QueryAll(ctx context.Context) ([]*point.Sample, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var samples []*point.Sample
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPoint)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sample point.Sample
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sample)
			})
			if err != nil {
				return err
			}
			samples = append(samples, &sample)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: full scan: %s", point.ErrStorage, err.Error())
	}
	return samples, nil
}

// QueryUnsynced returns all samples still pending upload.
func (s *PointStore) QueryUnsynced(ctx context.Context) ([]*point.Sample, error) {
	return s.queryIndex(ctx, prefixPending)
}

// MarkSynced flips the listed samples to synced with SyncedAtMs = now.
// Idempotent: ids that are missing or already synced are silently skipped.
func (s *PointStore) MarkSynced(ctx context.Context, ids []string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			sample, err := getSample(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if sample.SyncState == point.SyncSynced {
				continue
			}

			sample.SyncState = point.SyncSynced
			syncedAt := now
			sample.SyncedAtMs = &syncedAt

			data, err := json.Marshal(sample)
			if err != nil {
				return err
			}
			if err := txn.Set(pointKey(id), data); err != nil {
				return err
			}
			if err := txn.Delete([]byte(prefixPending + id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: mark synced: %s", point.ErrStorage, err.Error())
	}
	return nil
}

// DeleteOlderThan removes every sample with CapturedAtMs < cutoffMs and
// returns the number deleted. Used by retention cleanup.
func (s *PointStore) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	deleted := 0
	for {
		ids, err := s.collectOlderThan(ctx, cutoffMs, deleteChunkSize)
		if err != nil {
			return deleted, err
		}
		if len(ids) == 0 {
			return deleted, nil
		}

		err = s.db.Update(func(txn *badger.Txn) error {
			for _, id := range ids {
				sample, err := getSample(txn, id)
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if err := txn.Delete(pointKey(id)); err != nil {
					return err
				}
				for _, idx := range indexKeys(sample) {
					if err := txn.Delete(idx); err != nil {
						return err
					}
				}
				deleted++
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("%w: delete older than: %s", point.ErrStorage, err.Error())
		}
		if len(ids) < deleteChunkSize {
			return deleted, nil
		}
	}
}

// ClearAll irreversibly deletes every sample and index entry.
func (s *PointStore) ClearAll(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.db.DropPrefix([]byte(prefixPoint), []byte("idx:")); err != nil {
		return fmt.Errorf("%w: clear all: %s", point.ErrStorage, err.Error())
	}
	return nil
}

// Stats returns counts, time bounds, and an estimated byte size.
func (s *PointStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.guard(); err != nil {
		return Stats{}, err
	}

	var stats Stats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		tsPrefix := []byte(prefixTS)
		for it.Seek(tsPrefix); it.ValidForPrefix(tsPrefix); it.Next() {
			ts, _, ok := parseTSKey(it.Item().Key())
			if !ok {
				continue
			}
			if stats.Count == 0 {
				stats.OldestMs = ts
			}
			stats.NewestMs = ts
			stats.Count++
		}

		pendingPrefix := []byte(prefixPending)
		for it.Seek(pendingPrefix); it.ValidForPrefix(pendingPrefix); it.Next() {
			stats.PendingCount++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %s", point.ErrStorage, err.Error())
	}

	stats.EstimatedBytes = stats.Count * estimatedBytesPerSample
	return stats, nil
}

// RunGC triggers BadgerDB value-log garbage collection until no more
// rewriting is possible. Called periodically by the maintenance service.
func (s *PointStore) RunGC() error {
	if err := s.guard(); err != nil {
		return err
	}
	for {
		err := s.db.RunValueLogGC(s.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: run GC: %s", point.ErrStorage, err.Error())
		}
	}
}

// Close shuts the store down, bounded by the configured CloseTimeout.
func (s *PointStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.config.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("point store closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

// guard returns ErrClosed once Close has begun.
func (s *PointStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// queryIndex fetches the samples referenced by an id-suffixed index prefix.
func (s *PointStore) queryIndex(ctx context.Context, prefix string) ([]*point.Sample, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var samples []*point.Sample
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := string(it.Item().Key()[len(p):])
			sample, err := getSample(txn, id)
			if err != nil {
				return err
			}
			samples = append(samples, sample)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: index query: %s", point.ErrStorage, err.Error())
	}
	return samples, nil
}

// collectOlderThan gathers up to limit ids with a capture time before cutoff.
func (s *PointStore) collectOlderThan(ctx context.Context, cutoffMs int64, limit int) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixTS)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(ids) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ts, id, ok := parseTSKey(it.Item().Key())
			if !ok {
				continue
			}
			if ts >= cutoffMs {
				break
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: collect older than: %s", point.ErrStorage, err.Error())
	}
	return ids, nil
}

// getSample reads and decodes a primary record inside a transaction.
func getSample(txn *badger.Txn, id string) (*point.Sample, error) {
	item, err := txn.Get(pointKey(id))
	if err != nil {
		return nil, err
	}
	var sample point.Sample
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sample)
	})
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// pointKey returns the primary record key for a sample id.
func pointKey(id string) []byte {
	return []byte(prefixPoint + id)
}

// tsKey returns the capture-time index key.
func tsKey(ms int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%016x:%s", prefixTS, ms, id))
}

// parseTSKey extracts the timestamp and id from a capture-time index key.
func parseTSKey(key []byte) (int64, string, bool) {
	rest := key[len(prefixTS):]
	if len(rest) < 17 || rest[16] != ':' {
		return 0, "", false
	}
	ts, err := strconv.ParseInt(string(rest[:16]), 16, 64)
	if err != nil {
		return 0, "", false
	}
	return ts, string(rest[17:]), true
}

// indexKeys lists every secondary index key for a sample.
func indexKeys(sample *point.Sample) [][]byte {
	keys := [][]byte{
		tsKey(sample.CapturedAtMs, sample.ID),
		[]byte(prefixDate + sample.CalendarDate + ":" + sample.ID),
	}
	if sample.SyncState == point.SyncPending {
		keys = append(keys, []byte(prefixPending+sample.ID))
	}
	if sample.OwnerID != "" {
		keys = append(keys, []byte(prefixOwner+sample.OwnerID+":"+sample.ID))
	}
	return keys
}
