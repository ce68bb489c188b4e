// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/point"
)

const (
	prefixEnv   = "env:"
	prefixEnvID = "envid:"
)

// EnvelopeQuery narrows an owner's envelope listing.
type EnvelopeQuery struct {
	// StartMs and EndMs bound CapturedAtMs inclusively; zero EndMs means
	// unbounded.
	StartMs int64
	EndMs   int64

	// Limit caps the page size; Offset skips preceding envelopes.
	Limit  int
	Offset int
}

// EnvelopePage is one page of an owner's envelopes.
type EnvelopePage struct {
	Points     []*point.Envelope `json:"points"`
	TotalCount int               `json:"totalCount"`
	HasMore    bool              `json:"hasMore"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// EnvelopeStore is the remote-side persistence for encrypted envelopes.
// It never decrypts; all filtering uses the cleartext envelope fields.
//
// Envelope keys embed owner and capture time so an owner's listing is a
// single ordered prefix scan:
//
//	env:<ownerId>:<16-hex-ms>:<id>    envelope record (JSON)
//	envid:<ownerId>:<id>              duplicate-upload guard
type EnvelopeStore struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// OpenEnvelopeStore creates or opens the envelope store at path.
func OpenEnvelopeStore(path string) (*EnvelopeStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open envelope store: %s", point.ErrStorage, err.Error())
	}

	logging.Info().Str("path", path).Msg("envelope store opened")
	return &EnvelopeStore{db: db}, nil
}

// Put persists an envelope. Re-uploading an existing id is a no-op (returns
// false); this is what makes cross-tab sync races harmless.
func (s *EnvelopeStore) Put(ctx context.Context, env *point.Envelope) (bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false, ErrClosed
	}
	s.mu.RUnlock()

	data, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("%w: marshal envelope: %s", point.ErrStorage, err.Error())
	}

	stored := false
	err = s.db.Update(func(txn *badger.Txn) error {
		guard := []byte(prefixEnvID + env.OwnerID + ":" + env.ID)
		if _, err := txn.Get(guard); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		key := []byte(fmt.Sprintf("%s%s:%016x:%s", prefixEnv, env.OwnerID, env.CapturedAtMs, env.ID))
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(guard, nil); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: put envelope: %s", point.ErrStorage, err.Error())
	}
	return stored, nil
}

// QueryByOwner returns a time-ordered page of an owner's envelopes along with
// the total match count.
func (s *EnvelopeStore) QueryByOwner(ctx context.Context, ownerID string, q EnvelopeQuery) (*EnvelopePage, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	page := &EnvelopePage{
		Points: []*point.Envelope{},
		Limit:  q.Limit,
		Offset: q.Offset,
	}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixEnv + ownerID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var env point.Envelope
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			})
			if err != nil {
				return err
			}

			if env.CapturedAtMs < q.StartMs {
				continue
			}
			if q.EndMs > 0 && env.CapturedAtMs > q.EndMs {
				break
			}

			if page.TotalCount >= q.Offset && len(page.Points) < q.Limit {
				page.Points = append(page.Points, &env)
			}
			page.TotalCount++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query envelopes: %s", point.ErrStorage, err.Error())
	}

	page.HasMore = q.Offset+len(page.Points) < page.TotalCount
	return page, nil
}

// Close shuts the envelope store down.
func (s *EnvelopeStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		return errors.New("envelope store close timeout")
	}
}
