// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package syncengine reliably moves pending samples to the remote store.
//
// A sync run reads every pending sample, partitions into batches of at most
// 100, and per batch encrypts, uploads, and marks synced. Each batch walks an
// explicit retry state machine (Attempting(n) -> Succeeded | Exhausted) with
// exponential backoff; one batch exhausting its retries does not abort the
// run.
//
// At most one sync is in progress per engine instance. This is a best-effort
// single-process guarantee: it does not protect against two separate
// processes syncing concurrently, which is tolerated because MarkSynced is
// idempotent and the remote store treats duplicate ids as no-ops.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/metrics"
	"github.com/lifemap-app/lifemap/internal/point"
)

const (
	// MaxBatchSize is the largest number of samples per upload.
	MaxBatchSize = 100

	// maxAttempts is the total upload attempts per batch.
	maxAttempts = 3

	// backoffInitial and backoffMax bound the delay between attempts.
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second

	// DefaultInterval is the periodic auto-sync cadence.
	DefaultInterval = 30 * time.Second
)

// Result summarizes one sync run. A no-op run (offline, or another sync in
// flight) reports Success with zero counts.
type Result struct {
	Success     bool `json:"success"`
	SyncedCount int  `json:"syncedCount"`
	FailedCount int  `json:"failedCount"`
}

// Store is the slice of the local point store the engine needs.
type Store interface {
	QueryUnsynced(ctx context.Context) ([]*point.Sample, error)
	MarkSynced(ctx context.Context, ids []string) error
}

// Encrypter turns samples into wire envelopes.
type Encrypter interface {
	EncryptBatch(samples []*point.Sample) ([]*point.Envelope, error)
}

// Uploader delivers one encrypted batch to the remote store.
type Uploader interface {
	Upload(ctx context.Context, envelopes []*point.Envelope) (*SyncResponse, error)
}

// batchState is the per-batch retry state machine.
type batchState int

const (
	batchAttempting batchState = iota
	batchSucceeded
	batchExhausted
)

// Engine batches, encrypts, and uploads pending samples.
type Engine struct {
	store    Store
	codec    Encrypter
	uploader Uploader

	// online reports current connectivity; offline sync runs are no-ops.
	online func() bool

	// sleep waits between retry attempts; injectable so the retry contract
	// is testable without real delays.
	sleep func(ctx context.Context, d time.Duration) error

	// syncing enforces the single-flight constraint.
	syncing atomic.Bool

	// Periodic loop state, all guarded by mu.
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	stopDone chan struct{}
}

// New creates an Engine. online may be nil, meaning always online.
func New(store Store, codec Encrypter, uploader Uploader, online func() bool) *Engine {
	if online == nil {
		online = func() bool { return true }
	}
	return &Engine{
		store:    store,
		codec:    codec,
		uploader: uploader,
		online:   online,
		sleep:    sleepCtx,
	}
}

// SyncNow uploads all pending samples. It returns immediately with a no-op
// result when a sync is already in progress on this instance or when the
// device is offline; no record changes state in either case.
func (e *Engine) SyncNow(ctx context.Context, ownerID string) (*Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		logging.Debug().Msg("sync already in progress, skipping")
		return &Result{Success: true}, nil
	}
	defer e.syncing.Store(false)

	if !e.online() {
		logging.Debug().Msg("offline, skipping sync")
		return &Result{Success: true}, nil
	}

	start := time.Now()
	defer func() {
		metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}()

	pending, err := e.store.QueryUnsynced(ctx)
	if err != nil {
		return nil, fmt.Errorf("query unsynced: %w", err)
	}

	// Anonymous samples have no key to encrypt under; they stay local until
	// an owner is assigned.
	uploadable := pending[:0:0]
	for _, s := range pending {
		if s.OwnerID != "" {
			uploadable = append(uploadable, s)
		}
	}
	if len(uploadable) == 0 {
		return &Result{Success: true}, nil
	}

	logging.Info().Int("pending", len(uploadable)).Str("owner", ownerID).Msg("sync started")

	result := &Result{}
	for _, batch := range partition(uploadable, MaxBatchSize) {
		if err := ctx.Err(); err != nil {
			result.FailedCount += remaining(uploadable, result)
			break
		}

		state, err := e.processBatch(ctx, batch)
		switch state {
		case batchSucceeded:
			result.SyncedCount += len(batch)
			metrics.SyncedPoints.Add(float64(len(batch)))
		case batchExhausted:
			// The batch's ids remain pending; the run continues.
			result.FailedCount += len(batch)
			metrics.FailedPoints.Add(float64(len(batch)))
			logging.Warn().Err(err).Int("batch_size", len(batch)).Msg("batch exhausted retries")
		}
	}

	result.Success = result.FailedCount == 0
	logging.Info().
		Int("synced", result.SyncedCount).
		Int("failed", result.FailedCount).
		Msg("sync complete")
	return result, nil
}

// processBatch drives one batch through the retry state machine. On success
// exactly the batch's ids are marked synced.
func (e *Engine) processBatch(ctx context.Context, batch []*point.Sample) (batchState, error) {
	envelopes, err := e.codec.EncryptBatch(batch)
	if err != nil {
		return batchExhausted, fmt.Errorf("encrypt batch: %w", err)
	}

	ids := make([]string, len(batch))
	for i, s := range batch {
		ids[i] = s.ID
	}

	schedule := newSchedule()
	state := batchAttempting
	var lastErr error

	for attempt := 1; attempt <= maxAttempts && state == batchAttempting; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, schedule.NextBackOff()); err != nil {
				return batchExhausted, err
			}
		}

		_, err := e.uploader.Upload(ctx, envelopes)
		if err != nil {
			lastErr = err
			metrics.BatchAttempts.WithLabelValues("failure").Inc()
			logging.Warn().Err(err).Int("attempt", attempt).Msg("batch upload failed")
			continue
		}
		metrics.BatchAttempts.WithLabelValues("success").Inc()
		state = batchSucceeded
	}

	if state != batchSucceeded {
		return batchExhausted, lastErr
	}

	if err := e.store.MarkSynced(ctx, ids); err != nil {
		return batchExhausted, fmt.Errorf("mark synced: %w", err)
	}
	return batchSucceeded, nil
}

// Start begins periodic automatic syncs, performing one immediately.
// No-op when already started.
func (e *Engine) Start(ownerID string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.running = true
	e.cancel = cancel
	e.stopDone = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		e.runLoop(ctx, ownerID, interval)
	}()

	logging.Info().Dur("interval", interval).Msg("auto-sync started")
}

// Stop cancels the periodic timer. An in-flight sync is allowed to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.stopDone
	e.cancel = nil
	e.stopDone = nil
	e.mu.Unlock()

	cancel()
	<-done
	logging.Info().Msg("auto-sync stopped")
}

// Syncing reports whether a sync is currently in progress.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// runLoop performs the immediate sync and then ticks at the interval.
// Cancellation stops the timer only: a sync already in flight runs to
// completion under a detached context, so Stop never aborts an upload
// mid-batch.
func (e *Engine) runLoop(ctx context.Context, ownerID string, interval time.Duration) {
	syncCtx := context.WithoutCancel(ctx)
	if _, err := e.SyncNow(syncCtx, ownerID); err != nil {
		logging.Error().Err(err).Msg("periodic sync failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SyncNow(syncCtx, ownerID); err != nil {
				logging.Error().Err(err).Msg("periodic sync failed")
			}
		}
	}
}

// newSchedule builds the deterministic exponential delay sequence:
// 1s, 2s, 4s, ... capped at 30s.
func newSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = backoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// partition splits samples into chunks of at most size.
func partition(samples []*point.Sample, size int) [][]*point.Sample {
	var batches [][]*point.Sample
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		batches = append(batches, samples[start:end])
	}
	return batches
}

// remaining counts samples not yet accounted for in the result.
func remaining(all []*point.Sample, r *Result) int {
	return len(all) - r.SyncedCount - r.FailedCount
}

// sleepCtx waits for d or until ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
