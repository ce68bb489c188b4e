// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package sampler acquires device positions continuously, filters them, and
// persists accepted samples to the local point store.
//
// State machine: Idle -> RequestingPermission -> Active -> Idle (stop), with
// Active -> Error -> Idle on an unrecoverable sensor error.
//
// Filtering, applied to every continuous fix in order:
//  1. Accuracy: fixes worse than 100 m are flagged low quality but kept.
//  2. Distance: a fix closer than MinDistanceMeters (haversine) to the last
//     accepted sample is discarded entirely.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/metrics"
	"github.com/lifemap-app/lifemap/internal/point"
)

// State is the sampler lifecycle state.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting-permission"
	StateActive               State = "active"
	StateError                State = "error"
)

// Store is the slice of the local point store the sampler needs.
type Store interface {
	Insert(ctx context.Context, sample *point.Sample) error
}

// Status is a snapshot of tracking state for the UI.
type Status struct {
	Active         bool
	LastUpdate     time.Time
	AccuracyMeters float64
}

// Subscription is a registered listener handle. Unsubscribe is idempotent.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Unsubscribe removes the listener.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Sampler wraps a position Source with filtering and persistence.
// Construct one at startup and pass it by reference; it is safe for
// concurrent use.
type Sampler struct {
	source Source
	store  Store

	mu           sync.Mutex
	state        State
	opts         Options
	ownerID      string
	watchCancel  context.CancelFunc
	watchDone    chan struct{}
	lastAccepted *point.Sample

	listenerMu     sync.Mutex
	nextListenerID int
	posListeners   map[int]func(*point.Sample)
	errListeners   map[int]func(error)
}

// New creates a Sampler over the given source and store.
func New(source Source, store Store) *Sampler {
	return &Sampler{
		source:       source,
		store:        store,
		state:        StateIdle,
		posListeners: make(map[int]func(*point.Sample)),
		errListeners: make(map[int]func(error)),
	}
}

// Start begins continuous tracking. No-op when already active. Fails with
// point.ErrPermissionDenied when location permission is refused.
func (s *Sampler) Start(ctx context.Context, opts Options, ownerID string) error {
	s.mu.Lock()
	if s.state == StateActive || s.state == StateRequestingPermission {
		s.mu.Unlock()
		return nil
	}
	s.state = StateRequestingPermission
	s.opts = opts
	s.ownerID = ownerID
	s.mu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)
	readings, errs, err := s.source.Watch(watchCtx, opts)
	if err != nil {
		cancel()
		s.setState(StateIdle)
		if errors.Is(err, point.ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("start watch: %w", err)
	}

	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateActive
	s.watchCancel = cancel
	s.watchDone = done
	s.lastAccepted = nil
	s.mu.Unlock()

	go s.run(watchCtx, readings, errs, done)

	logging.Info().
		Float64("min_distance_m", opts.MinDistanceMeters).
		Bool("high_accuracy", opts.EnableHighAccuracy).
		Msg("location tracking started")
	return nil
}

// Stop cancels the continuous subscription and returns to Idle. Idempotent
// and safe to call at any time, including mid-delivery.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel := s.watchCancel
	done := s.watchDone
	s.watchCancel = nil
	s.watchDone = nil
	wasActive := s.state == StateActive || s.state == StateError
	s.state = StateIdle
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if wasActive {
		logging.Info().Msg("location tracking stopped")
	}
}

// CaptureOnce acquires and persists a single sample independent of tracking
// state.
func (s *Sampler) CaptureOnce(ctx context.Context, ownerID string) (*point.Sample, error) {
	opts := DefaultOptions()
	reading, err := s.source.Current(ctx, opts)
	if err != nil {
		classified := classify(err)
		metrics.SamplerErrors.WithLabelValues(errClass(classified)).Inc()
		return nil, classified
	}

	sample := s.buildSample(reading, ownerID, s.captureContext())
	if err := s.store.Insert(ctx, sample); err != nil {
		return nil, err
	}
	metrics.PointsCaptured.WithLabelValues(string(sample.CaptureContext)).Inc()
	return sample, nil
}

// State returns the current lifecycle state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether continuous tracking is running.
func (s *Sampler) Active() bool {
	return s.State() == StateActive
}

// Status returns a snapshot for display.
func (s *Sampler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Active: s.state == StateActive}
	if s.lastAccepted != nil {
		st.LastUpdate = time.UnixMilli(s.lastAccepted.CapturedAtMs)
		st.AccuracyMeters = s.lastAccepted.HorizontalAccuracyMeters
	}
	return st
}

// OnPosition registers a listener called for every accepted sample.
func (s *Sampler) OnPosition(fn func(*point.Sample)) *Subscription {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	id := s.nextListenerID
	s.nextListenerID++
	s.posListeners[id] = fn
	return &Subscription{cancel: func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.posListeners, id)
	}}
}

// OnError registers a listener called for every sensor or storage error.
func (s *Sampler) OnError(fn func(error)) *Subscription {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	id := s.nextListenerID
	s.nextListenerID++
	s.errListeners[id] = fn
	return &Subscription{cancel: func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.errListeners, id)
	}}
}

// run consumes the watch channels until they close or the context ends.
func (s *Sampler) run(ctx context.Context, readings <-chan Reading, errs <-chan error, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-readings:
			if !ok {
				return
			}
			s.handleReading(ctx, reading)
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.handleSensorError(err)
		}
	}
}

// handleReading applies the accuracy and distance filters, persists accepted
// samples, and fans out to listeners.
func (s *Sampler) handleReading(ctx context.Context, reading Reading) {
	s.mu.Lock()
	opts := s.opts
	ownerID := s.ownerID
	last := s.lastAccepted
	active := s.state == StateActive
	s.mu.Unlock()
	if !active {
		return
	}

	sample := s.buildSample(reading, ownerID, s.captureContext())

	if last != nil {
		dist := point.HaversineMeters(last.Latitude, last.Longitude, sample.Latitude, sample.Longitude)
		minDist := opts.MinDistanceMeters
		if minDist == 0 {
			minDist = DefaultOptions().MinDistanceMeters
		}
		if dist < minDist {
			metrics.PointsFiltered.Inc()
			return
		}
	}

	if err := s.store.Insert(ctx, sample); err != nil {
		logging.Error().Err(err).Msg("failed to persist location sample")
		s.notifyError(err)
		return
	}

	// Check state after the await: a Stop during Insert discards the result
	// from the sampler's point of view, but the persisted sample stays.
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.lastAccepted = sample
	s.mu.Unlock()

	metrics.PointsCaptured.WithLabelValues(string(sample.CaptureContext)).Inc()
	s.notifyPosition(sample)
}

// handleSensorError maps and fans out a sensor error. Permission and
// availability failures are unrecoverable: the sampler enters Error and then
// Idle, cancelling the subscription.
func (s *Sampler) handleSensorError(err error) {
	classified := classify(err)
	metrics.SamplerErrors.WithLabelValues(errClass(classified)).Inc()
	logging.Warn().Err(classified).Msg("sensor error")
	s.notifyError(classified)

	if errors.Is(classified, point.ErrPermissionDenied) || errors.Is(classified, point.ErrPositionUnavailable) {
		s.mu.Lock()
		s.state = StateError
		cancel := s.watchCancel
		s.watchCancel = nil
		s.watchDone = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.setState(StateIdle)
	}
}

// buildSample materializes a Sample from a raw reading. CalendarDate is
// computed here, once, and never recomputed.
func (s *Sampler) buildSample(reading Reading, ownerID string, captureContext point.CaptureContext) *point.Sample {
	capturedAt := reading.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	ms := capturedAt.UnixMilli()

	return &point.Sample{
		ID:                       point.NewID(),
		CapturedAtMs:             ms,
		CalendarDate:             point.CalendarDate(ms),
		Latitude:                 reading.Latitude,
		Longitude:                reading.Longitude,
		HorizontalAccuracyMeters: reading.AccuracyMeters,
		AltitudeMeters:           reading.AltitudeMeters,
		AltitudeAccuracyMeters:   reading.AltitudeAccuracyMeters,
		HeadingDegrees:           reading.HeadingDegrees,
		SpeedMetersPerSecond:     reading.SpeedMetersPerSecond,
		LowQualityFlag:           reading.AccuracyMeters > point.LowQualityAccuracyMeters,
		CaptureContext:           captureContext,
		SyncState:                point.SyncPending,
		OwnerID:                  ownerID,
	}
}

func (s *Sampler) captureContext() point.CaptureContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.CaptureContext == string(point.CaptureBackground) {
		return point.CaptureBackground
	}
	return point.CaptureForeground
}

func (s *Sampler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Sampler) notifyPosition(sample *point.Sample) {
	s.listenerMu.Lock()
	fns := make([]func(*point.Sample), 0, len(s.posListeners))
	for _, fn := range s.posListeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()
	for _, fn := range fns {
		fn(sample)
	}
}

func (s *Sampler) notifyError(err error) {
	s.listenerMu.Lock()
	fns := make([]func(error), 0, len(s.errListeners))
	for _, fn := range s.errListeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// classify maps an arbitrary sensor failure onto the shared error taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, point.ErrPermissionDenied),
		errors.Is(err, point.ErrPositionUnavailable),
		errors.Is(err, point.ErrTimeout),
		errors.Is(err, point.ErrStorage):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", point.ErrTimeout, err.Error())
	default:
		return fmt.Errorf("%w: %s", point.ErrUnknown, err.Error())
	}
}

// errClass returns the metrics label for a classified error.
func errClass(err error) string {
	switch {
	case errors.Is(err, point.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, point.ErrPositionUnavailable):
		return "position_unavailable"
	case errors.Is(err, point.ErrTimeout):
		return "timeout"
	case errors.Is(err, point.ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}
