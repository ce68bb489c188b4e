// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lifemap-app/lifemap/internal/point"
)

// fakeSource is a scriptable Source backed by unbuffered channels.
type fakeSource struct {
	readings chan Reading
	errs     chan error

	watchErr   error
	currentFix Reading
	currentErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		readings: make(chan Reading, 16),
		errs:     make(chan error, 16),
	}
}

func (f *fakeSource) Watch(ctx context.Context, _ Options) (<-chan Reading, <-chan error, error) {
	if f.watchErr != nil {
		return nil, nil, f.watchErr
	}
	return f.readings, f.errs, nil
}

func (f *fakeSource) Current(_ context.Context, _ Options) (Reading, error) {
	if f.currentErr != nil {
		return Reading{}, f.currentErr
	}
	return f.currentFix, nil
}

// memStore collects inserted samples.
type memStore struct {
	mu        sync.Mutex
	samples   []*point.Sample
	insertErr error
}

func (m *memStore) Insert(_ context.Context, sample *point.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.samples = append(m.samples, sample)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func (m *memStore) last() *point.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return nil
	}
	return m.samples[len(m.samples)-1]
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartStop(t *testing.T) {
	src := newFakeSource()
	store := &memStore{}
	s := New(src, store)

	if s.State() != StateIdle {
		t.Fatalf("initial state = %s, want idle", s.State())
	}
	if err := s.Start(context.Background(), DefaultOptions(), "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Active() {
		t.Error("sampler not active after Start")
	}

	// Second Start is a no-op.
	if err := s.Start(context.Background(), DefaultOptions(), "u1"); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	s.Stop()
	if s.State() != StateIdle {
		t.Errorf("state after Stop = %s, want idle", s.State())
	}
	// Stop is idempotent.
	s.Stop()
}

func TestStartPermissionDenied(t *testing.T) {
	src := newFakeSource()
	src.watchErr = point.ErrPermissionDenied
	s := New(src, &memStore{})

	err := s.Start(context.Background(), DefaultOptions(), "u1")
	if !errors.Is(err, point.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestAcceptedReadingPersistedAndNotified(t *testing.T) {
	src := newFakeSource()
	store := &memStore{}
	s := New(src, store)

	var notified []*point.Sample
	var mu sync.Mutex
	sub := s.OnPosition(func(sample *point.Sample) {
		mu.Lock()
		notified = append(notified, sample)
		mu.Unlock()
	})
	defer sub.Unsubscribe()

	if err := s.Start(context.Background(), DefaultOptions(), "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	src.readings <- Reading{Latitude: 37.5665, Longitude: 126.9780, AccuracyMeters: 20}
	waitFor(t, func() bool { return store.count() == 1 }, "sample not persisted")

	sample := store.last()
	if sample.OwnerID != "u1" {
		t.Errorf("OwnerID = %q, want u1", sample.OwnerID)
	}
	if sample.SyncState != point.SyncPending {
		t.Errorf("SyncState = %q, want pending", sample.SyncState)
	}
	if sample.LowQualityFlag {
		t.Error("accurate reading flagged low quality")
	}
	if sample.CalendarDate == "" {
		t.Error("CalendarDate not set")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notified) == 1
	}, "position listener not notified")
}

func TestLowAccuracyFlaggedButKept(t *testing.T) {
	src := newFakeSource()
	store := &memStore{}
	s := New(src, store)

	if err := s.Start(context.Background(), DefaultOptions(), "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	src.readings <- Reading{Latitude: 37.5665, Longitude: 126.9780, AccuracyMeters: 150}
	waitFor(t, func() bool { return store.count() == 1 }, "low-accuracy sample not persisted")

	if !store.last().LowQualityFlag {
		t.Error("accuracy 150m not flagged low quality")
	}
}

func TestDistanceFilter(t *testing.T) {
	src := newFakeSource()
	store := &memStore{}
	s := New(src, store)

	if err := s.Start(context.Background(), DefaultOptions(), "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	src.readings <- Reading{Latitude: 37.566500, Longitude: 126.978000, AccuracyMeters: 20}
	waitFor(t, func() bool { return store.count() == 1 }, "first sample not persisted")

	// ~5 m north: below the 10 m threshold, dropped.
	src.readings <- Reading{Latitude: 37.566545, Longitude: 126.978000, AccuracyMeters: 20}
	// ~15 m north of the first accepted sample: accepted.
	src.readings <- Reading{Latitude: 37.566635, Longitude: 126.978000, AccuracyMeters: 20}

	waitFor(t, func() bool { return store.count() == 2 }, "second accepted sample not persisted")
	time.Sleep(50 * time.Millisecond)
	if store.count() != 2 {
		t.Errorf("got %d samples, want 2 (5m step must be dropped)", store.count())
	}
}

func TestUnrecoverableSensorError(t *testing.T) {
	src := newFakeSource()
	s := New(src, &memStore{})

	var gotErr error
	var mu sync.Mutex
	sub := s.OnError(func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	})
	defer sub.Unsubscribe()

	if err := s.Start(context.Background(), DefaultOptions(), "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.errs <- point.ErrPositionUnavailable
	waitFor(t, func() bool { return s.State() == StateIdle }, "sampler did not return to idle")

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(gotErr, point.ErrPositionUnavailable) {
		t.Errorf("listener got %v, want ErrPositionUnavailable", gotErr)
	}
}

func TestCaptureOnce(t *testing.T) {
	src := newFakeSource()
	src.currentFix = Reading{Latitude: 35.1796, Longitude: 129.0756, AccuracyMeters: 30}
	store := &memStore{}
	s := New(src, store)

	sample, err := s.CaptureOnce(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CaptureOnce: %v", err)
	}
	if sample.Latitude != 35.1796 {
		t.Errorf("Latitude = %f, want 35.1796", sample.Latitude)
	}
	if store.count() != 1 {
		t.Errorf("store has %d samples, want 1", store.count())
	}
	if s.State() != StateIdle {
		t.Errorf("CaptureOnce changed state to %s", s.State())
	}
}

func TestCaptureOnceTimeout(t *testing.T) {
	src := newFakeSource()
	src.currentErr = context.DeadlineExceeded
	s := New(src, &memStore{})

	if _, err := s.CaptureOnce(context.Background(), "u1"); !errors.Is(err, point.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	src := newFakeSource()
	store := &memStore{}
	s := New(src, store)

	var calls int
	var mu sync.Mutex
	sub := s.OnPosition(func(*point.Sample) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	if err := s.Start(context.Background(), DefaultOptions(), "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	src.readings <- Reading{Latitude: 37.5665, Longitude: 126.9780, AccuracyMeters: 20}
	waitFor(t, func() bool { return store.count() == 1 }, "sample not persisted")

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	// Move far enough to pass the distance filter.
	src.readings <- Reading{Latitude: 37.5700, Longitude: 126.9780, AccuracyMeters: 20}
	waitFor(t, func() bool { return store.count() == 2 }, "second sample not persisted")

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("listener called %d times after unsubscribe, want 1", calls)
	}
}
