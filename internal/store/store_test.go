// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lifemap-app/lifemap/internal/point"
)

func openTestStore(t *testing.T) *PointStore {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.SyncWrites = false // speed up tests
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func newSample(owner string, ts int64) *point.Sample {
	return &point.Sample{
		ID:                       point.NewID(),
		CapturedAtMs:             ts,
		CalendarDate:             point.CalendarDate(ts),
		Latitude:                 37.5665,
		Longitude:                126.9780,
		HorizontalAccuracyMeters: 20,
		CaptureContext:           point.CaptureForeground,
		SyncState:                point.SyncPending,
		OwnerID:                  owner,
	}
}

func TestInsertAndQueryAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Insert(ctx, newSample("u1", int64(1000+i))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	all, err := s.QueryAll(ctx)
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("got %d samples, want 5", len(all))
	}
}

func TestInsertDuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sample := newSample("u1", 1000)
	if err := s.Insert(ctx, sample); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := s.Insert(ctx, sample); !errors.Is(err, point.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}

	all, err := s.QueryAll(ctx)
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("duplicate insert changed state: %d samples", len(all))
	}
}

func TestQueryByTimeRangeInclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, ts := range []int64{100, 200, 300, 400, 500} {
		if err := s.Insert(ctx, newSample("u1", ts)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	tests := []struct {
		name    string
		startMs int64
		endMs   int64
		want    int
	}{
		{"bounds are inclusive", 200, 400, 3},
		{"exact single", 300, 300, 1},
		{"full range", 0, 1000, 5},
		{"empty range", 600, 700, 0},
		{"start after end", 400, 200, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryByTimeRange(ctx, tt.startMs, tt.endMs)
			if err != nil {
				t.Fatalf("QueryByTimeRange: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d samples, want %d", len(got), tt.want)
			}
		})
	}
}

func TestQueryByDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 15, 12, 0, 0, 0, time.Local).UnixMilli()
	day2 := time.Date(2026, 3, 16, 12, 0, 0, 0, time.Local).UnixMilli()

	for _, ts := range []int64{day1, day1 + 1000, day2} {
		if err := s.Insert(ctx, newSample("u1", ts)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.QueryByDate(ctx, "2026-03-15")
	if err != nil {
		t.Fatalf("QueryByDate: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d samples for 2026-03-15, want 2", len(got))
	}

	got, err = s.QueryByDate(ctx, "2026-01-01")
	if err != nil {
		t.Fatalf("QueryByDate: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d samples for empty date, want 0", len(got))
	}
}

func TestMarkSynced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		sample := newSample("u1", int64(1000+i))
		if err := s.Insert(ctx, sample); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		ids = append(ids, sample.ID)
	}

	if err := s.MarkSynced(ctx, ids[:2]); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	pending, err := s.QueryUnsynced(ctx)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].ID != ids[2] {
		t.Errorf("wrong sample left pending")
	}

	synced, err := s.QueryAll(ctx)
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	for _, sm := range synced {
		if sm.ID == ids[0] || sm.ID == ids[1] {
			if sm.SyncState != point.SyncSynced {
				t.Errorf("sample %s not marked synced", sm.ID)
			}
			if sm.SyncedAtMs == nil {
				t.Errorf("sample %s has nil SyncedAtMs", sm.ID)
			}
		}
	}
}

func TestMarkSyncedIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sample := newSample("u1", 1000)
	if err := s.Insert(ctx, sample); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.MarkSynced(ctx, []string{sample.ID}); err != nil {
		t.Fatalf("first MarkSynced: %v", err)
	}
	// Second call with the same id plus a missing id must not fail.
	if err := s.MarkSynced(ctx, []string{sample.ID, "no-such-id"}); err != nil {
		t.Fatalf("second MarkSynced: %v", err)
	}

	pending, err := s.QueryUnsynced(ctx)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0", len(pending))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, ts := range []int64{100, 200, 300, 400} {
		if err := s.Insert(ctx, newSample("u1", ts)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	deleted, err := s.DeleteOlderThan(ctx, 300)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted %d, want 2", deleted)
	}

	all, err := s.QueryAll(ctx)
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d remaining, want 2", len(all))
	}
	for _, sm := range all {
		if sm.CapturedAtMs < 300 {
			t.Errorf("sample %d survived deletion", sm.CapturedAtMs)
		}
	}
}

func TestClearAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Insert(ctx, newSample("u1", int64(1000+i))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	all, err := s.QueryAll(ctx)
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("got %d samples after ClearAll, want 0", len(all))
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != 0 || stats.PendingCount != 0 {
		t.Errorf("stats not reset: %+v", stats)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats on empty store: %v", err)
	}
	if stats.Count != 0 || stats.OldestMs != 0 || stats.NewestMs != 0 {
		t.Errorf("empty store stats: %+v", stats)
	}

	var ids []string
	for _, ts := range []int64{500, 100, 300} {
		sample := newSample("u1", ts)
		if err := s.Insert(ctx, sample); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		ids = append(ids, sample.ID)
	}
	if err := s.MarkSynced(ctx, ids[:1]); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	stats, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3", stats.Count)
	}
	if stats.OldestMs != 100 || stats.NewestMs != 500 {
		t.Errorf("range = [%d, %d], want [100, 500]", stats.OldestMs, stats.NewestMs)
	}
	if stats.PendingCount != 2 {
		t.Errorf("PendingCount = %d, want 2", stats.PendingCount)
	}
	if stats.EstimatedBytes != 3*200 {
		t.Errorf("EstimatedBytes = %d, want %d", stats.EstimatedBytes, 3*200)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.SyncWrites = false
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := s.Insert(context.Background(), newSample("u1", 1000)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := s.QueryAll(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
