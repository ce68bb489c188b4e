// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/lifemap-app/lifemap/internal/point"
)

func openTestEnvelopeStore(t *testing.T) *EnvelopeStore {
	t.Helper()
	s, err := OpenEnvelopeStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenEnvelopeStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func newEnvelope(owner string, ts int64) *point.Envelope {
	return &point.Envelope{
		ID:           point.NewID(),
		OwnerID:      owner,
		CipherText:   "Y2lwaGVydGV4dA==",
		IV:           "aXZpdml2aXZpdg==",
		CapturedAtMs: ts,
	}
}

func TestEnvelopePutAndQuery(t *testing.T) {
	s := openTestEnvelopeStore(t)
	ctx := context.Background()

	for _, ts := range []int64{100, 200, 300} {
		stored, err := s.Put(ctx, newEnvelope("u1", ts))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if !stored {
			t.Error("fresh envelope reported as duplicate")
		}
	}

	page, err := s.QueryByOwner(ctx, "u1", EnvelopeQuery{Limit: 10})
	if err != nil {
		t.Fatalf("QueryByOwner: %v", err)
	}
	if page.TotalCount != 3 || len(page.Points) != 3 {
		t.Errorf("got %d/%d, want 3/3", len(page.Points), page.TotalCount)
	}
	if page.HasMore {
		t.Error("HasMore set on complete page")
	}
	// Keys embed capture time, so pages come back time-ordered.
	for i := 1; i < len(page.Points); i++ {
		if page.Points[i].CapturedAtMs < page.Points[i-1].CapturedAtMs {
			t.Error("page not ordered by capture time")
		}
	}
}

func TestEnvelopePutDuplicateIsNoOp(t *testing.T) {
	s := openTestEnvelopeStore(t)
	ctx := context.Background()

	env := newEnvelope("u1", 100)
	if _, err := s.Put(ctx, env); err != nil {
		t.Fatalf("Put: %v", err)
	}

	stored, err := s.Put(ctx, env)
	if err != nil {
		t.Fatalf("duplicate Put: %v", err)
	}
	if stored {
		t.Error("duplicate Put reported as stored")
	}

	page, err := s.QueryByOwner(ctx, "u1", EnvelopeQuery{Limit: 10})
	if err != nil {
		t.Fatalf("QueryByOwner: %v", err)
	}
	if page.TotalCount != 1 {
		t.Errorf("TotalCount = %d, want 1", page.TotalCount)
	}
}

func TestEnvelopeOwnerIsolation(t *testing.T) {
	s := openTestEnvelopeStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, newEnvelope("u1", 100)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Put(ctx, newEnvelope("u2", 100)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	page, err := s.QueryByOwner(ctx, "u1", EnvelopeQuery{Limit: 10})
	if err != nil {
		t.Fatalf("QueryByOwner: %v", err)
	}
	if page.TotalCount != 1 {
		t.Errorf("owner u1 sees %d envelopes, want 1", page.TotalCount)
	}
	for _, env := range page.Points {
		if env.OwnerID != "u1" {
			t.Errorf("cross-owner envelope leaked: %s", env.OwnerID)
		}
	}
}

func TestEnvelopeTimeRangeFilter(t *testing.T) {
	s := openTestEnvelopeStore(t)
	ctx := context.Background()

	for _, ts := range []int64{100, 200, 300, 400} {
		if _, err := s.Put(ctx, newEnvelope("u1", ts)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	page, err := s.QueryByOwner(ctx, "u1", EnvelopeQuery{StartMs: 200, EndMs: 300, Limit: 10})
	if err != nil {
		t.Fatalf("QueryByOwner: %v", err)
	}
	if page.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", page.TotalCount)
	}
}

func TestEnvelopePaging(t *testing.T) {
	s := openTestEnvelopeStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if _, err := s.Put(ctx, newEnvelope("u1", int64(1000+i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	seen := make(map[string]bool)
	offset := 0
	for pageNum := 0; ; pageNum++ {
		if pageNum > 10 {
			t.Fatal("paging did not terminate")
		}
		page, err := s.QueryByOwner(ctx, "u1", EnvelopeQuery{Limit: 10, Offset: offset})
		if err != nil {
			t.Fatalf("QueryByOwner: %v", err)
		}
		if page.TotalCount != 25 {
			t.Fatalf("TotalCount = %d, want 25", page.TotalCount)
		}
		for _, env := range page.Points {
			if seen[env.ID] {
				t.Fatalf("envelope %s appeared on two pages", env.ID)
			}
			seen[env.ID] = true
		}
		offset += len(page.Points)
		if !page.HasMore {
			break
		}
	}
	if len(seen) != 25 {
		t.Errorf("paged through %d envelopes, want 25", len(seen))
	}
}

func TestEnvelopeQueryEmptyOwner(t *testing.T) {
	s := openTestEnvelopeStore(t)

	page, err := s.QueryByOwner(context.Background(), "nobody", EnvelopeQuery{Limit: 10})
	if err != nil {
		t.Fatalf("QueryByOwner: %v", err)
	}
	if page.TotalCount != 0 || len(page.Points) != 0 {
		t.Errorf("expected empty page, got %+v", page)
	}
}

func BenchmarkEnvelopePut(b *testing.B) {
	s, err := OpenEnvelopeStore(b.TempDir())
	if err != nil {
		b.Fatalf("OpenEnvelopeStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		env := newEnvelope("bench", int64(i))
		env.ID = fmt.Sprintf("bench-%d", i)
		if _, err := s.Put(ctx, env); err != nil {
			b.Fatal(err)
		}
	}
}
