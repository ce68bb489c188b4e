// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package services adapts the application's long-running components to
// the supervisor's service contract.
package services

import (
	"context"
	"time"

	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/metrics"
	"github.com/lifemap-app/lifemap/internal/store"
)

// Maintenance runs periodic store upkeep: value-log garbage collection
// and, when retention is configured, pruning of old points.
type Maintenance struct {
	Store      *store.PointStore
	GCInterval time.Duration

	// RetentionDays prunes points older than this many days; 0 disables
	// pruning.
	RetentionDays int
}

// Serve implements suture.Service.
func (m *Maintenance) Serve(ctx context.Context) error {
	interval := m.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *Maintenance) runOnce(ctx context.Context) {
	if err := m.Store.RunGC(); err != nil {
		logging.Debug().Err(err).Msg("Value log GC found nothing to collect")
	}

	if m.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -m.RetentionDays).UnixMilli()
		deleted, err := m.Store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			logging.Error().Err(err).Msg("Retention pruning failed")
		} else if deleted > 0 {
			logging.Info().Int("deleted", deleted).Msg("Pruned expired points")
		}
	}

	if stats, err := m.Store.Stats(ctx); err == nil {
		metrics.PendingPoints.Set(float64(stats.PendingCount))
		metrics.StoreSizeBytes.Set(float64(stats.EstimatedBytes))
	}
}

func (m *Maintenance) String() string { return "store-maintenance" }
