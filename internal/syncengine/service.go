// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/lifemap-app/lifemap/internal/point"
)

// AutoSync adapts the engine's periodic loop to suture.Service so the
// supervisor tree owns its lifecycle.
type AutoSync struct {
	Engine   *Engine
	OwnerID  string
	Interval time.Duration
}

// Serve runs periodic syncs until the context is canceled.
func (a *AutoSync) Serve(ctx context.Context) error {
	interval := a.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	a.Engine.runLoop(ctx, a.OwnerID, interval)
	return ctx.Err()
}

func (a *AutoSync) String() string { return "sync-engine" }

// Downloader pages through the remote point query endpoint and decrypts.
type Downloader struct {
	Client *Client
	Codec  Decrypter
}

// Decrypter turns wire envelopes back into samples.
type Decrypter interface {
	DecryptBatch(envelopes []*point.Envelope, ownerID string) ([]*point.Sample, error)
}

// Download fetches and decrypts every remote sample for an owner in the
// given time window.
func (d *Downloader) Download(ctx context.Context, ownerID string, start, end time.Time) ([]*point.Sample, error) {
	const pageSize = 1000

	var samples []*point.Sample
	offset := 0
	for {
		page, err := d.Client.FetchPoints(ctx, PointsQuery{
			StartDate: start,
			EndDate:   end,
			Limit:     pageSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch points: %w", err)
		}

		decrypted, err := d.Codec.DecryptBatch(page.Points, ownerID)
		if err != nil {
			return nil, err
		}
		samples = append(samples, decrypted...)

		if !page.HasMore {
			return samples, nil
		}
		offset += len(page.Points)
	}
}
