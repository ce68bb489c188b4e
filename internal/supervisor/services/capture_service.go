// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/lifemap-app/lifemap/internal/point"
	"github.com/lifemap-app/lifemap/internal/sampler"
)

// Capture runs continuous location capture for one owner. Permission
// denial is terminal: restarting cannot grant permission, so the service
// removes itself from the supervisor instead of crash-looping.
type Capture struct {
	Sampler *sampler.Sampler
	Options sampler.Options
	OwnerID string
}

// Serve implements suture.Service.
func (c *Capture) Serve(ctx context.Context) error {
	if err := c.Sampler.Start(ctx, c.Options, c.OwnerID); err != nil {
		if errors.Is(err, point.ErrPermissionDenied) {
			return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
		}
		return err
	}
	<-ctx.Done()
	c.Sampler.Stop()
	return ctx.Err()
}

func (c *Capture) String() string { return "location-capture" }
