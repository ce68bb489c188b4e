// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package sampler

import (
	"context"
	"time"
)

// Reading is one raw fix from the platform's location capability, before any
// filtering. Optional fields are nil when the platform did not report them.
type Reading struct {
	Latitude  float64
	Longitude float64

	AccuracyMeters float64

	AltitudeMeters         *float64
	AltitudeAccuracyMeters *float64
	HeadingDegrees         *float64
	SpeedMetersPerSecond   *float64

	// CapturedAt is when the fix was taken; the zero value means "now".
	CapturedAt time.Time
}

// Options constrain how the platform acquires positions.
type Options struct {
	// EnableHighAccuracy requests the most precise fix available.
	EnableHighAccuracy bool

	// Timeout bounds a single acquisition.
	Timeout time.Duration

	// MaxSampleAge is the oldest cached fix the platform may return.
	MaxSampleAge time.Duration

	// MinDistanceMeters is the distance filter threshold: a new fix closer
	// than this to the last accepted sample is discarded.
	MinDistanceMeters float64

	// CaptureContext labels the samples this sampler produces.
	CaptureContext string
}

// DefaultOptions returns the standard tracking options.
func DefaultOptions() Options {
	return Options{
		EnableHighAccuracy: true,
		Timeout:            10 * time.Second,
		MaxSampleAge:       0,
		MinDistanceMeters:  10,
	}
}

// Source abstracts the platform's continuous-location capability. It is
// injected into the Sampler so tests and alternative platforms can supply
// their own implementation.
//
// Watch requests permission and begins continuous sampling. It returns a
// readings channel and an errors channel; both are closed when ctx is
// canceled. A permission refusal surfaces as point.ErrPermissionDenied from
// Watch itself, before any channel traffic.
type Source interface {
	Watch(ctx context.Context, opts Options) (<-chan Reading, <-chan error, error)

	// Current acquires a single fix independent of any watch.
	Current(ctx context.Context, opts Options) (Reading, error)
}
