// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package sampler

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/lifemap-app/lifemap/internal/point"
)

// ReplaySource reads readings from a JSON-lines file, one Reading per
// line, emitting them at a fixed cadence. It backs the binary when no
// platform sensor is wired in, and drives end-to-end runs from recorded
// traces.
type ReplaySource struct {
	// Path is the trace file. Named pipes work too, which makes the
	// replay source a crude live feed.
	Path string

	// Interval between emitted readings. Zero means 1s.
	Interval time.Duration

	// Loop restarts from the top of the file when the trace ends.
	Loop bool
}

// traceEntry is one line of a trace file. Timestamps are epoch
// milliseconds; zero means "now at replay time".
type traceEntry struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	AccuracyMeters float64  `json:"accuracy"`
	Altitude       *float64 `json:"altitude,omitempty"`
	Heading        *float64 `json:"heading,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	TimestampMs    int64    `json:"timestamp,omitempty"`
}

func (e traceEntry) reading() Reading {
	r := Reading{
		Latitude:             e.Latitude,
		Longitude:            e.Longitude,
		AccuracyMeters:       e.AccuracyMeters,
		AltitudeMeters:       e.Altitude,
		HeadingDegrees:       e.Heading,
		SpeedMetersPerSecond: e.Speed,
	}
	if e.TimestampMs != 0 {
		r.CapturedAt = time.UnixMilli(e.TimestampMs)
	}
	return r
}

// Watch implements Source. The error channel reports malformed lines and
// file errors; the reading channel closes when the trace is exhausted or
// ctx ends.
func (r *ReplaySource) Watch(ctx context.Context, _ Options) (<-chan Reading, <-chan error, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open trace %s: %s", point.ErrPositionUnavailable, r.Path, err.Error())
	}

	readings := make(chan Reading)
	errs := make(chan error, 1)

	go func() {
		defer close(readings)
		defer close(errs)
		defer f.Close()

		interval := r.Interval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		scanner := bufio.NewScanner(f)
		for {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					sendErr(ctx, errs, fmt.Errorf("%w: read trace: %s", point.ErrPositionUnavailable, err.Error()))
					return
				}
				if !r.Loop {
					return
				}
				if _, err := f.Seek(0, 0); err != nil {
					sendErr(ctx, errs, fmt.Errorf("%w: rewind trace: %s", point.ErrPositionUnavailable, err.Error()))
					return
				}
				scanner = bufio.NewScanner(f)
				continue
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var entry traceEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				if !sendErr(ctx, errs, fmt.Errorf("%w: malformed trace line: %s", point.ErrUnknown, err.Error())) {
					return
				}
				continue
			}
			reading := entry.reading()

			select {
			case readings <- reading:
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return readings, errs, nil
}

// sendErr delivers err unless ctx ends first, so a departed consumer
// never strands the watch goroutine on a full error channel. It reports
// whether the send happened.
func sendErr(ctx context.Context, errs chan<- error, err error) bool {
	select {
	case errs <- err:
		return true
	case <-ctx.Done():
		return false
	}
}

// Current implements Source by returning the first reading of the trace.
func (r *ReplaySource) Current(ctx context.Context, opts Options) (Reading, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readings, errs, err := r.Watch(ctx, opts)
	if err != nil {
		return Reading{}, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOptions().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reading, ok := <-readings:
		if !ok {
			return Reading{}, fmt.Errorf("%w: trace is empty", point.ErrPositionUnavailable)
		}
		return reading, nil
	case err := <-errs:
		return Reading{}, err
	case <-timer.C:
		return Reading{}, point.ErrTimeout
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	}
}
