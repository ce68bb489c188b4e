// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package coordinator keeps sync and capture alive when the foreground page
// is not the active driver.
//
// The coordinator runs in its own supervised execution context and reacts to
// wake signals: page hidden, network online, page closing, a periodic
// unsynced-count threshold check, and a coarse host-scheduled periodic wake.
// It holds no state between wakes beyond the owner id loaded from its
// configuration; every handler reloads what it needs from durable storage.
//
// Every trigger handler catches and logs its error. A failed background sync
// never crashes the coordinator or blocks subsequent triggers.
package coordinator

import (
	"context"
	"time"

	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/metrics"
	"github.com/lifemap-app/lifemap/internal/point"
	"github.com/lifemap-app/lifemap/internal/syncengine"
)

// Trigger identifies a wake signal class.
type Trigger string

const (
	TriggerPageHidden   Trigger = "page-hidden"
	TriggerOnline       Trigger = "online"
	TriggerPageClosing  Trigger = "page-closing"
	TriggerPeriodicWake Trigger = "periodic-wake"
	TriggerThreshold    Trigger = "threshold"
)

const (
	// beaconLimit caps how many pending samples a page-close beacon carries.
	beaconLimit = 100

	// syncReplyTimeout and captureReplyTimeout bound cross-context
	// round-trips.
	syncReplyTimeout    = 30 * time.Second
	captureReplyTimeout = 10 * time.Second
)

// Syncer triggers sync runs.
type Syncer interface {
	SyncNow(ctx context.Context, ownerID string) (*syncengine.Result, error)
}

// Store is the slice of the local point store the coordinator needs.
type Store interface {
	QueryUnsynced(ctx context.Context) ([]*point.Sample, error)
}

// Encrypter prepares beacon payloads.
type Encrypter interface {
	EncryptBatch(samples []*point.Sample) ([]*point.Envelope, error)
}

// Beaconer delivers a payload best-effort; the request may outlive the page.
type Beaconer interface {
	Beacon(envelopes []*point.Envelope)
}

// Config tunes the coordinator's trigger schedule.
type Config struct {
	// OwnerID scopes syncs and captures. Reloaded from durable config at
	// each Serve start, never assumed to survive between wakes.
	OwnerID string

	// ThresholdCount triggers a sync when pending samples reach it.
	// Default: 50.
	ThresholdCount int

	// ThresholdInterval is the pending-count check cadence. Default: 60s.
	ThresholdInterval time.Duration

	// WakeInterval is the coarse periodic wake cadence. Hosts enforce a
	// floor; default and minimum: 15 minutes.
	WakeInterval time.Duration
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.ThresholdCount <= 0 {
		c.ThresholdCount = 50
	}
	if c.ThresholdInterval <= 0 {
		c.ThresholdInterval = time.Minute
	}
	if c.WakeInterval < 15*time.Minute {
		c.WakeInterval = 15 * time.Minute
	}
	return c
}

// Coordinator supervises background sync and capture.
type Coordinator struct {
	cfg    Config
	engine Syncer
	store  Store
	codec  Encrypter
	beacon Beaconer

	// foreground carries requests to the page (capture, notifications).
	foreground *Bus

	// inbox carries requests from the page and host wake events.
	inbox *Bus

	wakes chan Trigger
}

// New creates a Coordinator.
func New(cfg Config, engine Syncer, store Store, codec Encrypter, beacon Beaconer, foreground, inbox *Bus) *Coordinator {
	return &Coordinator{
		cfg:        cfg.withDefaults(),
		engine:     engine,
		store:      store,
		codec:      codec,
		beacon:     beacon,
		foreground: foreground,
		inbox:      inbox,
		wakes:      make(chan Trigger, 16),
	}
}

// Wake enqueues a wake signal. Non-blocking: when the queue is full the
// signal is dropped, which is safe because every trigger is a superset of a
// later retry (syncs are cumulative).
func (c *Coordinator) Wake(t Trigger) {
	select {
	case c.wakes <- t:
	default:
		logging.Debug().Str("trigger", string(t)).Msg("wake queue full, signal dropped")
	}
}

// Serve is the coordinator main loop; it implements suture.Service.
func (c *Coordinator) Serve(ctx context.Context) error {
	thresholdTicker := time.NewTicker(c.cfg.ThresholdInterval)
	defer thresholdTicker.Stop()
	wakeTicker := time.NewTicker(c.cfg.WakeInterval)
	defer wakeTicker.Stop()

	logging.Info().
		Int("threshold", c.cfg.ThresholdCount).
		Dur("wake_interval", c.cfg.WakeInterval).
		Msg("background coordinator started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-c.wakes:
			c.dispatch(ctx, t)
		case <-thresholdTicker.C:
			c.dispatch(ctx, TriggerThreshold)
		case <-wakeTicker.C:
			c.dispatch(ctx, TriggerPeriodicWake)
		case req := <-c.inbox.Requests():
			c.handleRequest(ctx, req)
		}
	}
}

func (c *Coordinator) String() string { return "background-coordinator" }

// dispatch routes a trigger to its handler, isolating failures.
func (c *Coordinator) dispatch(ctx context.Context, t Trigger) {
	metrics.CoordinatorWakes.WithLabelValues(string(t)).Inc()

	var err error
	switch t {
	case TriggerPageHidden, TriggerOnline:
		err = c.syncQuietly(ctx, t)
	case TriggerPageClosing:
		err = c.beaconPending(ctx)
	case TriggerThreshold:
		err = c.checkThreshold(ctx)
	case TriggerPeriodicWake:
		err = c.periodicWake(ctx)
	}
	if err != nil {
		logging.Error().Err(err).Str("trigger", string(t)).Msg("background trigger failed")
	}
}

// handleRequest serves one cross-context request, isolating failures.
func (c *Coordinator) handleRequest(ctx context.Context, req *Request) {
	switch req.Msg.Type {
	case MsgSyncNow:
		result, err := c.engine.SyncNow(ctx, c.ownerID(req.Msg))
		if err != nil {
			logging.Error().Err(err).Msg("requested sync failed")
			req.Reply(Response{Success: false, Error: err.Error()})
			return
		}
		req.Reply(Response{Success: result.Success, SyncedCount: result.SyncedCount})

	case MsgCaptureLocation:
		// The background context has no sensor access; relay to the page.
		// Relayed off the main loop: waiting out the reply timeout here
		// would stall every other trigger.
		go func() {
			resp, err := c.foreground.Send(ctx, Message{
				Type:    MsgCaptureLocation,
				OwnerID: c.ownerID(req.Msg),
			}, captureReplyTimeout)
			if err != nil {
				logging.Warn().Err(err).Msg("capture relay failed")
				req.Reply(Response{Success: false, Error: err.Error()})
				return
			}
			req.Reply(resp)
		}()

	default:
		logging.Warn().Str("type", string(req.Msg.Type)).Msg("unhandled message type")
		req.Reply(Response{Success: false, Error: "unhandled message type"})
	}
}

// syncQuietly runs a sync and notifies the foreground of the outcome.
func (c *Coordinator) syncQuietly(ctx context.Context, t Trigger) error {
	syncCtx, cancel := context.WithTimeout(ctx, syncReplyTimeout)
	defer cancel()

	result, err := c.engine.SyncNow(syncCtx, c.cfg.OwnerID)
	if err != nil {
		return err
	}
	if result.SyncedCount > 0 {
		c.foreground.Notify(Message{Type: MsgSyncComplete, SyncedCount: result.SyncedCount})
	}
	logging.Debug().
		Str("trigger", string(t)).
		Int("synced", result.SyncedCount).
		Msg("background sync finished")
	return nil
}

// beaconPending fires up to beaconLimit pending samples at the sync endpoint
// without waiting: page close gives no time for a normal request cycle.
func (c *Coordinator) beaconPending(ctx context.Context) error {
	pending, err := c.store.QueryUnsynced(ctx)
	if err != nil {
		return err
	}

	uploadable := pending[:0:0]
	for _, s := range pending {
		if s.OwnerID != "" {
			uploadable = append(uploadable, s)
		}
	}
	if len(uploadable) == 0 {
		return nil
	}
	if len(uploadable) > beaconLimit {
		uploadable = uploadable[:beaconLimit]
	}

	envelopes, err := c.codec.EncryptBatch(uploadable)
	if err != nil {
		return err
	}
	c.beacon.Beacon(envelopes)
	logging.Debug().Int("points", len(envelopes)).Msg("page-close beacon dispatched")
	return nil
}

// checkThreshold syncs when the pending count reaches the threshold.
func (c *Coordinator) checkThreshold(ctx context.Context) error {
	pending, err := c.store.QueryUnsynced(ctx)
	if err != nil {
		return err
	}
	metrics.PendingPoints.Set(float64(len(pending)))

	if len(pending) < c.cfg.ThresholdCount {
		return nil
	}
	logging.Info().Int("pending", len(pending)).Msg("unsynced threshold reached")
	return c.syncQuietly(ctx, TriggerThreshold)
}

// periodicWake asks the foreground for a fresh capture, then syncs. The
// capture request is fire-and-forget: the page may simply be closed, and
// the sync runs either way.
func (c *Coordinator) periodicWake(ctx context.Context) error {
	c.foreground.Notify(Message{
		Type:    MsgRequestLocationUpdate,
		OwnerID: c.cfg.OwnerID,
	})
	return c.syncQuietly(ctx, TriggerPeriodicWake)
}

// ownerID prefers the message's owner, falling back to configuration.
func (c *Coordinator) ownerID(msg Message) string {
	if msg.OwnerID != "" {
		return msg.OwnerID
	}
	return c.cfg.OwnerID
}
