// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package coordinator

import (
	"context"
	"time"

	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/point"
)

// MessageType identifies a cross-context message.
type MessageType string

const (
	// MsgSyncNow asks the receiver to run a sync. Reply timeout: 30s.
	MsgSyncNow MessageType = "SYNC_NOW"

	// MsgCaptureLocation asks the receiver to capture one location sample
	// for the given owner. Reply timeout: 10s.
	MsgCaptureLocation MessageType = "CAPTURE_LOCATION"

	// MsgSyncComplete notifies that a sync finished, with its synced count.
	MsgSyncComplete MessageType = "SYNC_COMPLETE"

	// MsgRequestLocationUpdate asks the foreground to capture a location at
	// its convenience. Notification only, no reply.
	MsgRequestLocationUpdate MessageType = "REQUEST_LOCATION_UPDATE"
)

// Message is one typed cross-context message.
type Message struct {
	Type        MessageType `json:"type"`
	OwnerID     string      `json:"ownerId,omitempty"`
	SyncedCount int         `json:"syncedCount,omitempty"`
}

// Response is the reply to a request message.
type Response struct {
	Success     bool   `json:"success"`
	SyncedCount int    `json:"syncedCount,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Request pairs a message with its reply channel.
type Request struct {
	Msg   Message
	reply chan Response
}

// Reply delivers the response. Non-blocking: if the requester already timed
// out and went away, the response is dropped.
func (r *Request) Reply(resp Response) {
	select {
	case r.reply <- resp:
	default:
	}
}

// Bus is an asynchronous request/reply channel between the background and
// foreground execution contexts. Requests carry an explicit timeout; the
// caller gets whichever comes first, the reply or point.ErrTimeout.
type Bus struct {
	requests chan *Request
}

// NewBus creates a bus with a small buffer so senders in either context do
// not block on a momentarily busy receiver.
func NewBus() *Bus {
	return &Bus{requests: make(chan *Request, 16)}
}

// Send delivers a request and waits for its reply or the timeout.
func (b *Bus) Send(ctx context.Context, msg Message, timeout time.Duration) (Response, error) {
	req := &Request{Msg: msg, reply: make(chan Response, 1)}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b.requests <- req:
	case <-timer.C:
		return Response{}, point.ErrTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-timer.C:
		return Response{}, point.ErrTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Notify delivers a message without waiting for a reply. Dropped when the
// receiver's buffer is full; notifications are advisory.
func (b *Bus) Notify(msg Message) {
	req := &Request{Msg: msg, reply: make(chan Response, 1)}
	select {
	case b.requests <- req:
	default:
		logging.Debug().Str("type", string(msg.Type)).Msg("message bus full, notification dropped")
	}
}

// Requests exposes the receive side of the bus.
func (b *Bus) Requests() <-chan *Request {
	return b.requests
}
