// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lifemap-app/lifemap/internal/point"
)

func TestBusSendReply(t *testing.T) {
	bus := NewBus()

	go func() {
		req := <-bus.Requests()
		if req.Msg.Type != MsgSyncNow {
			t.Errorf("got %s, want SYNC_NOW", req.Msg.Type)
		}
		req.Reply(Response{Success: true, SyncedCount: 7})
	}()

	resp, err := bus.Send(context.Background(), Message{Type: MsgSyncNow}, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Success || resp.SyncedCount != 7 {
		t.Errorf("response = %+v", resp)
	}
}

func TestBusSendTimeout(t *testing.T) {
	bus := NewBus()

	// Receiver that never replies.
	go func() { <-bus.Requests() }()

	start := time.Now()
	_, err := bus.Send(context.Background(), Message{Type: MsgSyncNow}, 50*time.Millisecond)
	if !errors.Is(err, point.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestBusSendContextCancel(t *testing.T) {
	bus := NewBus()
	go func() { <-bus.Requests() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := bus.Send(ctx, Message{Type: MsgSyncNow}, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBusNotifyDoesNotBlock(t *testing.T) {
	bus := NewBus()
	// Fill the buffer well past capacity; Notify must never block.
	for i := 0; i < 100; i++ {
		bus.Notify(Message{Type: MsgSyncComplete, SyncedCount: i})
	}
}

func TestBusLateReplyDropped(t *testing.T) {
	bus := NewBus()

	received := make(chan *Request, 1)
	go func() { received <- <-bus.Requests() }()

	_, err := bus.Send(context.Background(), Message{Type: MsgSyncNow}, 10*time.Millisecond)
	if !errors.Is(err, point.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// Replying after the sender gave up must not panic or block.
	req := <-received
	req.Reply(Response{Success: true})
	req.Reply(Response{Success: true})
}
