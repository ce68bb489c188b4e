// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package point defines the location sample data model shared by the
// sampler, local store, crypto codec, and sync engine.
//
// A Sample is the atomic unit of the system: one GPS reading with capture
// metadata and sync state. Samples are created by the sampler, persisted by
// the store, and only ever have their sync state mutated afterwards.
package point

import (
	"time"

	"github.com/google/uuid"
)

// CaptureContext identifies which execution path produced a sample.
type CaptureContext string

const (
	// CaptureForeground marks samples captured by the interactive page.
	CaptureForeground CaptureContext = "foreground"

	// CaptureBackground marks samples captured by the background context.
	CaptureBackground CaptureContext = "background"
)

// SyncState tracks whether a sample has been uploaded to the remote store.
// The only legal transition is pending -> synced; retries on upload failure
// leave a sample pending, they never create a second entry for the same id.
type SyncState string

const (
	// SyncPending means the sample exists only in the local store.
	SyncPending SyncState = "pending"

	// SyncSynced means the sample was uploaded and acknowledged.
	SyncSynced SyncState = "synced"
)

// LowQualityAccuracyMeters is the horizontal accuracy threshold above which
// a sample is flagged low quality. Flagged samples are retained but excluded
// from distance and speed analytics.
const LowQualityAccuracyMeters = 100.0

// Sample is one location reading with metadata.
//
// Optional fields use pointers: nil means the platform did not report the
// value, which is distinct from zero.
type Sample struct {
	// ID is globally unique and immutable once created. It is stable across
	// the local store and the remote store.
	ID string `json:"id"`

	// CapturedAtMs is the capture time in epoch milliseconds and the primary
	// ordering key.
	CapturedAtMs int64 `json:"timestamp"`

	// CalendarDate is the YYYY-MM-DD local date derived from CapturedAtMs at
	// creation time. It is never recomputed later.
	CalendarDate string `json:"date"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// HorizontalAccuracyMeters is non-negative; larger means less reliable.
	HorizontalAccuracyMeters float64 `json:"accuracy"`

	AltitudeMeters         *float64 `json:"altitude"`
	AltitudeAccuracyMeters *float64 `json:"altitudeAccuracy"`
	HeadingDegrees         *float64 `json:"heading"`
	SpeedMetersPerSecond   *float64 `json:"speed"`

	// LowQualityFlag is set when HorizontalAccuracyMeters exceeds
	// LowQualityAccuracyMeters.
	LowQualityFlag bool `json:"isLowQuality"`

	CaptureContext CaptureContext `json:"source"`

	SyncState  SyncState `json:"syncState"`
	SyncedAtMs *int64    `json:"syncedAt"`

	// OwnerID identifies the owning user. Required before encryption or
	// upload; empty is permitted for anonymous local-only capture.
	OwnerID string `json:"userId"`
}

// Pending reports whether the sample has not been uploaded yet.
func (s *Sample) Pending() bool {
	return s.SyncState == SyncPending
}

// Envelope is the encrypted wire and remote-storage form of a sample.
// ID, OwnerID, CapturedAtMs, and SyncState are carried in cleartext so the
// remote store can index and filter without decrypting.
type Envelope struct {
	ID           string `json:"id" validate:"required"`
	OwnerID      string `json:"userId" validate:"required"`
	CipherText   string `json:"encryptedData" validate:"required,base64"`
	IV           string `json:"iv" validate:"required,base64"`
	CapturedAtMs int64  `json:"timestamp" validate:"required"`

	// Synced mirrors the sample's sync state at encryption time. The remote
	// store does not update it; it exists so remote filtering never needs
	// decryption.
	Synced bool `json:"synced"`
}

// NewID returns a fresh globally unique sample identifier.
func NewID() string {
	return uuid.New().String()
}

// CalendarDate derives the YYYY-MM-DD string for an epoch-millisecond
// timestamp in local time. Called exactly once, at sample creation.
func CalendarDate(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02")
}
