// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package point

import "errors"

// Error taxonomy shared across the location subsystem. Components wrap these
// sentinels with fmt.Errorf("...: %w", ...) and callers match with errors.Is.
var (
	// ErrPermissionDenied is returned when location permission is refused.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrPositionUnavailable is returned when no position fix can be obtained.
	ErrPositionUnavailable = errors.New("position unavailable")

	// ErrTimeout is returned when acquiring a position exceeds its deadline.
	ErrTimeout = errors.New("position acquisition timed out")

	// ErrStorage is returned for local storage-layer failures (disk, quota).
	// The store never retries internally; retry policy lives in the sync
	// engine.
	ErrStorage = errors.New("storage error")

	// ErrDuplicateID is returned when inserting a sample whose id already
	// exists in the local store.
	ErrDuplicateID = errors.New("duplicate sample id")

	// ErrAuthentication is returned when an envelope's authentication tag
	// does not verify: the ciphertext was tampered with or the wrong key was
	// used. Distinct from "record not found".
	ErrAuthentication = errors.New("envelope authentication failed")

	// ErrNetwork is returned for transport-level upload or download failures.
	ErrNetwork = errors.New("network error")

	// ErrRateLimited is returned when the remote endpoint replies 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnauthorized is returned when the remote endpoint rejects the
	// bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknown is returned for failures with no more specific class.
	ErrUnknown = errors.New("unknown location error")
)
