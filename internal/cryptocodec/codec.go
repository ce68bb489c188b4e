// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package cryptocodec encrypts location samples for untrusted remote storage.
//
// Encryption Algorithm:
//   - AES-256-GCM (authenticated encryption, 128-bit tag)
//   - 12-byte random IV per encryption
//   - Key derived from the owner id using PBKDF2-SHA256
//
// The plaintext is a verbatim JSON serialization of the full sample; no field
// is stripped or transformed before encryption. Decrypting the ciphertext
// with the owner-derived key and the stored IV reproduces the original sample
// exactly.
//
// SECURITY NOTE: key derivation is deterministic from the owner id and a
// fixed application salt. Anyone who learns an owner id can derive the
// decryption key, so owner ids must never be guessable or public. This
// trade-off is inherited from the envelope format; DeriveKey is exposed
// separately so a per-user random key can replace it without changing the
// wire format.
package cryptocodec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/pbkdf2"

	"github.com/lifemap-app/lifemap/internal/point"
)

const (
	// keyDerivationSalt is the fixed application-wide PBKDF2 salt.
	keyDerivationSalt = "lifemap-location-salt"

	// keyDerivationIterations is the PBKDF2 iteration count.
	keyDerivationIterations = 100000

	// aesKeySize is the size of the AES key in bytes (256 bits).
	aesKeySize = 32

	// gcmIVSize is the size of the GCM initialization vector in bytes.
	gcmIVSize = 12
)

var (
	// ErrMissingOwner is returned when a sample has no owner id. Anonymous
	// samples cannot be encrypted or uploaded.
	ErrMissingOwner = errors.New("owner id required for encryption")

	// ErrInvalidEnvelope is returned when an envelope's encoded fields cannot
	// be decoded.
	ErrInvalidEnvelope = errors.New("invalid envelope encoding")
)

// Codec encrypts and decrypts samples keyed by owner identity.
//
// Derived keys are cached per owner: PBKDF2 at 100k iterations is deliberately
// slow, and the same owner encrypts every sample in a batch.
type Codec struct {
	keys keyCache
}

// New creates a Codec.
func New() *Codec {
	return &Codec{}
}

// DeriveKey deterministically derives the 256-bit AES key for an owner.
// Same owner id always yields the same key; no external key storage exists.
func DeriveKey(ownerID string) []byte {
	return pbkdf2.Key([]byte(ownerID), []byte(keyDerivationSalt), keyDerivationIterations, aesKeySize, sha256.New)
}

// Encrypt serializes the sample to canonical JSON, generates a fresh random
// 12-byte IV, and authenticated-encrypts with the owner-derived key.
//
// A fresh IV per call is mandatory: IV reuse under the same key breaks GCM.
func (c *Codec) Encrypt(sample *point.Sample) (*point.Envelope, error) {
	if sample.OwnerID == "" {
		return nil, ErrMissingOwner
	}

	aead, err := c.keys.aead(sample.OwnerID)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("marshal sample: %w", err)
	}

	iv := make([]byte, gcmIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate IV: %w", err)
	}

	ciphertext := aead.Seal(nil, iv, plaintext, nil)

	return &point.Envelope{
		ID:           sample.ID,
		OwnerID:      sample.OwnerID,
		CipherText:   base64.StdEncoding.EncodeToString(ciphertext),
		IV:           base64.StdEncoding.EncodeToString(iv),
		CapturedAtMs: sample.CapturedAtMs,
		Synced:       sample.SyncState == point.SyncSynced,
	}, nil
}

// EncryptBatch encrypts a slice of samples. The first failure aborts the
// batch; an upload must never carry a partially encrypted set.
func (c *Codec) EncryptBatch(samples []*point.Sample) ([]*point.Envelope, error) {
	envelopes := make([]*point.Envelope, 0, len(samples))
	for _, s := range samples {
		env, err := c.Encrypt(s)
		if err != nil {
			return nil, fmt.Errorf("encrypt sample %s: %w", s.ID, err)
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// Decrypt derives the owner key and authenticated-decrypts the envelope.
// Returns point.ErrAuthentication when the tag does not verify (tampering or
// wrong key); unauthenticated plaintext is never returned.
func (c *Codec) Decrypt(env *point.Envelope, ownerID string) (*point.Sample, error) {
	aead, err := c.keys.aead(ownerID)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.CipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %s", ErrInvalidEnvelope, err.Error())
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %s", ErrInvalidEnvelope, err.Error())
	}
	if len(iv) != gcmIVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", ErrInvalidEnvelope, gcmIVSize)
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, point.ErrAuthentication
	}

	var sample point.Sample
	if err := json.Unmarshal(plaintext, &sample); err != nil {
		return nil, fmt.Errorf("unmarshal sample: %w", err)
	}
	return &sample, nil
}

// DecryptBatch decrypts a slice of envelopes for one owner.
func (c *Codec) DecryptBatch(envelopes []*point.Envelope, ownerID string) ([]*point.Sample, error) {
	samples := make([]*point.Sample, 0, len(envelopes))
	for _, env := range envelopes {
		s, err := c.Decrypt(env, ownerID)
		if err != nil {
			return nil, fmt.Errorf("decrypt envelope %s: %w", env.ID, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}
