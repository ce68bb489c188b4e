// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package cryptocodec

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"sync"
)

// keyCache memoizes the AEAD per owner so PBKDF2 runs once per owner, not
// once per sample.
type keyCache struct {
	mu    sync.RWMutex
	aeads map[string]cipher.AEAD
}

func (k *keyCache) aead(ownerID string) (cipher.AEAD, error) {
	k.mu.RLock()
	cached, ok := k.aeads[ownerID]
	k.mu.RUnlock()
	if ok {
		return cached, nil
	}

	block, err := aes.NewCipher(DeriveKey(ownerID))
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	k.mu.Lock()
	if k.aeads == nil {
		k.aeads = make(map[string]cipher.AEAD)
	}
	k.aeads[ownerID] = gcm
	k.mu.Unlock()

	return gcm, nil
}
