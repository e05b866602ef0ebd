// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrKeyUnavailable is returned when a key reference cannot be resolved,
// either because it was never issued or because it has been revoked.
var ErrKeyUnavailable = errors.New("encryption key unavailable")

const keyringRefPrefix = "keyring:"

// KeyProvider issues and resolves artifact keys. Only the opaque reference
// is ever persisted; key material stays with the provider.
type KeyProvider interface {
	// IssueKey returns a reference to the key new artifacts should use.
	IssueKey(ctx context.Context) (keyRef string, err error)

	// FetchKey resolves a reference to 32 bytes of key material.
	FetchKey(ctx context.Context, keyRef string) ([]byte, error)
}

// Keyring is a KeyProvider over a fixed set of master keys loaded from
// configuration. One key is active for new artifacts; older keys stay
// available for decryption until revoked.
type Keyring struct {
	mu      sync.RWMutex
	active  string
	keys    map[string][]byte
	revoked map[string]bool
}

// NewKeyring builds a keyring. Every key must be exactly 32 bytes and the
// active id must be present.
func NewKeyring(active string, keys map[string][]byte) (*Keyring, error) {
	kr := &Keyring{
		active:  active,
		keys:    make(map[string][]byte, len(keys)),
		revoked: make(map[string]bool),
	}
	for id, k := range keys {
		if err := kr.Add(id, k); err != nil {
			return nil, err
		}
	}
	if _, ok := kr.keys[active]; !ok {
		return nil, fmt.Errorf("active key %q is not in the keyring", active)
	}
	return kr, nil
}

// ParseKeySpecs decodes "id:base64key" entries as used in configuration.
func ParseKeySpecs(specs []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		id, encoded, ok := strings.Cut(spec, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("key spec must be id:base64, got %q", maskSpec(spec))
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("key %s: invalid base64: %w", id, err)
		}
		out[id] = raw
	}
	return out, nil
}

// Add registers (or replaces) a key. A previously revoked id stays revoked.
func (k *Keyring) Add(id string, key []byte) error {
	if id == "" {
		return errors.New("key id cannot be empty")
	}
	if len(key) != keySize {
		return fmt.Errorf("key %s must be %d bytes, got %d", id, keySize, len(key))
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[id] = append([]byte(nil), key...)
	return nil
}

// Revoke makes a key permanently unavailable to FetchKey and IssueKey.
func (k *Keyring) Revoke(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.revoked[id] = true
}

// IssueKey implements KeyProvider.
func (k *Keyring) IssueKey(_ context.Context) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.revoked[k.active] {
		return "", fmt.Errorf("%w: active key %s is revoked", ErrKeyUnavailable, k.active)
	}
	return keyringRefPrefix + k.active, nil
}

// FetchKey implements KeyProvider.
func (k *Keyring) FetchKey(_ context.Context, keyRef string) ([]byte, error) {
	id, ok := strings.CutPrefix(keyRef, keyringRefPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized key reference %q", ErrKeyUnavailable, keyRef)
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.revoked[id] {
		return nil, fmt.Errorf("%w: key %s is revoked", ErrKeyUnavailable, id)
	}
	key, ok := k.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: key %s not found", ErrKeyUnavailable, id)
	}
	return append([]byte(nil), key...), nil
}

func maskSpec(spec string) string {
	id, _, _ := strings.Cut(spec, ":")
	return id + ":****"
}
