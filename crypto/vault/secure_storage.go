// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package vault provides passphrase-encrypted at-rest storage for the
// raw private-key bytes behind a crypto.KeyPair: a file-backed vault
// for a long-lived node/profile identity, and a memory-backed vault
// for tests and ephemeral device identities.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// Sentinel errors, matching the crypto package's plain sentinel-error
// convention (crypto.ErrKeyNotFound) rather than a typed hierarchy.
var (
	ErrKeyNotFound      = errors.New("vault: key not found")
	ErrInvalidKeyID     = errors.New("vault: invalid key id")
	ErrInvalidPassphrase = errors.New("vault: invalid passphrase")
)

const (
	saltSize   = 16
	scryptN    = 1 << 15
	scryptR    = 8
	scryptP    = 1
	scryptKeyLen = chacha20poly1305.KeySize
)

// sealedKey is the on-disk / in-memory JSON envelope for one stored
// key: a random salt used to derive a passphrase key via scrypt, and
// the chacha20poly1305-sealed payload (nonce||ciphertext).
type sealedKey struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

func deriveVaultKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
}

func sealKey(keyBytes []byte, passphrase string) (*sealedKey, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	derived, err := deriveVaultKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(derived)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, keyBytes, nil)
	return &sealedKey{Salt: salt, Nonce: nonce, Data: ciphertext}, nil
}

func openKey(sk *sealedKey, passphrase string) ([]byte, error) {
	derived, err := deriveVaultKey(passphrase, sk.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(derived)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, sk.Nonce, sk.Data, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

// FileVault persists each sealed key as its own 0600 JSON file under a
// base directory, named "<keyID>.json".
type FileVault struct {
	dir string
	mu  sync.RWMutex
}

// NewFileVault creates (if needed) dir and returns a FileVault rooted there.
func NewFileVault(dir string) (*FileVault, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("vault: create dir: %w", err)
	}
	return &FileVault{dir: dir}, nil
}

func (v *FileVault) path(keyID string) string {
	return filepath.Join(v.dir, keyID+".json")
}

// StoreEncrypted seals keyBytes under passphrase and writes it to disk
// with 0600 permissions, overwriting any existing key at keyID.
func (v *FileVault) StoreEncrypted(keyID string, keyBytes []byte, passphrase string) error {
	if keyID == "" {
		return ErrInvalidKeyID
	}
	sk, err := sealKey(keyBytes, passphrase)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sk)
	if err != nil {
		return fmt.Errorf("vault: marshal: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return os.WriteFile(v.path(keyID), data, 0600)
}

// LoadDecrypted reads and unseals the key stored at keyID.
func (v *FileVault) LoadDecrypted(keyID string, passphrase string) ([]byte, error) {
	if keyID == "" {
		return nil, ErrInvalidKeyID
	}
	v.mu.RLock()
	data, err := os.ReadFile(v.path(keyID))
	v.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("vault: read: %w", err)
	}
	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return nil, fmt.Errorf("vault: unmarshal: %w", err)
	}
	return openKey(&sk, passphrase)
}

// SetPermissions changes the file mode of the stored key at keyID.
func (v *FileVault) SetPermissions(keyID string, mode os.FileMode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := os.Stat(v.path(keyID)); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return err
	}
	return os.Chmod(v.path(keyID), mode)
}

// Delete removes the stored key at keyID.
func (v *FileVault) Delete(keyID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := os.Stat(v.path(keyID)); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return err
	}
	return os.Remove(v.path(keyID))
}

// Exists reports whether a key is stored at keyID.
func (v *FileVault) Exists(keyID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, err := os.Stat(v.path(keyID))
	return err == nil
}

// ListKeys returns the IDs of all stored keys, sorted.
func (v *FileVault) ListKeys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			ids = append(ids, name[:len(name)-len(".json")])
		}
	}
	sort.Strings(ids)
	return ids
}

// MemoryVault is a FileVault-shaped vault backed by a guarded map,
// for tests and for ephemeral device identities that should not
// persist their keys across process restarts.
type MemoryVault struct {
	mu   sync.RWMutex
	keys map[string]*sealedKey
}

// NewMemoryVault returns an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{keys: make(map[string]*sealedKey)}
}

// StoreEncrypted seals keyBytes under passphrase and keeps it in memory.
func (v *MemoryVault) StoreEncrypted(keyID string, keyBytes []byte, passphrase string) error {
	if keyID == "" {
		return ErrInvalidKeyID
	}
	sk, err := sealKey(keyBytes, passphrase)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[keyID] = sk
	return nil
}

// LoadDecrypted unseals the key stored at keyID.
func (v *MemoryVault) LoadDecrypted(keyID string, passphrase string) ([]byte, error) {
	if keyID == "" {
		return nil, ErrInvalidKeyID
	}
	v.mu.RLock()
	sk, ok := v.keys[keyID]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return openKey(sk, passphrase)
}

// SetPermissions is a no-op for the in-memory vault beyond existence
// checking: there is no filesystem mode to change.
func (v *MemoryVault) SetPermissions(keyID string, _ os.FileMode) error {
	v.mu.RLock()
	_, ok := v.keys[keyID]
	v.mu.RUnlock()
	if !ok {
		return ErrKeyNotFound
	}
	return nil
}

// Delete removes the stored key at keyID.
func (v *MemoryVault) Delete(keyID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.keys[keyID]; !ok {
		return ErrKeyNotFound
	}
	delete(v.keys, keyID)
	return nil
}

// Exists reports whether a key is stored at keyID.
func (v *MemoryVault) Exists(keyID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.keys[keyID]
	return ok
}

// ListKeys returns the IDs of all stored keys, sorted.
func (v *MemoryVault) ListKeys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.keys))
	for id := range v.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
