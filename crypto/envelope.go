// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// This file implements the envelope-level primitives a Message uses to
// seal its body: X25519 shared-secret derivation and a ChaCha20-Poly1305
// AEAD keyed off an HKDF-SHA256 expansion of that secret. The shape
// mirrors a DeriveSessionSeed/SecureSession pair, collapsed from an
// interactive handshake into a single-call seal/open since envelopes
// are store-and-forward, not session-bound.
package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecryptionFailed is returned when an outer or inner AEAD open
// fails, whether from a bad key or tampered ciphertext.
var ErrDecryptionFailed = errors.New("crypto: decryption failed")

// ErrSignatureInvalid is returned when a recomputed signature does not
// match the one embedded in a message.
var ErrSignatureInvalid = errors.New("crypto: signature invalid")

// ErrNotX25519Key is returned when an envelope operation is given a
// KeyPair whose underlying key is not an X25519 key.
var ErrNotX25519Key = errors.New("crypto: key is not an X25519 key")

// DeriveX25519SharedSecret runs raw ECDH between an X25519 KeyPair's
// private key and a peer's X25519 public key, matching
// crypto/keys.X25519KeyPair.DeriveSharedSecret's curve arithmetic.
func DeriveX25519SharedSecret(priv KeyPair, peerPub interface{}) ([]byte, error) {
	sk, ok := priv.PrivateKey().(*ecdh.PrivateKey)
	if !ok {
		return nil, ErrNotX25519Key
	}
	pk, ok := peerPub.(*ecdh.PublicKey)
	if !ok {
		return nil, ErrNotX25519Key
	}
	secret, err := sk.ECDH(pk)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	return secret, nil
}

// DeriveEnvelopeKey expands a raw ECDH secret into a ChaCha20-Poly1305
// key via HKDF-SHA256, salted and info-tagged so keys derived for
// different purposes from the same shared secret never collide.
func DeriveEnvelopeKey(sharedSecret, salt []byte, info string) ([]byte, error) {
	h := hkdf.New(sha256.New, sharedSecret, salt, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive envelope key: %w", err)
	}
	return key, nil
}

// SealBody encrypts plaintext under key, authenticating additionalData
// without encrypting it, and returns nonce||ciphertext.
func SealBody(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// OpenBody is the inverse of SealBody.
func OpenBody(key, sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EnvelopeInfoOuter and EnvelopeInfoInner are fixed, non-secret HKDF
// info labels distinguishing outer-body key derivation from inner-body
// (message_data) key derivation, the way session.go distinguishes
// session seeds by label.
const (
	EnvelopeInfoOuter = "shinkai-envelope-outer-v1"
	EnvelopeInfoInner = "shinkai-envelope-inner-v1"
)
