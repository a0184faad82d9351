package message

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	sagecrypto "github.com/shinkai-run/shinkai-node/crypto"
)

// canonicalBytes serializes msg deterministically with the signature
// field cleared, the exact bytes both sign_outer and verify_outer
// operate on. Go's struct-based json.Marshal already emits fields in a
// fixed declaration order, so no extra key-sorting pass is needed.
func canonicalBytes(msg *Message) ([]byte, error) {
	clone := *msg
	clone.ExternalMetadata.Signature = ""
	return json.Marshal(&clone)
}

// Hash returns the content address of msg: the hex SHA-256 digest of
// its canonical bytes (signature included), used for inbox pagination
// and idempotent inserts. internal_metadata.node_api_data is left out,
// since the inbox store writes the hash itself into it on insert.
func Hash(msg *Message) (string, error) {
	clone := *msg
	if msg.Body.Inner != nil {
		inner := *msg.Body.Inner
		inner.InternalMetadata.NodeAPIData = nil
		clone.Body.Inner = &inner
	}
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("hash message: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SignOuter computes the canonical serialization of msg with an empty
// signature field, signs it with signingKey, and embeds the signature.
func SignOuter(msg *Message, signingKey sagecrypto.KeyPair) error {
	data, err := canonicalBytes(msg)
	if err != nil {
		return fmt.Errorf("sign_outer: canonicalize: %w", err)
	}
	sig, err := signingKey.Sign(data)
	if err != nil {
		return fmt.Errorf("sign_outer: %w", err)
	}
	msg.ExternalMetadata.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// VerifyOuter recomputes msg's canonical bytes and checks the embedded
// signature against verifyingKey. It returns ErrSignatureInvalid (not
// a generic error) on mismatch, so callers can distinguish a bad
// signature from a transport/parse failure.
func VerifyOuter(msg *Message, verifyingKey sagecrypto.KeyPair) error {
	sig, err := base64.StdEncoding.DecodeString(msg.ExternalMetadata.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature: %v", sagecrypto.ErrSignatureInvalid, err)
	}
	data, err := canonicalBytes(msg)
	if err != nil {
		return fmt.Errorf("verify_outer: canonicalize: %w", err)
	}
	if err := verifyingKey.Verify(data, sig); err != nil {
		return fmt.Errorf("%w: %v", sagecrypto.ErrSignatureInvalid, err)
	}
	return nil
}

// EncryptOuter derives an X25519 shared secret between senderEncSK and
// recipientEncPK, encrypts the entire body under it, and marks the
// message BodyEncrypted. ExternalMetadata stays cleartext.
func EncryptOuter(msg *Message, senderEncSK sagecrypto.KeyPair, recipientEncPK interface{}) error {
	if msg.Body.Encrypted {
		return ErrAlreadyEncrypted
	}
	if msg.Body.Inner == nil {
		return fmt.Errorf("encrypt_outer: no inner body to encrypt")
	}

	plaintext, err := json.Marshal(msg.Body.Inner)
	if err != nil {
		return fmt.Errorf("encrypt_outer: marshal body: %w", err)
	}

	key, err := envelopeKey(senderEncSK, recipientEncPK, sagecrypto.EnvelopeInfoOuter)
	if err != nil {
		return fmt.Errorf("encrypt_outer: %w", err)
	}

	sealed, err := sagecrypto.SealBody(key, plaintext, nil)
	if err != nil {
		return fmt.Errorf("encrypt_outer: %w", err)
	}

	msg.Body = Body{Encrypted: true, Ciphertext: sealed}
	msg.Encryption = EncryptionBodyEncrypted
	return nil
}

// DecryptOuter is the inverse of EncryptOuter. Failure is reported as
// ErrDecryptionFailed regardless of the underlying AEAD error, so
// callers cannot distinguish a wrong key from tampered ciphertext.
func DecryptOuter(msg *Message, recipientEncSK sagecrypto.KeyPair, senderEncPK interface{}) error {
	if !msg.Body.Encrypted {
		return ErrNotEncrypted
	}

	key, err := envelopeKey(recipientEncSK, senderEncPK, sagecrypto.EnvelopeInfoOuter)
	if err != nil {
		return fmt.Errorf("decrypt_outer: %w", err)
	}

	plaintext, err := sagecrypto.OpenBody(key, msg.Body.Ciphertext, nil)
	if err != nil {
		return sagecrypto.ErrDecryptionFailed
	}

	var inner ShinkaiBody
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return fmt.Errorf("%w: malformed inner body", sagecrypto.ErrDecryptionFailed)
	}

	msg.Body = Body{Inner: &inner}
	msg.Encryption = EncryptionNone
	return nil
}

// EncryptInner encrypts message_data only, leaving internal_metadata
// (including the inbox name it must route on) in the clear.
func EncryptInner(body *ShinkaiBody, senderEncSK sagecrypto.KeyPair, recipientEncPK interface{}) error {
	if body.MessageData.Encrypted {
		return ErrAlreadyEncrypted
	}

	plaintext, err := json.Marshal(struct {
		Content string     `json:"content"`
		Schema  SchemaType `json:"schema"`
	}{body.MessageData.Content, body.MessageData.Schema})
	if err != nil {
		return fmt.Errorf("encrypt_inner: marshal content: %w", err)
	}

	key, err := envelopeKey(senderEncSK, recipientEncPK, sagecrypto.EnvelopeInfoInner)
	if err != nil {
		return fmt.Errorf("encrypt_inner: %w", err)
	}

	sealed, err := sagecrypto.SealBody(key, plaintext, nil)
	if err != nil {
		return fmt.Errorf("encrypt_inner: %w", err)
	}

	body.MessageData = MessageData{Encrypted: true, Ciphertext: sealed}
	body.InternalMetadata.EncryptionMethod = EncryptionContentEncrypted
	return nil
}

// DecryptInner is the inverse of EncryptInner.
func DecryptInner(body *ShinkaiBody, recipientEncSK sagecrypto.KeyPair, senderEncPK interface{}) error {
	if !body.MessageData.Encrypted {
		return ErrNotEncrypted
	}

	key, err := envelopeKey(recipientEncSK, senderEncPK, sagecrypto.EnvelopeInfoInner)
	if err != nil {
		return fmt.Errorf("decrypt_inner: %w", err)
	}

	plaintext, err := sagecrypto.OpenBody(key, body.MessageData.Ciphertext, nil)
	if err != nil {
		return sagecrypto.ErrDecryptionFailed
	}

	var content struct {
		Content string     `json:"content"`
		Schema  SchemaType `json:"schema"`
	}
	if err := json.Unmarshal(plaintext, &content); err != nil {
		return fmt.Errorf("%w: malformed inner content", sagecrypto.ErrDecryptionFailed)
	}

	body.MessageData = MessageData{Content: content.Content, Schema: content.Schema}
	body.InternalMetadata.EncryptionMethod = EncryptionNone
	return nil
}

func envelopeKey(self sagecrypto.KeyPair, peerPub interface{}, info string) ([]byte, error) {
	secret, err := sagecrypto.DeriveX25519SharedSecret(self, peerPub)
	if err != nil {
		return nil, err
	}
	return sagecrypto.DeriveEnvelopeKey(secret, nil, info)
}
