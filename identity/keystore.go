package identity

import (
	"context"
	gocrypto "crypto"
	"crypto/ecdh"
	"crypto/ed25519"
	"fmt"

	"github.com/shinkai-run/shinkai-node/crypto"
	"github.com/shinkai-run/shinkai-node/crypto/vault"
)

// KeyVault persists raw, passphrase-encrypted private-key material for
// a local identity, independent of the public Record kept in the
// Registry. Satisfied by crypto/vault.FileVault and
// crypto/vault.MemoryVault.
type KeyVault interface {
	StoreEncrypted(keyID string, keyBytes []byte, passphrase string) error
	LoadDecrypted(keyID string, passphrase string) ([]byte, error)
}

var (
	_ KeyVault = (*vault.FileVault)(nil)
	_ KeyVault = (*vault.MemoryVault)(nil)
)

// publicKeyBytes extracts the raw public-key bytes backing a
// crypto.PublicKey for the two key types identities carry (Ed25519
// signing keys, X25519 encryption keys).
func publicKeyBytes(pk gocrypto.PublicKey) ([]byte, error) {
	switch k := pk.(type) {
	case ed25519.PublicKey:
		return []byte(k), nil
	case *ecdh.PublicKey:
		return k.Bytes(), nil
	default:
		return nil, fmt.Errorf("identity: unsupported public key type %T", pk)
	}
}

// ProvisionDevice generates a fresh Ed25519 signing key and X25519
// encryption key for a new device identity, each device holding its
// own independent pair, seals the private-key material in kv under
// passphrase, and registers the public Record with the Manager's
// local registry. The caller receives the live key pairs to use
// immediately; kv is only consulted again on process restart via
// LoadDeviceKeys.
func (m *Manager) ProvisionDevice(ctx context.Context, name Name, permission Permission, kv KeyVault, passphrase string) (signing, encryption crypto.KeyPair, err error) {
	signing, err = crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generate signing key: %w", err)
	}
	encryption, err = crypto.GenerateKeyPair(crypto.KeyTypeX25519)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generate encryption key: %w", err)
	}

	mgr := crypto.NewManager()
	sigBytes, err := mgr.ExportKeyPair(signing, crypto.KeyFormatPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: export signing key: %w", err)
	}
	encBytes, err := mgr.ExportKeyPair(encryption, crypto.KeyFormatPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: export encryption key: %w", err)
	}
	if err := kv.StoreEncrypted(name.String()+"::signing", sigBytes, passphrase); err != nil {
		return nil, nil, fmt.Errorf("identity: seal signing key: %w", err)
	}
	if err := kv.StoreEncrypted(name.String()+"::encryption", encBytes, passphrase); err != nil {
		return nil, nil, fmt.Errorf("identity: seal encryption key: %w", err)
	}

	sigPub, err := publicKeyBytes(signing.PublicKey())
	if err != nil {
		return nil, nil, err
	}
	encPub, err := publicKeyBytes(encryption.PublicKey())
	if err != nil {
		return nil, nil, err
	}

	rec := Record{
		Name:          name,
		Kind:          KindDevice,
		SigningKey:    sigPub,
		EncryptionKey: encPub,
		Permission:    permission,
	}
	if err := m.InsertDevice(ctx, rec); err != nil {
		return nil, nil, err
	}
	return signing, encryption, nil
}

// RotateDeviceKeys replaces a provisioned device's signing and
// encryption key pairs via crypto.KeyRotator: each old key is loaded
// into a scratch crypto.Manager's storage under its own key ID, rotated
// (the same key-type-preserving generate-and-replace crypto/rotation
// implements), then the new pair is resealed into kv under the ids
// ProvisionDevice used and the device's public Record is updated in
// the registry so resolvers pick up the new public keys immediately.
// The scratch manager only exists for the Rotate call's storage
// argument; its memory-backed KeyStorage is discarded once the
// rotated keys are read back out.
func (m *Manager) RotateDeviceKeys(ctx context.Context, name Name, kv KeyVault, passphrase string) (signing, encryption crypto.KeyPair, err error) {
	oldSigning, oldEncryption, err := LoadDeviceKeys(kv, name, passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: load keys to rotate: %w", err)
	}

	mgr := crypto.NewManager()
	rotator := mgr.GetRotator()

	if err := mgr.StoreKeyPair(oldSigning); err != nil {
		return nil, nil, fmt.Errorf("identity: stage signing key for rotation: %w", err)
	}
	signing, err = rotator.Rotate(oldSigning.ID())
	if err != nil {
		return nil, nil, fmt.Errorf("identity: rotate signing key: %w", err)
	}

	if err := mgr.StoreKeyPair(oldEncryption); err != nil {
		return nil, nil, fmt.Errorf("identity: stage encryption key for rotation: %w", err)
	}
	encryption, err = rotator.Rotate(oldEncryption.ID())
	if err != nil {
		return nil, nil, fmt.Errorf("identity: rotate encryption key: %w", err)
	}

	exporter := crypto.NewPEMExporter()
	sigBytes, err := exporter.Export(signing, crypto.KeyFormatPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: export rotated signing key: %w", err)
	}
	encBytes, err := exporter.Export(encryption, crypto.KeyFormatPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: export rotated encryption key: %w", err)
	}
	if err := kv.StoreEncrypted(name.String()+"::signing", sigBytes, passphrase); err != nil {
		return nil, nil, fmt.Errorf("identity: seal rotated signing key: %w", err)
	}
	if err := kv.StoreEncrypted(name.String()+"::encryption", encBytes, passphrase); err != nil {
		return nil, nil, fmt.Errorf("identity: seal rotated encryption key: %w", err)
	}

	sigPub, err := publicKeyBytes(signing.PublicKey())
	if err != nil {
		return nil, nil, err
	}
	encPub, err := publicKeyBytes(encryption.PublicKey())
	if err != nil {
		return nil, nil, err
	}

	rec, err := m.registry.Lookup(ctx, name, KindDevice)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: look up record to rotate: %w", err)
	}
	rec.SigningKey = sigPub
	rec.EncryptionKey = encPub
	if err := m.registry.Update(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("identity: update rotated record: %w", err)
	}

	return signing, encryption, nil
}

// LoadDeviceKeys reloads and decrypts a device's signing and
// encryption private-key material from kv, the inverse of the storage
// half of ProvisionDevice (for restoring a device identity after a
// process restart).
func LoadDeviceKeys(kv KeyVault, name Name, passphrase string) (signing, encryption crypto.KeyPair, err error) {
	mgr := crypto.NewManager()

	sigBytes, err := kv.LoadDecrypted(name.String()+"::signing", passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: load signing key: %w", err)
	}
	signing, err = mgr.ImportKeyPair(sigBytes, crypto.KeyFormatPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: import signing key: %w", err)
	}

	encBytes, err := kv.LoadDecrypted(name.String()+"::encryption", passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: load encryption key: %w", err)
	}
	encryption, err = mgr.ImportKeyPair(encBytes, crypto.KeyFormatPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: import encryption key: %w", err)
	}
	return signing, encryption, nil
}
