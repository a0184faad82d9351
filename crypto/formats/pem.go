package formats

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	sagecrypto "github.com/shinkai-run/shinkai-node/crypto"
	"github.com/shinkai-run/shinkai-node/crypto/keys"
)

// pemExporter implements KeyExporter for PEM format.
type pemExporter struct{}

// NewPEMExporter creates a new PEM exporter.
func NewPEMExporter() sagecrypto.KeyExporter {
	return &pemExporter{}
}

// Export exports the key pair's private key as a PKCS#8 "PRIVATE KEY"
// PEM block, except Secp256k1 which uses SEC1 "EC PRIVATE KEY" (Go's
// x509 package has no PKCS8 marshaler for a raw secp256k1 ecdsa key).
func (e *pemExporter) Export(keyPair sagecrypto.KeyPair, format sagecrypto.KeyFormat) ([]byte, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	switch keyPair.Type() {
	case sagecrypto.KeyTypeSecp256k1:
		privateKey, ok := keyPair.PrivateKey().(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("invalid Secp256k1 private key type")
		}
		der, err := x509.MarshalECPrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("marshal EC private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil

	case sagecrypto.KeyTypeEd25519, sagecrypto.KeyTypeX25519, sagecrypto.KeyTypeRSA:
		der, err := x509.MarshalPKCS8PrivateKey(keyPair.PrivateKey())
		if err != nil {
			return nil, fmt.Errorf("marshal PKCS8 private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil

	default:
		return nil, sagecrypto.ErrInvalidKeyType
	}
}

// ExportPublic exports only the public key as a PKIX "PUBLIC KEY" PEM block.
func (e *pemExporter) ExportPublic(keyPair sagecrypto.KeyPair, format sagecrypto.KeyFormat) ([]byte, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	switch keyPair.Type() {
	case sagecrypto.KeyTypeEd25519, sagecrypto.KeyTypeSecp256k1, sagecrypto.KeyTypeX25519, sagecrypto.KeyTypeRSA:
		der, err := x509.MarshalPKIXPublicKey(keyPair.PublicKey())
		if err != nil {
			return nil, fmt.Errorf("marshal PKIX public key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
	default:
		return nil, sagecrypto.ErrInvalidKeyType
	}
}

// pemImporter implements KeyImporter for PEM format.
type pemImporter struct{}

// NewPEMImporter creates a new PEM importer.
func NewPEMImporter() sagecrypto.KeyImporter {
	return &pemImporter{}
}

// Import decodes the first well-formed PEM block (stray leading text
// such as a "# comment" line is tolerated, matching pem.Decode's own
// scan-for-delimiters behavior) and reconstructs a KeyPair from it.
func (i *pemImporter) Import(data []byte, format sagecrypto.KeyFormat) (sagecrypto.KeyPair, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		privateKey, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse EC private key: %w", err)
		}
		secpKey := secp256k1.PrivKeyFromBytes(privateKey.D.Bytes())
		return keys.NewSecp256k1KeyPair(secpKey, "")

	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS8 private key: %w", err)
		}
		switch pk := key.(type) {
		case ed25519.PrivateKey:
			return keys.NewEd25519KeyPair(pk, "")
		case *ecdh.PrivateKey:
			return keys.NewX25519KeyPair(pk, "")
		case *rsa.PrivateKey:
			return keys.NewRSAKeyPair(pk, "")
		default:
			return nil, fmt.Errorf("unsupported PKCS8 key type %T", pk)
		}

	default:
		return nil, fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}
}

// ImportPublic decodes a PKIX "PUBLIC KEY" PEM block into a bare public key.
func (i *pemImporter) ImportPublic(data []byte, format sagecrypto.KeyFormat) (crypto.PublicKey, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX public key: %w", err)
	}
	return pub, nil
}
