package did

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// GenerateDID builds a did:sage:<chain>:<identifier> DID for a chain
// and a chain-specific identifier (an Ethereum contract address, a
// Solana program-derived identifier, or, for the identity resolver's
// chain-anchored lookups, a hierarchical Shinkai node name).
func GenerateDID(chain Chain, identifier string) AgentDID {
	return AgentDID(fmt.Sprintf("did:sage:%s:%s", chain, identifier))
}

// ParseDID splits a did:sage:<chain>:<identifier> DID back into its
// chain and identifier. It is the exact inverse of GenerateDID.
func ParseDID(did AgentDID) (chain Chain, identifier string, err error) {
	parts := strings.SplitN(string(did), ":", 4)
	if len(parts) != 4 || parts[0] != "did" || parts[1] != "sage" {
		return "", "", fmt.Errorf("did: malformed DID %q, expected did:sage:<chain>:<identifier>", did)
	}
	if parts[3] == "" {
		return "", "", fmt.Errorf("did: malformed DID %q, empty identifier", did)
	}
	return Chain(parts[2]), parts[3], nil
}

// MarshalPublicKey converts a public key to bytes for storage
func MarshalPublicKey(publicKey interface{}) ([]byte, error) {
	switch pk := publicKey.(type) {
	case ed25519.PublicKey:
		return pk, nil
	case *secp256k1.PublicKey:
		return pk.SerializeCompressed(), nil
	default:
		// Try to marshal as generic public key using x509
		return x509.MarshalPKIXPublicKey(publicKey)
	}
}

// UnmarshalPublicKey converts bytes back to a public key
func UnmarshalPublicKey(data []byte, keyType string) (interface{}, error) {
	switch keyType {
	case "ed25519":
		if len(data) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid Ed25519 public key size: %d", len(data))
		}
		return ed25519.PublicKey(data), nil
		
	case "secp256k1":
		pk, err := secp256k1.ParsePubKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse secp256k1 public key: %w", err)
		}
		return pk, nil
		
	default:
		// Try to unmarshal as generic public key
		block, _ := pem.Decode(data)
		if block != nil {
			data = block.Bytes
		}
		return x509.ParsePKIXPublicKey(data)
	}
}