package identity

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// SolanaIdentifier derives the base58-encoded, fixed-size on-chain
// identifier a Solana DID registry indexes accounts by, from a node's
// dotted name. Solana program accounts are keyed by 32-byte seeds, not
// arbitrary strings, so the node's hierarchical name must first be
// folded down to a deterministic 32-byte value before it can address
// an on-chain record.
func SolanaIdentifier(name Name) string {
	sum := sha256.Sum256([]byte(name.Node))
	return base58.Encode(sum[:])
}
