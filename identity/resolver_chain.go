package identity

import (
	"context"
	"fmt"

	"github.com/shinkai-run/shinkai-node/did"
	"github.com/shinkai-run/shinkai-node/did/ethereum"
	"github.com/shinkai-run/shinkai-node/did/solana"
)

// chainClient is the minimal on-chain read surface a RemoteResolver
// adapter needs. did/ethereum.EthereumClient satisfies the full
// did.Resolver interface; did/solana.SolanaClient only implements
// Resolve (and the write operations) — this narrower interface is
// what both have in common, so one adapter type serves either chain.
//
// Package did cannot construct these clients itself: did cannot import
// did/ethereum or did/solana without an import cycle (both import did
// for its types), so the real client is built and wired in one layer
// up, here in package identity, which neither of them imports.
type chainClient interface {
	Resolve(ctx context.Context, agentDID did.AgentDID) (*did.AgentMetadata, error)
}

// ChainResolver adapts an on-chain DID client (Ethereum or Solana) to
// the identity.RemoteResolver contract, so a node can fall back to
// chain-anchored agent registrations for names it does not hold
// locally.
type ChainResolver struct {
	client chainClient
	chain  did.Chain
}

var _ RemoteResolver = (*ChainResolver)(nil)

// NewEthereumResolver wraps an Ethereum DID client as a RemoteResolver.
func NewEthereumResolver(client *ethereum.EthereumClient) *ChainResolver {
	return &ChainResolver{client: client, chain: did.ChainEthereum}
}

// NewSolanaResolver wraps a Solana DID client as a RemoteResolver.
func NewSolanaResolver(client *solana.SolanaClient) *ChainResolver {
	return &ChainResolver{client: client, chain: did.ChainSolana}
}

// ResolveNode looks up nodeName's public keys on-chain, using the node
// name as the DID identifier under did:sage:<chain>: (on Solana, the
// SolanaIdentifier of the name instead).
func (r *ChainResolver) ResolveNode(ctx context.Context, nodeName string) (Record, error) {
	name, err := ParseName(nodeName)
	if err != nil {
		return Record{}, err
	}

	identifier := name.Node
	if r.chain == did.ChainSolana {
		identifier = SolanaIdentifier(name)
	}
	agentDID := did.GenerateDID(r.chain, identifier)
	meta, err := r.client.Resolve(ctx, agentDID)
	if err != nil {
		return Record{}, fmt.Errorf("identity: resolve %s on %s: %w", agentDID, r.chain, err)
	}
	if !meta.IsActive {
		return Record{}, fmt.Errorf("identity: %s is deactivated on %s", agentDID, r.chain)
	}

	pubKey, err := did.MarshalPublicKey(meta.PublicKey)
	if err != nil {
		return Record{}, fmt.Errorf("identity: unmarshal on-chain public key: %w", err)
	}

	permission := PermissionNone
	if meta.IsActive {
		permission = PermissionStandard
	}

	return Record{
		Name:       name,
		Kind:       KindNode,
		SigningKey: pubKey,
		Permission: permission,
	}, nil
}
