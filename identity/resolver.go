package identity

import (
	"context"
	"fmt"
)

// RemoteResolver resolves an external node's advertised keys. The
// resolution mechanism (DNS TXT record, on-chain registry, a peer
// gossip protocol) is pluggable; IdentityRegistry only depends on this
// contract, mirroring did.Resolver.
type RemoteResolver interface {
	ResolveNode(ctx context.Context, nodeName string) (Record, error)
}

// MultiResolver tries each configured RemoteResolver in order,
// returning the first successful resolution, the way did.MultiChainResolver
// fans a lookup out across chain-specific resolvers.
type MultiResolver struct {
	resolvers []RemoteResolver
}

// NewMultiResolver builds a MultiResolver over the given resolvers,
// tried in the order given.
func NewMultiResolver(resolvers ...RemoteResolver) *MultiResolver {
	return &MultiResolver{resolvers: resolvers}
}

// ResolveNode implements RemoteResolver.
func (m *MultiResolver) ResolveNode(ctx context.Context, nodeName string) (Record, error) {
	if len(m.resolvers) == 0 {
		return Record{}, fmt.Errorf("%w: no remote resolvers configured", ErrIdentityNotFound)
	}
	var lastErr error
	for _, r := range m.resolvers {
		rec, err := r.ResolveNode(ctx, nodeName)
		if err == nil {
			return rec, nil
		}
		lastErr = err
	}
	return Record{}, fmt.Errorf("%w: %v", ErrIdentityNotFound, lastErr)
}
