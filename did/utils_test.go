package did

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDIDParseDIDRoundTrip(t *testing.T) {
	tests := []struct {
		chain      Chain
		identifier string
	}{
		{ChainEthereum, "0xabc123"},
		{ChainSolana, "alice.shinkai"},
		{Chain("custom"), "node.tld/profile"},
	}

	for _, tt := range tests {
		generated := GenerateDID(tt.chain, tt.identifier)

		chain, identifier, err := ParseDID(generated)
		require.NoError(t, err)
		assert.Equal(t, tt.chain, chain)
		assert.Equal(t, tt.identifier, identifier)
	}
}

func TestParseDIDMalformed(t *testing.T) {
	tests := []AgentDID{
		"",
		"not-a-did",
		"did:wrong:ethereum:0xabc",
		"did:sage:ethereum:",
		"did:sage:ethereum",
	}

	for _, d := range tests {
		_, _, err := ParseDID(d)
		assert.Error(t, err, "expected error for %q", d)
	}
}
