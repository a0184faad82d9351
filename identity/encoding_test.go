package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSolanaIdentifierDeterministic(t *testing.T) {
	n1 := Name{Node: "alice.shinkai"}
	n2 := Name{Node: "alice.shinkai"}
	n3 := Name{Node: "bob.shinkai"}

	assert.Equal(t, SolanaIdentifier(n1), SolanaIdentifier(n2))
	assert.NotEqual(t, SolanaIdentifier(n1), SolanaIdentifier(n3))
	assert.NotEmpty(t, SolanaIdentifier(n1))
}
