package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentResourceAssignsPositionalIDs(t *testing.T) {
	r := NewVectorResource("res-1", "doc", "test-model", KindDocument)
	require.NoError(t, r.AddNode("ignored", Node{Kind: ContentText, Text: "first"}, []float32{1}))
	require.NoError(t, r.AddNode("ignored", Node{Kind: ContentText, Text: "second"}, []float32{0}))

	assert.Equal(t, "0", r.Nodes[0].ID)
	assert.Equal(t, "1", r.Nodes[1].ID)
}

func TestMapResourceUsesCallerKeys(t *testing.T) {
	r := NewVectorResource("res-2", "map", "test-model", KindMap)
	require.NoError(t, r.AddNode("alpha", Node{Kind: ContentText, Text: "a"}, []float32{1}))
	require.NoError(t, r.AddNode("beta", Node{Kind: ContentText, Text: "b"}, []float32{0}))

	n, ok := r.NodeByID("alpha")
	require.True(t, ok)
	assert.Equal(t, "a", n.Text)
}

func TestRemoveNodeUpdatesIndexAndMerkle(t *testing.T) {
	r := NewVectorResource("res-3", "doc", "test-model", KindDocument)
	require.NoError(t, r.AddNode("", Node{Kind: ContentText, Text: "first"}, []float32{1}))
	before := r.MerkleRoot

	require.NoError(t, r.RemoveNode("0"))
	assert.Empty(t, r.Nodes)
	assert.NotEqual(t, before, r.MerkleRoot)

	_, ok := r.NodeByID("0")
	assert.False(t, ok)
}

func TestMerkleRootChangesOnMutation(t *testing.T) {
	r := NewVectorResource("res-4", "doc", "test-model", KindDocument)
	empty := r.MerkleRoot

	require.NoError(t, r.AddNode("", Node{Kind: ContentText, Text: "first"}, []float32{1}))
	assert.NotEqual(t, empty, r.MerkleRoot)
}

func TestNestedResourceContributesToParentMerkle(t *testing.T) {
	nested := NewVectorResource("res-nested", "nested", "test-model", KindDocument)
	require.NoError(t, nested.AddNode("", Node{Kind: ContentText, Text: "leaf"}, []float32{1}))

	outer := NewVectorResource("res-outer", "outer", "test-model", KindDocument)
	require.NoError(t, outer.AddNode("", Node{Kind: ContentResource, Resource: nested}, []float32{1}))
	rootWithChild := outer.MerkleRoot

	require.NoError(t, nested.AddNode("", Node{Kind: ContentText, Text: "second"}, []float32{0}))
	require.NoError(t, outer.recomputeMerkle())
	assert.NotEqual(t, rootWithChild, outer.MerkleRoot, "mutating a nested resource must change the outer resource's root hash")
}
