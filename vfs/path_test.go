package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVRPathRoundTrip(t *testing.T) {
	cases := []string{"/", "", "/docs", "/docs/animals/dogs"}
	for _, s := range cases {
		p, err := ParseVRPath(s)
		require.NoError(t, err)
		want := s
		if s == "" {
			want = "/"
		}
		assert.Equal(t, want, p.String())
	}
}

func TestVRPathRejectsMalformed(t *testing.T) {
	_, err := ParseVRPath("docs/animals")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = ParseVRPath("/docs//animals")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestVRPathPushPopParent(t *testing.T) {
	root := RootPath()
	docs := root.Push("docs")
	animals := docs.Push("animals")

	assert.Equal(t, "/docs/animals", animals.String())
	assert.Equal(t, docs, animals.Parent())

	parent, last := animals.Pop()
	assert.Equal(t, docs, parent)
	assert.Equal(t, "animals", last)
	assert.Equal(t, "animals", animals.Name())
}

func TestVRPathAncestry(t *testing.T) {
	docs, _ := ParseVRPath("/docs")
	animals, _ := ParseVRPath("/docs/animals")
	other, _ := ParseVRPath("/recipes")

	assert.True(t, animals.IsDescendantOf(docs))
	assert.True(t, docs.IsAncestorOf(animals))
	assert.False(t, other.IsDescendantOf(docs))
	assert.True(t, RootPath().IsRoot())
	assert.False(t, docs.IsRoot())
}

func TestVRPathCloneIsIndependent(t *testing.T) {
	p, _ := ParseVRPath("/docs/animals")
	clone := p.Clone()
	clone[0] = "mutated"
	assert.Equal(t, "docs", p[0])
}
