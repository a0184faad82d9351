package vfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResource(name string, texts ...string) *VectorResource {
	r := NewVectorResource("res-"+name, name, "test-model", KindDocument)
	for i, txt := range texts {
		_ = i
		_ = r.AddNode("", Node{Kind: ContentText, Text: txt}, []float32{1, 0, 0})
	}
	return r
}

func TestCreateFolderAndSaveItem(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	v := NewVFS(nil)
	v.EnsureProfile(owner)

	docs, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", docs.Name)

	item, err := v.SaveItem(ctx, owner, owner, docs.Path, "note", newTestResource("note", "hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, "note", item.Name)
	assert.NotEmpty(t, item.MerkleHash())

	view, err := v.RetrievePath(ctx, owner, owner, docs.Path.Push("note"))
	require.NoError(t, err)
	require.NotNil(t, view.Item)
	assert.Equal(t, "note", view.Item.Name)
}

func TestCreateFolderDuplicateRejected(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	_, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)

	_, err = v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

// TestCrossProfileReadDenied is the permission-denial scenario: profile
// B may not read a path profile A marked Private/Private.
func TestCrossProfileReadDenied(t *testing.T) {
	alice := mustName(t, "node.shinkai/alice")
	bob := mustName(t, "node.shinkai/bob")
	ctx := context.Background()

	v := NewVFS(nil)
	v.EnsureProfile(alice)
	v.EnsureProfile(bob)

	docs, err := v.CreateFolder(ctx, alice, alice, RootPath(), "docs")
	require.NoError(t, err)

	_, err = v.RetrievePath(ctx, alice, bob, docs.Path)
	assert.ErrorIs(t, err, ErrInvalidReadPermission)

	require.NoError(t, v.SetPathPermission(alice, alice, docs.Path, ReadPermission{Kind: ReadPublic}, WritePermission{Kind: WritePrivate}))
	_, err = v.RetrievePath(ctx, alice, bob, docs.Path)
	assert.NoError(t, err)
}

func TestMerkleMutationPropagatesToRoot(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	docs, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)

	pf, err := v.profileByOwner(owner)
	require.NoError(t, err)
	rootBefore := pf.folders[RootPath().String()].MerkleHash
	docsBefore := docs.MerkleHash

	_, err = v.SaveItem(ctx, owner, owner, docs.Path, "note", newTestResource("note", "hello"), nil)
	require.NoError(t, err)

	rootAfter := pf.folders[RootPath().String()].MerkleHash
	docsAfter := pf.folders[docs.Path.String()].MerkleHash

	assert.NotEqual(t, rootBefore, rootAfter)
	assert.NotEqual(t, docsBefore, docsAfter)
}

func TestMoveFolderPreservesIdentityAndUpdatesPath(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	docs, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)
	archive, err := v.CreateFolder(ctx, owner, owner, RootPath(), "archive")
	require.NoError(t, err)
	_, err = v.SaveItem(ctx, owner, owner, docs.Path, "note", newTestResource("note", "hello"), nil)
	require.NoError(t, err)

	moved, err := v.MoveFolder(ctx, owner, owner, docs.Path, archive.Path)
	require.NoError(t, err)
	assert.Equal(t, "/archive/docs", moved.Path.String())

	view, err := v.RetrievePath(ctx, owner, owner, moved.Path.Push("note"))
	require.NoError(t, err)
	require.NotNil(t, view.Item)

	_, err = v.RetrievePath(ctx, owner, owner, docs.Path)
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestCopyFolderIsIndependent(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	docs, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)
	archive, err := v.CreateFolder(ctx, owner, owner, RootPath(), "archive")
	require.NoError(t, err)
	_, err = v.SaveItem(ctx, owner, owner, docs.Path, "note", newTestResource("note", "hello"), nil)
	require.NoError(t, err)

	copied, err := v.CopyFolder(ctx, owner, owner, docs.Path, archive.Path)
	require.NoError(t, err)
	assert.Equal(t, "/archive/docs", copied.Path.String())

	// original still exists and is untouched by mutating the copy
	_, err = v.SaveItem(ctx, owner, owner, copied.Path, "second", newTestResource("second", "more"), nil)
	require.NoError(t, err)

	originalView, err := v.RetrievePath(ctx, owner, owner, docs.Path)
	require.NoError(t, err)
	assert.Equal(t, 1, len(originalView.Folder.ChildItems))

	copiedView, err := v.RetrievePath(ctx, owner, owner, copied.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, len(copiedView.Folder.ChildItems))
}

func TestRemoveFolderRemovesSubtree(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()
	v := NewVFS(nil)
	v.EnsureProfile(owner)

	docs, err := v.CreateFolder(ctx, owner, owner, RootPath(), "docs")
	require.NoError(t, err)
	_, err = v.SaveItem(ctx, owner, owner, docs.Path, "note", newTestResource("note", "hello"), nil)
	require.NoError(t, err)

	require.NoError(t, v.RemoveFolder(ctx, owner, owner, docs.Path))

	_, err = v.RetrievePath(ctx, owner, owner, docs.Path)
	assert.ErrorIs(t, err, ErrPathNotFound)
	_, err = v.RetrievePath(ctx, owner, owner, docs.Path.Push("note"))
	assert.ErrorIs(t, err, ErrPathNotFound)
}
