package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinkai-run/shinkai-node/identity"
)

func mustName(t *testing.T, s string) identity.Name {
	t.Helper()
	n, err := identity.ParseName(s)
	require.NoError(t, err)
	return n
}

func TestPermissionsIndexDefaultsPrivate(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	idx := NewPermissionsIndex(owner)

	pp, err := idx.GetPathPermission(RootPath())
	require.NoError(t, err)
	assert.Equal(t, ReadPrivate, pp.Read.Kind)
	assert.Equal(t, WritePrivate, pp.Write.Kind)
}

func TestValidateReadAccessOwnerAlwaysPasses(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	idx := NewPermissionsIndex(owner)
	assert.NoError(t, idx.validateReadAccess(owner, RootPath()))
}

func TestValidateReadAccessDeniesStrangerByDefault(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	stranger := mustName(t, "node.shinkai/bob")
	idx := NewPermissionsIndex(owner)

	err := idx.validateReadAccess(stranger, RootPath())
	assert.ErrorIs(t, err, ErrInvalidReadPermission)
}

func TestValidateReadAccessNodeProfilesGrant(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	bob := mustName(t, "node.shinkai/bob")
	idx := NewPermissionsIndex(owner)

	docs, _ := ParseVRPath("/docs")
	idx.permissions[docs.String()] = PathPermission{
		Read:      ReadPermission{Kind: ReadNodeProfiles, NodeProfiles: []identity.Name{bob}},
		Write:     WritePermission{Kind: WritePrivate},
		Whitelist: map[string]WhitelistPermission{},
	}

	assert.NoError(t, idx.validateReadAccess(bob, docs))

	other := mustName(t, "node.shinkai/carol")
	assert.ErrorIs(t, idx.validateReadAccess(other, docs), ErrInvalidReadPermission)
}

func TestValidateReadAccessInheritsFromAncestor(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	bob := mustName(t, "node.shinkai/bob")
	idx := NewPermissionsIndex(owner)

	docs, _ := ParseVRPath("/docs")
	idx.permissions[docs.String()] = PathPermission{
		Read:      ReadPermission{Kind: ReadPublic},
		Write:     WritePermission{Kind: WritePrivate},
		Whitelist: map[string]WhitelistPermission{},
	}

	animals, _ := ParseVRPath("/docs/animals")
	assert.NoError(t, idx.validateReadAccess(bob, animals))
}

func TestValidateWriteAccessWhitelist(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	bob := mustName(t, "node.shinkai/bob")
	idx := NewPermissionsIndex(owner)

	docs, _ := ParseVRPath("/docs")
	idx.permissions[docs.String()] = PathPermission{
		Read:      ReadPermission{Kind: ReadPrivate},
		Write:     WritePermission{Kind: WriteWhitelist},
		Whitelist: map[string]WhitelistPermission{bob.String(): WhitelistWrite},
	}

	assert.NoError(t, idx.validateWriteAccess(bob, docs))

	carol := mustName(t, "node.shinkai/carol")
	assert.ErrorIs(t, idx.validateWriteAccess(carol, docs), ErrInvalidWritePermission)
}

func TestSetPathPermissionRequiresOwner(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	bob := mustName(t, "node.shinkai/bob")

	v := NewVFS(nil)
	v.EnsureProfile(owner)

	docs, _ := ParseVRPath("/docs")
	err := v.SetPathPermission(owner, bob, docs, ReadPermission{Kind: ReadPublic}, WritePermission{Kind: WritePrivate})
	assert.ErrorIs(t, err, ErrInvalidWritePermission)

	err = v.SetPathPermission(owner, owner, docs, ReadPermission{Kind: ReadPublic}, WritePermission{Kind: WritePrivate})
	assert.NoError(t, err)
}

func TestSetWhitelistPreservesReadWriteRule(t *testing.T) {
	owner := mustName(t, "node.shinkai/alice")
	bob := mustName(t, "node.shinkai/bob")

	v := NewVFS(nil)
	v.EnsureProfile(owner)

	docs, _ := ParseVRPath("/docs")
	require.NoError(t, v.SetPathPermission(owner, owner, docs, ReadPermission{Kind: ReadWhitelist}, WritePermission{Kind: WritePrivate}))
	require.NoError(t, v.SetWhitelist(owner, owner, docs, bob, WhitelistRead))

	pf, err := v.profileByOwner(owner)
	require.NoError(t, err)
	pp, err := pf.permissions.GetPathPermission(docs)
	require.NoError(t, err)
	assert.Equal(t, ReadWhitelist, pp.Read.Kind)
	assert.Equal(t, WhitelistRead, pp.Whitelist[bob.String()])
}
