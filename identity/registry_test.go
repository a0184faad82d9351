package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinkai-run/shinkai-node/store/memory"
)

func TestParseNameAndString(t *testing.T) {
	cases := []struct {
		full string
		want Name
		kind Kind
	}{
		{"node.shinkai", Name{Node: "node.shinkai"}, KindNode},
		{"node.shinkai/alice", Name{Node: "node.shinkai", Profile: "alice"}, KindProfile},
		{"node.shinkai/alice/work", Name{Node: "node.shinkai", Profile: "alice", Subprofile: "work"}, KindProfile},
		{"node.shinkai/alice/work/laptop", Name{Node: "node.shinkai", Profile: "alice", Subprofile: "work", Device: "laptop"}, KindDevice},
	}
	for _, tc := range cases {
		n, err := ParseName(tc.full)
		require.NoError(t, err)
		assert.Equal(t, tc.want, n)
		assert.Equal(t, tc.kind, n.Kind())
		assert.Equal(t, tc.full, n.String())
	}
}

func TestParseNameRejectsMalformed(t *testing.T) {
	_, err := ParseName("")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = ParseName("a/b/c/d/e")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestIsLocalhost(t *testing.T) {
	n, err := ParseName("localhost.relay/alice")
	require.NoError(t, err)
	assert.True(t, n.IsLocalhost())

	n, err = ParseName("node.shinkai/alice")
	require.NoError(t, err)
	assert.False(t, n.IsLocalhost())
}

func TestRegistryInsertAndLookup(t *testing.T) {
	db := memory.NewStore()
	reg := NewRegistry(db)
	ctx := context.Background()

	name, err := ParseName("node.shinkai/alice")
	require.NoError(t, err)

	rec := Record{
		Name:          name,
		SigningKey:    []byte("sig-pub"),
		EncryptionKey: []byte("enc-pub"),
		Permission:    PermissionStandard,
	}
	require.NoError(t, reg.InsertProfile(ctx, rec))

	got, err := reg.Lookup(ctx, name, KindProfile)
	require.NoError(t, err)
	assert.Equal(t, rec.SigningKey, got.SigningKey)
	assert.Equal(t, PermissionStandard, got.Permission)
}

func TestRegistryInsertRejectsDuplicate(t *testing.T) {
	db := memory.NewStore()
	reg := NewRegistry(db)
	ctx := context.Background()

	name, err := ParseName("node.shinkai/alice")
	require.NoError(t, err)
	rec := Record{Name: name, Permission: PermissionStandard}

	require.NoError(t, reg.InsertProfile(ctx, rec))
	err = reg.InsertProfile(ctx, rec)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegistryLookupMissing(t *testing.T) {
	db := memory.NewStore()
	reg := NewRegistry(db)
	ctx := context.Background()

	name, err := ParseName("node.shinkai/ghost")
	require.NoError(t, err)
	_, err = reg.Lookup(ctx, name, KindProfile)
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

type stubResolver struct {
	records map[string]Record
}

func (s *stubResolver) ResolveNode(_ context.Context, nodeName string) (Record, error) {
	rec, ok := s.records[nodeName]
	if !ok {
		return Record{}, ErrIdentityNotFound
	}
	return rec, nil
}

func TestManagerFallsBackToRemoteResolver(t *testing.T) {
	db := memory.NewStore()
	reg := NewRegistry(db)
	remote := &stubResolver{records: map[string]Record{
		"bob.shinkai": {Permission: PermissionStandard},
	}}
	mgr := NewManager(reg, remote)

	rec, err := mgr.Resolve(context.Background(), "bob.shinkai")
	require.NoError(t, err)
	assert.Equal(t, PermissionStandard, rec.Permission)
}

func TestManagerPrefersLocalOverRemote(t *testing.T) {
	db := memory.NewStore()
	reg := NewRegistry(db)
	ctx := context.Background()

	name, err := ParseName("node.shinkai/alice")
	require.NoError(t, err)
	require.NoError(t, reg.InsertProfile(ctx, Record{Name: name, Permission: PermissionAdmin}))

	remote := &stubResolver{records: map[string]Record{
		"node.shinkai": {Permission: PermissionNone},
	}}
	mgr := NewManager(reg, remote)

	rec, err := mgr.Resolve(ctx, "node.shinkai/alice")
	require.NoError(t, err)
	assert.Equal(t, PermissionAdmin, rec.Permission)
}

func TestMultiResolverTriesEachInOrder(t *testing.T) {
	first := &stubResolver{records: map[string]Record{}}
	second := &stubResolver{records: map[string]Record{
		"node.shinkai": {Permission: PermissionStandard},
	}}
	multi := NewMultiResolver(first, second)

	rec, err := multi.ResolveNode(context.Background(), "node.shinkai")
	require.NoError(t, err)
	assert.Equal(t, PermissionStandard, rec.Permission)
}
