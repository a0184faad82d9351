package vfs

import (
	"fmt"
	"sync"

	"github.com/shinkai-run/shinkai-node/identity"
)

// ReadPermission is the read access rule for a VRPath.
type ReadPermission struct {
	Kind         ReadKind         `json:"kind"`
	NodeProfiles []identity.Name  `json:"node_profiles,omitempty"`
}

// ReadKind tags the variant of a ReadPermission.
type ReadKind string

const (
	ReadPrivate      ReadKind = "Private"
	ReadNodeProfiles ReadKind = "NodeProfiles"
	ReadWhitelist    ReadKind = "Whitelist"
	ReadPublic       ReadKind = "Public"
)

// WritePermission is the write access rule for a VRPath.
type WritePermission struct {
	Kind         WriteKind        `json:"kind"`
	NodeProfiles []identity.Name  `json:"node_profiles,omitempty"`
}

// WriteKind tags the variant of a WritePermission.
type WriteKind string

const (
	WritePrivate      WriteKind = "Private"
	WriteNodeProfiles WriteKind = "NodeProfiles"
	WriteWhitelist    WriteKind = "Whitelist"
)

// WhitelistPermission is the per-identity grant recorded in a
// PathPermission's whitelist.
type WhitelistPermission string

const (
	WhitelistRead      WhitelistPermission = "Read"
	WhitelistWrite     WhitelistPermission = "Write"
	WhitelistReadWrite WhitelistPermission = "ReadWrite"
)

// PathPermission is the read/write rule plus whitelist recorded for
// one VRPath, serialized as
// {read_permission, write_permission, whitelist}.
type PathPermission struct {
	Read      ReadPermission                       `json:"read_permission"`
	Write     WritePermission                      `json:"write_permission"`
	Whitelist map[string]WhitelistPermission `json:"whitelist"`
}

// defaultRootPermission is Private/Private.
func defaultRootPermission() PathPermission {
	return PathPermission{
		Read:      ReadPermission{Kind: ReadPrivate},
		Write:     WritePermission{Kind: WritePrivate},
		Whitelist: map[string]WhitelistPermission{},
	}
}

// whitelistFor looks up requester's whitelist grant, falling back to a
// grant recorded for just its node name: a grant for the bare node
// applies to every profile under it when no profile-specific grant
// exists.
func (pp PathPermission) whitelistFor(requester identity.Name) (WhitelistPermission, bool) {
	if perm, ok := pp.Whitelist[requester.String()]; ok {
		return perm, true
	}
	perm, ok := pp.Whitelist[requester.Node]
	return perm, ok
}

// PermissionsIndex holds the per-path permission map for one profile's
// VectorFS, guarded by a single RWMutex the way identity.Registry
// guards its map.
type PermissionsIndex struct {
	mu          sync.RWMutex
	permissions map[string]PathPermission // keyed by VRPath.String()
	profile     identity.Name
}

// NewPermissionsIndex creates an index with the FS root defaulted to
// Private/Private, the only permission entry guaranteed to exist.
func NewPermissionsIndex(profile identity.Name) *PermissionsIndex {
	idx := &PermissionsIndex{
		permissions: make(map[string]PathPermission),
		profile:     profile,
	}
	idx.permissions[RootPath().String()] = defaultRootPermission()
	return idx
}

// ErrNoPermissionEntry is returned by GetPathPermission when path has
// no permission recorded directly on it (ancestor inheritance is only
// applied during access validation, not lookup).
var ErrNoPermissionEntry = fmt.Errorf("vfs: no permission entry at path")

// GetPathPermission returns the permission recorded directly at path.
func (idx *PermissionsIndex) GetPathPermission(path VRPath) (PathPermission, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pp, ok := idx.permissions[path.String()]
	if !ok {
		return PathPermission{}, ErrNoPermissionEntry
	}
	return pp, nil
}

// SetPathPermission overwrites the read/write rule at path, preserving
// any existing whitelist. Only owner itself may set a permission.
func (v *VFS) SetPathPermission(owner, requester identity.Name, path VRPath, read ReadPermission, write WritePermission) error {
	profileFS, err := v.profileByOwner(owner)
	if err != nil {
		return err
	}
	if requester.String() != owner.String() {
		return fmt.Errorf("%w: %s %s", ErrInvalidWritePermission, requester, path)
	}

	pi := profileFS.permissions
	pi.mu.Lock()
	defer pi.mu.Unlock()
	existing, ok := pi.permissions[path.String()]
	whitelist := map[string]WhitelistPermission{}
	if ok {
		whitelist = existing.Whitelist
	}
	pi.permissions[path.String()] = PathPermission{Read: read, Write: write, Whitelist: whitelist}
	return nil
}

// SetWhitelist grants target a WhitelistPermission on path, creating a
// permission entry if one is not already recorded there.
func (v *VFS) SetWhitelist(owner, requester identity.Name, path VRPath, target identity.Name, perm WhitelistPermission) error {
	profileFS, err := v.profileByOwner(owner)
	if err != nil {
		return err
	}
	if requester.String() != owner.String() {
		return fmt.Errorf("%w: %s %s", ErrInvalidWritePermission, requester, path)
	}

	pi := profileFS.permissions
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pp, ok := pi.permissions[path.String()]
	if !ok {
		pp = PathPermission{Read: ReadPermission{Kind: ReadPrivate}, Write: WritePermission{Kind: WritePrivate}, Whitelist: map[string]WhitelistPermission{}}
	}
	if pp.Whitelist == nil {
		pp.Whitelist = map[string]WhitelistPermission{}
	}
	pp.Whitelist[target.String()] = perm
	pi.permissions[path.String()] = pp
	return nil
}

// validateReadAccess walks path upward until a permission entry is
// found, mirroring vector_fs_permissions.rs's validate_read_access.
// The profile owner always passes regardless of the recorded rule.
func (pi *PermissionsIndex) validateReadAccess(requester identity.Name, path VRPath) error {
	if requester.Profile == pi.profile.Profile && requester.Node == pi.profile.Node {
		return nil
	}

	walk := path.Clone()
	for {
		pi.mu.RLock()
		pp, ok := pi.permissions[walk.String()]
		pi.mu.RUnlock()

		if ok {
			switch pp.Read.Kind {
			case ReadPublic:
				return nil
			case ReadPrivate:
				return fmt.Errorf("%w: %s %s", ErrInvalidReadPermission, requester, path)
			case ReadNodeProfiles:
				for _, p := range pp.Read.NodeProfiles {
					if p.Node == pi.profile.Node && p.Profile == requester.Profile {
						return nil
					}
				}
				return fmt.Errorf("%w: %s %s", ErrInvalidReadPermission, requester, path)
			case ReadWhitelist:
				if grant, ok := pp.whitelistFor(requester); ok &&
					(grant == WhitelistRead || grant == WhitelistReadWrite) {
					return nil
				}
				return fmt.Errorf("%w: %s %s", ErrInvalidReadPermission, requester, path)
			}
		}

		if walk.IsRoot() {
			return fmt.Errorf("%w: %s %s", ErrInvalidReadPermission, requester, path)
		}
		walk = walk.Parent()
	}
}

// validateWriteAccess is validateReadAccess's write-permission twin.
func (pi *PermissionsIndex) validateWriteAccess(requester identity.Name, path VRPath) error {
	if requester.Profile == pi.profile.Profile && requester.Node == pi.profile.Node {
		return nil
	}

	walk := path.Clone()
	for {
		pi.mu.RLock()
		pp, ok := pi.permissions[walk.String()]
		pi.mu.RUnlock()

		if ok {
			switch pp.Write.Kind {
			case WritePrivate:
				return fmt.Errorf("%w: %s %s", ErrInvalidWritePermission, requester, path)
			case WriteNodeProfiles:
				for _, p := range pp.Write.NodeProfiles {
					if p.Node == pi.profile.Node && p.Profile == requester.Profile {
						return nil
					}
				}
				return fmt.Errorf("%w: %s %s", ErrInvalidWritePermission, requester, path)
			case WriteWhitelist:
				if grant, ok := pp.whitelistFor(requester); ok &&
					(grant == WhitelistWrite || grant == WhitelistReadWrite) {
					return nil
				}
				return fmt.Errorf("%w: %s %s", ErrInvalidWritePermission, requester, path)
			}
		}

		if walk.IsRoot() {
			return fmt.Errorf("%w: %s %s", ErrInvalidWritePermission, requester, path)
		}
		walk = walk.Parent()
	}
}

