// Package identity maps hierarchical Shinkai names to public keys and
// permission levels, and resolves names the local node does not hold
// against a pluggable remote resolver.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags what a Name addresses.
type Kind string

const (
	KindNode    Kind = "Node"
	KindProfile Kind = "Profile"
	KindDevice  Kind = "Device"
	KindAgent   Kind = "Agent"
)

// Permission is the access level granted to an identity.
type Permission string

const (
	PermissionNone     Permission = "None"
	PermissionStandard Permission = "Standard"
	PermissionAdmin    Permission = "Admin"
)

// Name is a parsed hierarchical identity string:
// node.tld/profile[/subprofile[/device]]. The node segment is global,
// profile is per-user, device is per-session.
type Name struct {
	Node       string
	Profile    string
	Subprofile string
	Device     string
}

// ErrInvalidName is returned when a string does not parse as a
// well-formed hierarchical identity name.
var ErrInvalidName = errors.New("identity: invalid name")

// ParseName splits a full identity string into its hierarchical parts.
func ParseName(full string) (Name, error) {
	if full == "" {
		return Name{}, fmt.Errorf("%w: empty", ErrInvalidName)
	}
	segments := strings.Split(full, "/")
	if len(segments) == 0 || segments[0] == "" {
		return Name{}, fmt.Errorf("%w: %q", ErrInvalidName, full)
	}
	n := Name{Node: segments[0]}
	if len(segments) > 1 {
		n.Profile = segments[1]
	}
	if len(segments) > 2 {
		n.Subprofile = segments[2]
	}
	if len(segments) > 3 {
		n.Device = segments[3]
	}
	if len(segments) > 4 {
		return Name{}, fmt.Errorf("%w: too many segments in %q", ErrInvalidName, full)
	}
	return n, nil
}

// String reassembles a Name into its canonical full identity string.
func (n Name) String() string {
	parts := []string{n.Node}
	if n.Profile != "" {
		parts = append(parts, n.Profile)
	}
	if n.Subprofile != "" {
		parts = append(parts, n.Subprofile)
	}
	if n.Device != "" {
		parts = append(parts, n.Device)
	}
	return strings.Join(parts, "/")
}

// Kind reports the most specific kind a Name addresses.
func (n Name) Kind() Kind {
	switch {
	case n.Device != "":
		return KindDevice
	case n.Subprofile != "":
		return KindProfile
	case n.Profile != "":
		return KindProfile
	default:
		return KindNode
	}
}

// IsLocalhost reports whether the node segment marks an unregistered,
// relay-only node (the router's proxy-rewrite case).
func (n Name) IsLocalhost() bool {
	return strings.HasPrefix(n.Node, "localhost")
}

// Record is the stored representation of an identity: its keys and
// permission level, keyed by Kind in the identities column family so
// profile, device, and external-node identities partition cleanly
// under one prefix.
type Record struct {
	Name         Name
	Kind         Kind
	SigningKey   []byte // Ed25519 public key, raw bytes
	EncryptionKey []byte // X25519 public key, raw bytes
	Permission   Permission
}

// Key returns the identities column family key for rec: its kind and
// full name, so distinct kinds at the same name never collide.
func (rec Record) Key() string {
	return string(rec.Kind) + "::" + rec.Name.String()
}
