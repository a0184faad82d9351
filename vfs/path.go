// Package vfs implements the per-profile, hierarchical, vector-indexed
// content store: folders and items addressed by a VRPath,
// fine-grained path permissions, Merkle integrity, and
// semantic search that descends through nested resources.
package vfs

import (
	"errors"
	"strings"
)

// ErrInvalidPath is returned when a string does not parse as a
// well-formed VRPath.
var ErrInvalidPath = errors.New("vfs: invalid path")

// VRPath is a sequence of string IDs; the root is the empty sequence.
// Path IDs may not contain "/".
type VRPath []string

// RootPath returns the VRPath addressing the root of a profile's FS.
func RootPath() VRPath { return VRPath{} }

// ParseVRPath parses "/a/b/c" (or "" / "/" for root) into a VRPath.
// It is the exact inverse of VRPath.String.
func ParseVRPath(s string) (VRPath, error) {
	if s == "" || s == "/" {
		return VRPath{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, ErrInvalidPath
	}
	segments := strings.Split(strings.TrimPrefix(s, "/"), "/")
	path := make(VRPath, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			return nil, ErrInvalidPath
		}
		path = append(path, seg)
	}
	return path, nil
}

// String renders path back into "/a/b/c" form ("/" for root).
func (p VRPath) String() string {
	if len(p) == 0 {
		return "/"
	}
	return "/" + strings.Join([]string(p), "/")
}

// Push returns a new VRPath with id appended.
func (p VRPath) Push(id string) VRPath {
	out := make(VRPath, len(p)+1)
	copy(out, p)
	out[len(p)] = id
	return out
}

// Pop returns path with its final segment removed, and that segment.
// Popping the root returns (root, "").
func (p VRPath) Pop() (VRPath, string) {
	if len(p) == 0 {
		return p, ""
	}
	return p[:len(p)-1], p[len(p)-1]
}

// Parent returns path's parent, or root if path is already root.
func (p VRPath) Parent() VRPath {
	parent, _ := p.Pop()
	return parent
}

// Name returns the final segment of path, or "" at the root.
func (p VRPath) Name() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Depth returns the number of segments in path (0 at root).
func (p VRPath) Depth() int { return len(p) }

// IsRoot reports whether path addresses the FS root.
func (p VRPath) IsRoot() bool { return len(p) == 0 }

// Equal reports whether p and other address the same path.
func (p VRPath) Equal(other VRPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether p is nested under ancestor or equal
// to it, matching the permission-walk's inclusive semantics.
func (p VRPath) IsDescendantOf(ancestor VRPath) bool {
	if len(ancestor) > len(p) {
		return false
	}
	for i := range ancestor {
		if ancestor[i] != p[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether p is ancestor (or equal) to descendant.
func (p VRPath) IsAncestorOf(descendant VRPath) bool {
	return descendant.IsDescendantOf(p)
}

// Clone returns an independent copy of p.
func (p VRPath) Clone() VRPath {
	out := make(VRPath, len(p))
	copy(out, p)
	return out
}
