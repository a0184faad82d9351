package vfs

import "errors"

var (
	// ErrPathNotFound is returned when an operation names a VRPath with
	// no folder or item recorded there.
	ErrPathNotFound = errors.New("vfs: path not found")
	// ErrInvalidReadPermission is returned when a requester fails the
	// read-access walk for a path.
	ErrInvalidReadPermission = errors.New("vfs: invalid read permission")
	// ErrInvalidWritePermission is returned when a requester fails the
	// write-access walk for a path.
	ErrInvalidWritePermission = errors.New("vfs: invalid write permission")
	// ErrMerkleMismatch is returned by verification routines when a
	// recomputed hash does not match the stored one.
	ErrMerkleMismatch = errors.New("vfs: merkle mismatch")
	// ErrNotAFolder/ErrNotAnItem are returned when an operation expects
	// the other kind of entry at path.
	ErrNotAFolder = errors.New("vfs: not a folder")
	ErrNotAnItem  = errors.New("vfs: not an item")
	// ErrAlreadyExists is returned by create/move/copy operations that
	// would overwrite an existing entry.
	ErrAlreadyExists = errors.New("vfs: entry already exists")
	// ErrProfileNotFound is returned when an operation names a profile
	// with no provisioned VectorFS.
	ErrProfileNotFound = errors.New("vfs: profile not found")
)
