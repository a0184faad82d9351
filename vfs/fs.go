package vfs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shinkai-run/shinkai-node/identity"
	"github.com/shinkai-run/shinkai-node/store"
)

// SourceFile is the optional raw-bytes reference an FSItem may carry
// (e.g. the PDF/CSV an ingestion pipeline parsed into a VectorResource;
// parsing those formats happens upstream — this is just the pointer to
// the source bytes in the source_files column family).
type SourceFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	StoreKey string `json:"store_key"`
	Size     int64  `json:"size"`
}

// FSFolder is a directory entry in a profile's VectorFS: a name, child
// folders/items by name, timestamps, and a Merkle hash over its
// metadata and children.
type FSFolder struct {
	Name          string    `json:"name"`
	Path          VRPath    `json:"path"`
	ChildFolders  []string  `json:"child_folders,omitempty"`
	ChildItems    []string  `json:"child_items,omitempty"`
	Created       time.Time `json:"created"`
	Modified      time.Time `json:"modified"`
	LastRead      time.Time `json:"last_read"`
	LastWritten   time.Time `json:"last_written"`
	MerkleHash    string    `json:"merkle_hash,omitempty"`
}

// FSItem is a leaf entry: a reference to a VectorResource (and
// optionally the SourceFile it was built from), sized and timestamped.
type FSItem struct {
	Name        string          `json:"name"`
	Path        VRPath          `json:"path"`
	Resource    *VectorResource `json:"resource"`
	SourceFile  *SourceFile     `json:"source_file,omitempty"`
	Size        int64           `json:"size"`
	Created     time.Time       `json:"created"`
	Modified    time.Time       `json:"modified"`
	LastRead    time.Time       `json:"last_read"`
	LastWritten time.Time       `json:"last_written"`
}

// MerkleHash returns the item's Merkle hash, which is its resource's
// root hash.
func (it *FSItem) MerkleHash() string {
	if it.Resource == nil {
		return ""
	}
	return it.Resource.MerkleRoot
}

// EntryView is what RetrievePath returns: exactly one of Folder or
// Item is set.
type EntryView struct {
	Folder *FSFolder
	Item   *FSItem
}

// ProfileFS is one profile's exclusively-owned VectorFS subtree: its
// folder/item tree, permission index, and write lock. Structural
// writes take the write lock; searches take the read lock.
type ProfileFS struct {
	mu          sync.RWMutex
	owner       identity.Name
	folders     map[string]*FSFolder // keyed by VRPath.String()
	items       map[string]*FSItem   // keyed by VRPath.String()
	permissions *PermissionsIndex
}

func newProfileFS(owner identity.Name) *ProfileFS {
	root := &FSFolder{Name: "", Path: RootPath(), Created: time.Time{}, Modified: time.Time{}}
	pf := &ProfileFS{
		owner:       owner,
		folders:     map[string]*FSFolder{RootPath().String(): root},
		items:       map[string]*FSItem{},
		permissions: NewPermissionsIndex(owner),
	}
	return pf
}

// VFS is the top-level composition root over every profile's
// VectorFS, mirroring identity.Manager's registry-behind-one-RWMutex
// shape, extended to one guarded map per profile's subtree rather
// than a single flat map, since each profile's structural lock must
// be independent.
type VFS struct {
	db store.Store

	mu       sync.RWMutex
	profiles map[string]*ProfileFS // keyed by owner.String()
}

// NewVFS creates a VFS backed by db (the `filesystem`/`resources`/
// `source_files` column families).
func NewVFS(db store.Store) *VFS {
	return &VFS{db: db, profiles: make(map[string]*ProfileFS)}
}

// EnsureProfile provisions owner's VectorFS root if it does not
// already exist, defaulted to Private/Private.
func (v *VFS) EnsureProfile(owner identity.Name) *ProfileFS {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := owner.String()
	if pf, ok := v.profiles[key]; ok {
		return pf
	}
	pf := newProfileFS(owner)
	v.profiles[key] = pf
	return pf
}


// persistKey builds the `filesystem` column family key for one
// profile's folder/item record.
func persistKey(owner identity.Name, path VRPath) string {
	return owner.String() + "::" + path.String()
}

func (pf *ProfileFS) persistFolder(ctx context.Context, db store.Store, f *FSFolder) error {
	if db == nil {
		return nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return db.Put(ctx, store.CFFilesystem, persistKey(pf.owner, f.Path), data)
}

func (pf *ProfileFS) persistItem(ctx context.Context, db store.Store, it *FSItem) error {
	if db == nil {
		return nil
	}
	data, err := json.Marshal(it)
	if err != nil {
		return err
	}
	return db.Put(ctx, store.CFFilesystem, persistKey(pf.owner, it.Path), data)
}

// CreateFolder creates a new subfolder at parent/name, recomputing
// Merkle hashes up to the FS root.
func (v *VFS) CreateFolder(ctx context.Context, owner, requester identity.Name, parent VRPath, name string) (*FSFolder, error) {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return nil, err
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.permissions.validateWriteAccess(requester, parent); err != nil {
		return nil, err
	}
	parentFolder, ok := pf.folders[parent.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, parent)
	}

	childPath := parent.Push(name)
	if _, exists := pf.folders[childPath.String()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, childPath)
	}
	if _, exists := pf.items[childPath.String()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, childPath)
	}

	now := time.Now()
	folder := &FSFolder{Name: name, Path: childPath, Created: now, Modified: now}
	pf.folders[childPath.String()] = folder
	parentFolder.ChildFolders = append(parentFolder.ChildFolders, name)
	parentFolder.Modified = now

	if err := pf.recomputeMerkleUpTo(childPath); err != nil {
		return nil, err
	}
	if err := pf.persistFolder(ctx, v.db, folder); err != nil {
		return nil, err
	}
	return folder, pf.persistFolder(ctx, v.db, parentFolder)
}

// RemoveFolder deletes the folder at path and everything beneath it.
func (v *VFS) RemoveFolder(ctx context.Context, owner, requester identity.Name, path VRPath) error {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return err
	}
	if path.IsRoot() {
		return fmt.Errorf("vfs: cannot remove the FS root")
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.permissions.validateWriteAccess(requester, path); err != nil {
		return err
	}
	if _, ok := pf.folders[path.String()]; !ok {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}

	pf.removeSubtreeLocked(path)
	pf.detachFromParentLocked(path)
	return pf.recomputeMerkleUpTo(path.Parent())
}

func (pf *ProfileFS) removeSubtreeLocked(path VRPath) {
	if folder, ok := pf.folders[path.String()]; ok {
		for _, childName := range folder.ChildFolders {
			pf.removeSubtreeLocked(path.Push(childName))
		}
		for _, childName := range folder.ChildItems {
			delete(pf.items, path.Push(childName).String())
		}
		delete(pf.folders, path.String())
	}
}

func (pf *ProfileFS) detachFromParentLocked(path VRPath) {
	parent, name := path.Pop()
	parentFolder, ok := pf.folders[parent.String()]
	if !ok {
		return
	}
	parentFolder.ChildFolders = removeString(parentFolder.ChildFolders, name)
	parentFolder.ChildItems = removeString(parentFolder.ChildItems, name)
	parentFolder.Modified = time.Now()
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// MoveFolder relocates the folder at src to become a child of
// dstParent, repointing parent pointers without recomputing the
// subtree's own internal hashes (only ancestors change).
func (v *VFS) MoveFolder(ctx context.Context, owner, requester identity.Name, src, dstParent VRPath) (*FSFolder, error) {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return nil, err
	}
	if src.IsRoot() {
		return nil, fmt.Errorf("vfs: cannot move the FS root")
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.permissions.validateWriteAccess(requester, src); err != nil {
		return nil, err
	}
	if err := pf.permissions.validateWriteAccess(requester, dstParent); err != nil {
		return nil, err
	}
	folder, ok := pf.folders[src.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, src)
	}
	if _, ok := pf.folders[dstParent.String()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, dstParent)
	}

	dst := dstParent.Push(folder.Name)
	if _, exists := pf.folders[dst.String()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, dst)
	}

	pf.detachFromParentLocked(src)
	pf.relocateSubtreeLocked(src, dst)

	dstParentFolder := pf.folders[dstParent.String()]
	dstParentFolder.ChildFolders = append(dstParentFolder.ChildFolders, folder.Name)
	dstParentFolder.Modified = time.Now()

	if err := pf.recomputeMerkleUpTo(src.Parent()); err != nil {
		return nil, err
	}
	if err := pf.recomputeMerkleUpTo(dst); err != nil {
		return nil, err
	}
	return pf.folders[dst.String()], nil
}

// relocateSubtreeLocked rewrites the Path field of every folder/item
// under src to be rooted at dst instead, reusing the same node objects
// (a move, not a copy).
func (pf *ProfileFS) relocateSubtreeLocked(src, dst VRPath) {
	folder := pf.folders[src.String()]
	delete(pf.folders, src.String())
	folder.Path = dst
	pf.folders[dst.String()] = folder

	for _, childName := range append([]string(nil), folder.ChildFolders...) {
		pf.relocateSubtreeLocked(src.Push(childName), dst.Push(childName))
	}
	for _, childName := range folder.ChildItems {
		itemSrc, itemDst := src.Push(childName), dst.Push(childName)
		item := pf.items[itemSrc.String()]
		delete(pf.items, itemSrc.String())
		item.Path = itemDst
		pf.items[itemDst.String()] = item
	}
}

// CopyFolder deep-copies the subtree at src under dstParent, giving
// every copied item and the folder itself an independent Merkle chain:
// mutating the copy must never affect the source, unlike MoveFolder
// which just re-parents the existing entries.
func (v *VFS) CopyFolder(ctx context.Context, owner, requester identity.Name, src, dstParent VRPath) (*FSFolder, error) {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return nil, err
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.permissions.validateReadAccess(requester, src); err != nil {
		return nil, err
	}
	if err := pf.permissions.validateWriteAccess(requester, dstParent); err != nil {
		return nil, err
	}
	folder, ok := pf.folders[src.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, src)
	}
	if _, ok := pf.folders[dstParent.String()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, dstParent)
	}
	dst := dstParent.Push(folder.Name)
	if _, exists := pf.folders[dst.String()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, dst)
	}

	pf.copySubtreeLocked(src, dst)
	dstParentFolder := pf.folders[dstParent.String()]
	dstParentFolder.ChildFolders = append(dstParentFolder.ChildFolders, folder.Name)
	dstParentFolder.Modified = time.Now()

	if err := pf.recomputeMerkleUpTo(dst); err != nil {
		return nil, err
	}
	return pf.folders[dst.String()], nil
}

func (pf *ProfileFS) copySubtreeLocked(src, dst VRPath) {
	srcFolder := pf.folders[src.String()]
	now := time.Now()
	copyFolder := &FSFolder{
		Name: srcFolder.Name, Path: dst,
		ChildFolders: append([]string(nil), srcFolder.ChildFolders...),
		ChildItems:   append([]string(nil), srcFolder.ChildItems...),
		Created:      now, Modified: now,
	}
	pf.folders[dst.String()] = copyFolder

	for _, childName := range srcFolder.ChildFolders {
		pf.copySubtreeLocked(src.Push(childName), dst.Push(childName))
	}
	for _, childName := range srcFolder.ChildItems {
		srcItem := pf.items[src.Push(childName).String()]
		resourceCopy := deepCopyResource(srcItem.Resource)
		pf.items[dst.Push(childName).String()] = &FSItem{
			Name: srcItem.Name, Path: dst.Push(childName),
			Resource: resourceCopy, SourceFile: srcItem.SourceFile,
			Size: srcItem.Size, Created: now, Modified: now,
		}
	}
}

func deepCopyResource(r *VectorResource) *VectorResource {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return r
	}
	var clone VectorResource
	if err := json.Unmarshal(data, &clone); err != nil {
		return r
	}
	clone.nodeIndex = nil
	_ = clone.recomputeMerkle()
	return &clone
}

// SaveItem writes (and overwrites, if name already exists) an item at
// parent/name, recomputing Merkle hashes from the changed node up to
// the FS root.
func (v *VFS) SaveItem(ctx context.Context, owner, requester identity.Name, parent VRPath, name string, resource *VectorResource, source *SourceFile) (*FSItem, error) {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return nil, err
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.permissions.validateWriteAccess(requester, parent); err != nil {
		return nil, err
	}
	parentFolder, ok := pf.folders[parent.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, parent)
	}

	if err := resource.recomputeMerkle(); err != nil {
		return nil, err
	}

	path := parent.Push(name)
	now := time.Now()
	existing, overwritten := pf.items[path.String()]
	item := &FSItem{Name: name, Path: path, Resource: resource, SourceFile: source, Modified: now}
	if overwritten {
		item.Created = existing.Created
	} else {
		item.Created = now
		parentFolder.ChildItems = append(parentFolder.ChildItems, name)
	}
	if source != nil {
		item.Size = source.Size
	}
	pf.items[path.String()] = item
	parentFolder.Modified = now

	if err := pf.recomputeMerkleUpTo(parent); err != nil {
		return nil, err
	}
	if err := pf.persistItem(ctx, v.db, item); err != nil {
		return nil, err
	}
	return item, pf.persistFolder(ctx, v.db, parentFolder)
}

// RemoveItem deletes the item at path.
func (v *VFS) RemoveItem(ctx context.Context, owner, requester identity.Name, path VRPath) error {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return err
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.permissions.validateWriteAccess(requester, path); err != nil {
		return err
	}
	if _, ok := pf.items[path.String()]; !ok {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	delete(pf.items, path.String())
	pf.detachFromParentLocked(path)
	return pf.recomputeMerkleUpTo(path.Parent())
}

// MoveItem relocates the item at src to parent/name under dstParent.
func (v *VFS) MoveItem(ctx context.Context, owner, requester identity.Name, src, dstParent VRPath) (*FSItem, error) {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return nil, err
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.permissions.validateWriteAccess(requester, src); err != nil {
		return nil, err
	}
	if err := pf.permissions.validateWriteAccess(requester, dstParent); err != nil {
		return nil, err
	}
	item, ok := pf.items[src.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, src)
	}
	if _, ok := pf.folders[dstParent.String()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, dstParent)
	}
	dst := dstParent.Push(item.Name)
	if _, exists := pf.items[dst.String()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, dst)
	}

	pf.detachFromParentLocked(src)
	delete(pf.items, src.String())
	item.Path = dst
	pf.items[dst.String()] = item

	dstParentFolder := pf.folders[dstParent.String()]
	dstParentFolder.ChildItems = append(dstParentFolder.ChildItems, item.Name)
	dstParentFolder.Modified = time.Now()

	if err := pf.recomputeMerkleUpTo(src.Parent()); err != nil {
		return nil, err
	}
	if err := pf.recomputeMerkleUpTo(dst); err != nil {
		return nil, err
	}
	return item, nil
}

// CopyItem deep-copies the item at src to dstParent, giving the copy
// an independent resource (and Merkle chain) from the source.
func (v *VFS) CopyItem(ctx context.Context, owner, requester identity.Name, src, dstParent VRPath) (*FSItem, error) {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return nil, err
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.permissions.validateReadAccess(requester, src); err != nil {
		return nil, err
	}
	if err := pf.permissions.validateWriteAccess(requester, dstParent); err != nil {
		return nil, err
	}
	item, ok := pf.items[src.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, src)
	}
	dstParentFolder, ok := pf.folders[dstParent.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, dstParent)
	}
	dst := dstParent.Push(item.Name)
	if _, exists := pf.items[dst.String()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, dst)
	}

	now := time.Now()
	copyItem := &FSItem{
		Name: item.Name, Path: dst, Resource: deepCopyResource(item.Resource),
		SourceFile: item.SourceFile, Size: item.Size, Created: now, Modified: now,
	}
	pf.items[dst.String()] = copyItem
	dstParentFolder.ChildItems = append(dstParentFolder.ChildItems, item.Name)
	dstParentFolder.Modified = now

	if err := pf.recomputeMerkleUpTo(dst); err != nil {
		return nil, err
	}
	return copyItem, nil
}

// RetrievePath returns the folder or item view at path, after a read
// permission check, and stamps the entry's last-read time.
func (v *VFS) RetrievePath(ctx context.Context, owner, requester identity.Name, path VRPath) (EntryView, error) {
	pf, err := v.profileByOwner(owner)
	if err != nil {
		return EntryView{}, err
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.permissions.validateReadAccess(requester, path); err != nil {
		return EntryView{}, err
	}

	if folder, ok := pf.folders[path.String()]; ok {
		folder.LastRead = time.Now()
		return EntryView{Folder: folder}, nil
	}
	if item, ok := pf.items[path.String()]; ok {
		item.LastRead = time.Now()
		return EntryView{Item: item}, nil
	}
	return EntryView{}, fmt.Errorf("%w: %s", ErrPathNotFound, path)
}

// recomputeMerkleUpTo recomputes the Merkle hash of the folder at path
// and every ancestor up to the FS root. Callers must already hold
// pf.mu for writing.
func (pf *ProfileFS) recomputeMerkleUpTo(path VRPath) error {
	walk := path
	for {
		folder, ok := pf.folders[walk.String()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPathNotFound, walk)
		}
		childHashes := make([]string, 0, len(folder.ChildFolders)+len(folder.ChildItems))
		for _, name := range folder.ChildFolders {
			child, ok := pf.folders[walk.Push(name).String()]
			if ok {
				childHashes = append(childHashes, child.MerkleHash)
			}
		}
		for _, name := range folder.ChildItems {
			child, ok := pf.items[walk.Push(name).String()]
			if ok {
				childHashes = append(childHashes, child.MerkleHash())
			}
		}
		meta, err := json.Marshal(struct {
			Name string
		}{folder.Name})
		if err != nil {
			return err
		}
		folder.MerkleHash = merkleHash(meta, childHashes)
		folder.Modified = time.Now()

		if walk.IsRoot() {
			return nil
		}
		walk = walk.Parent()
	}
}

// profileByOwner resolves the VectorFS belonging to owner. Every
// operation is addressed to a specific profile's subtree regardless of
// who the requester is — permission validation (not lookup) is what
// decides whether the requester may act on it.
func (v *VFS) profileByOwner(owner identity.Name) (*ProfileFS, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pf, ok := v.profiles[owner.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, owner)
	}
	return pf, nil
}
