package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/shinkai-run/shinkai-node/store"
)

// ErrIdentityNotFound is returned when a name has no local or
// resolvable remote record.
var ErrIdentityNotFound = errors.New("identity: not found")

// ErrAlreadyRegistered is returned by InsertProfile/InsertDevice when
// the name is already present locally.
var ErrAlreadyRegistered = errors.New("identity: already registered")

// Registry is the local persistent mapping from identity name to
// public keys and permission level, backed by the `identities` column
// family.
type Registry struct {
	db store.Store
}

// NewRegistry wraps a Store as an identity Registry.
func NewRegistry(db store.Store) *Registry {
	return &Registry{db: db}
}

// InsertProfile registers a new profile-kind identity.
func (r *Registry) InsertProfile(ctx context.Context, rec Record) error {
	rec.Kind = KindProfile
	return r.insert(ctx, rec)
}

// InsertDevice registers a new device-kind identity, nested under its
// owning profile.
func (r *Registry) InsertDevice(ctx context.Context, rec Record) error {
	rec.Kind = KindDevice
	return r.insert(ctx, rec)
}

func (r *Registry) insert(ctx context.Context, rec Record) error {
	key := rec.Key()
	if _, err := r.db.Get(ctx, store.CFIdentities, key); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("identity: marshal record: %w", err)
	}
	return r.db.Put(ctx, store.CFIdentities, key, data)
}

// Lookup returns the locally registered record for a full identity
// name and kind, without consulting any remote resolver.
func (r *Registry) Lookup(ctx context.Context, name Name, kind Kind) (Record, error) {
	key := string(kind) + "::" + name.String()
	data, err := r.db.Get(ctx, store.CFIdentities, key)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrIdentityNotFound, key)
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("identity: unmarshal record: %w", err)
	}
	return rec, nil
}

// Update overwrites an already-registered record (e.g. key rotation).
func (r *Registry) Update(ctx context.Context, rec Record) error {
	key := rec.Key()
	if _, err := r.db.Get(ctx, store.CFIdentities, key); errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrIdentityNotFound, key)
	} else if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("identity: marshal record: %w", err)
	}
	return r.db.Put(ctx, store.CFIdentities, key, data)
}

// Manager is the composition root for identity resolution: a local
// Registry plus a pluggable RemoteResolver for names this node does
// not hold.
type Manager struct {
	mu       sync.RWMutex
	registry *Registry
	remote   RemoteResolver
}

// NewManager builds a Manager over a local Registry. remote may be nil
// if no remote resolution is configured.
func NewManager(registry *Registry, remote RemoteResolver) *Manager {
	return &Manager{registry: registry, remote: remote}
}

// SetRemoteResolver replaces the configured remote resolver.
func (m *Manager) SetRemoteResolver(remote RemoteResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = remote
}

// Resolve looks up name locally first; on a local miss for a name of any
// kind, it falls back to the configured remote resolver for the name's
// node (name.Node) and returns that node's record.
func (m *Manager) Resolve(ctx context.Context, full string) (Record, error) {
	name, err := ParseName(full)
	if err != nil {
		return Record{}, err
	}

	rec, err := m.registry.Lookup(ctx, name, name.Kind())
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return Record{}, err
	}

	m.mu.RLock()
	remote := m.remote
	m.mu.RUnlock()
	if remote == nil {
		return Record{}, err
	}
	return remote.ResolveNode(ctx, name.Node)
}

// InsertProfile delegates to the local registry.
func (m *Manager) InsertProfile(ctx context.Context, rec Record) error {
	return m.registry.InsertProfile(ctx, rec)
}

// InsertDevice delegates to the local registry.
func (m *Manager) InsertDevice(ctx context.Context, rec Record) error {
	return m.registry.InsertDevice(ctx, rec)
}
