package store

import "context"

// Store is the abstract key-value store every component persists
// through, partitioned into column families.
type Store interface {
	Put(ctx context.Context, cf ColumnFamily, key string, value []byte) error
	Get(ctx context.Context, cf ColumnFamily, key string) ([]byte, error)
	Delete(ctx context.Context, cf ColumnFamily, key string) error

	// Scan returns every entry in cf whose key has the given prefix,
	// ordered lexicographically by key.
	Scan(ctx context.Context, cf ColumnFamily, prefix string) ([]KV, error)

	Close() error
	Ping(ctx context.Context) error
}
