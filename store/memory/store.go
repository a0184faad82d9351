// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package memory implements store.Store entirely in process memory,
// useful for tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shinkai-run/shinkai-node/store"
)

// Store implements store.Store with one guarded map per column family.
type Store struct {
	mu   sync.RWMutex
	data map[store.ColumnFamily]map[string][]byte
}

// NewStore creates a new in-memory store with every known column
// family provisioned empty.
func NewStore() *Store {
	s := &Store{data: make(map[store.ColumnFamily]map[string][]byte)}
	for _, cf := range store.AllColumnFamilies {
		s.data[cf] = make(map[string][]byte)
	}
	return s
}

func (s *Store) family(cf store.ColumnFamily) map[string][]byte {
	m, ok := s.data[cf]
	if !ok {
		m = make(map[string][]byte)
		s.data[cf] = m
	}
	return m
}

func (s *Store) Put(_ context.Context, cf store.ColumnFamily, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	s.family(cf)[key] = cp
	return nil
}

func (s *Store) Get(_ context.Context, cf store.ColumnFamily, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.family(cf)[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *Store) Delete(_ context.Context, cf store.ColumnFamily, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.family(cf), key)
	return nil
}

func (s *Store) Scan(_ context.Context, cf store.ColumnFamily, prefix string) ([]store.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.KV
	for k, v := range s.family(cf) {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		out = append(out, store.KV{Key: k, Value: cp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

// Clear removes every entry from every column family. Useful for tests.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cf := range store.AllColumnFamilies {
		s.data[cf] = make(map[string][]byte)
	}
}
