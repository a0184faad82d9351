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

// Package postgres implements store.Store on top of a single table,
// partitioned by column family, via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shinkai-run/shinkai-node/store"
)

// Store implements store.Store for PostgreSQL. Every column family
// shares one physical table (cf, key) -> value; the column family
// name is just a partition key, so no migration is needed to add one.
type Store struct {
	pool *pgxpool.Pool
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS shinkai_kv (
	cf    TEXT NOT NULL,
	key   TEXT NOT NULL,
	value BYTEA NOT NULL,
	PRIMARY KEY (cf, key)
);
`

// NewStore creates a new PostgreSQL-backed store and ensures the
// backing table exists.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to provision schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Put(ctx context.Context, cf store.ColumnFamily, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO shinkai_kv (cf, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (cf, key) DO UPDATE SET value = EXCLUDED.value`,
		string(cf), key, value)
	return err
}

func (s *Store) Get(ctx context.Context, cf store.ColumnFamily, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM shinkai_kv WHERE cf = $1 AND key = $2`,
		string(cf), key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, cf store.ColumnFamily, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM shinkai_kv WHERE cf = $1 AND key = $2`, string(cf), key)
	return err
}

func (s *Store) Scan(ctx context.Context, cf store.ColumnFamily, prefix string) ([]store.KV, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM shinkai_kv WHERE cf = $1 AND key LIKE $2 ORDER BY key`,
		string(cf), prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.KV
	for rows.Next() {
		var kv store.KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
