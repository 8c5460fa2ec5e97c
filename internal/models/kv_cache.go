// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/earshot-audio/earshot/internal/dbinterface"
)

// KVStore persists opaque cache payloads keyed by namespaced strings. It is
// the storage capability injected into the TTL cache layer; the cache layer
// owns freshness semantics, this store only owns bytes and row timestamps.
type KVStore struct {
	db dbinterface.Querier
}

// NewKVStore constructs a KVStore over the given database handle.
func NewKVStore(db dbinterface.Querier) *KVStore {
	return &KVStore{db: db}
}

// Get returns the stored payload for key, with found=false on a miss.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, fmt.Errorf("cache key cannot be empty")
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_cache WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch kv cache entry: %w", err)
	}
	return value, true, nil
}

// Set stores payload under key, replacing any previous value whole.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("cache key cannot be empty")
	}
	if len(value) == 0 {
		return fmt.Errorf("cache value cannot be empty")
	}

	const query = `
		INSERT INTO kv_cache (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("store kv cache entry: %w", err)
	}
	return nil
}

// Delete removes a single entry. Missing keys are not an error.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete kv cache entry: %w", err)
	}
	return nil
}

// DeleteOlderThan removes entries under prefix whose row timestamp is before
// cutoff, returning the number of rows dropped.
func (s *KVStore) DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM kv_cache WHERE key LIKE ? AND updated_at < ?`,
		prefix+"%",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge kv cache entries: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge kv cache rows affected: %w", err)
	}
	return deleted, nil
}
