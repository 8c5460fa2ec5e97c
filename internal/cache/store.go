// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cache implements the two-tier TTL cache backing every remote
// lookup: an in-process ttlcache layer in front of an injected persisted
// key/value capability. The store is passive; it classifies entry age and
// never initiates network calls.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Status classifies an entry's age relative to its family TTLs.
type Status int

const (
	// Absent means no usable entry exists.
	Absent Status = iota
	// Fresh means age <= TTL; the value is authoritative.
	Fresh
	// Stale means TTL < age <= purge horizon; callers may serve the value
	// as a fallback but should refresh.
	Stale
	// Expired means age > purge horizon; the value is not returned and the
	// entry is dropped on the next purge pass.
	Expired
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return "absent"
	}
}

// Usable reports whether a read with this status carries a value a caller
// may serve (fresh, or stale as a fallback).
func (s Status) Usable() bool {
	return s == Fresh || s == Stale
}

// Family describes one cache namespace and its age thresholds.
type Family struct {
	Namespace string
	TTL       time.Duration
	// NegativeTTL applies to entries written with WriteNegative (empty or
	// failed remote results). Zero means same as TTL.
	NegativeTTL time.Duration
	// PurgeHorizon is the age past which entries are dropped. Zero means
	// 3x TTL.
	PurgeHorizon time.Duration
}

func (f Family) horizon() time.Duration {
	if f.PurgeHorizon > 0 {
		return f.PurgeHorizon
	}
	return 3 * f.TTL
}

func (f Family) negativeTTL() time.Duration {
	if f.NegativeTTL > 0 {
		return f.NegativeTTL
	}
	return f.TTL
}

// KV is the persisted storage capability injected into a Store. Implemented
// by models.KVStore; tests substitute an in-memory map.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error)
}

// envelope is the persisted wire shape: a write timestamp plus the payload.
// Schema-mismatched or truncated rows decode to a zero envelope and are
// treated as absent.
type envelope struct {
	At       int64           `json:"at"`
	Negative bool            `json:"negative,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

type memEntry[T any] struct {
	value     T
	writtenAt time.Time
	negative  bool
}

// Store is one cache family over the shared KV capability. Writes always
// replace the whole entry; concurrent writers are last-write-wins.
type Store[T any] struct {
	family Family
	kv     KV
	mem    *ttlcache.Cache[string, memEntry[T]]
	logger zerolog.Logger

	// memOnly flips on after a persistence failure; the store then degrades
	// to in-memory-only for the rest of the process lifetime.
	memOnly atomic.Bool

	now func() time.Time
}

// NewStore constructs a Store for the given family. A nil kv yields a
// memory-only store.
func NewStore[T any](kv KV, family Family) *Store[T] {
	s := &Store[T]{
		family: family,
		kv:     kv,
		mem: ttlcache.New(ttlcache.Options[string, memEntry[T]]{}.
			SetDefaultTTL(family.horizon())),
		logger: log.Logger.With().Str("module", "cache").Str("family", family.Namespace).Logger(),
		now:    time.Now,
	}
	if kv == nil {
		s.memOnly.Store(true)
	}
	return s
}

// Key builds a namespaced cache key from discriminator parts. Parts are
// lowercased and trimmed so logically-equal discriminators map to
// byte-identical keys.
func (s *Store[T]) Key(parts ...string) string {
	normalized := make([]string, 0, len(parts)+1)
	normalized = append(normalized, s.family.Namespace)
	for _, p := range parts {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(p)))
	}
	return strings.Join(normalized, ":")
}

// Read returns the entry's status and, for fresh or stale entries, its value.
func (s *Store[T]) Read(ctx context.Context, key string) (Status, T) {
	var zero T

	if entry, ok := s.mem.Get(key); ok {
		status := s.classify(entry.writtenAt, entry.negative)
		if status.Usable() {
			return status, entry.value
		}
		return status, zero
	}

	if s.memOnly.Load() {
		return Absent, zero
	}

	raw, found, err := s.kv.Get(ctx, key)
	if err != nil {
		// A cancelled caller is not a persistence failure; the store stays
		// intact for the next request.
		if ctx.Err() == nil {
			s.degrade(err)
		}
		return Absent, zero
	}
	if !found {
		return Absent, zero
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.At == 0 || len(env.Payload) == 0 {
		// Malformed or schema-mismatched persisted value: treat as absent
		// and clear the row so it is not re-decoded on every read.
		_ = s.kv.Delete(ctx, key)
		return Absent, zero
	}

	var value T
	if err := json.Unmarshal(env.Payload, &value); err != nil {
		_ = s.kv.Delete(ctx, key)
		return Absent, zero
	}

	writtenAt := time.UnixMilli(env.At)
	status := s.classify(writtenAt, env.Negative)
	if !status.Usable() {
		return status, zero
	}

	s.mem.Set(key, memEntry[T]{value: value, writtenAt: writtenAt, negative: env.Negative}, ttlcache.DefaultTTL)
	return status, value
}

// Write stores value under key as a positive entry.
func (s *Store[T]) Write(ctx context.Context, key string, value T) {
	s.write(ctx, key, value, false)
}

// WriteNegative stores value under key with the family's shorter negative
// TTL, so an empty or failed remote result is not re-fetched immediately.
func (s *Store[T]) WriteNegative(ctx context.Context, key string, value T) {
	s.write(ctx, key, value, true)
}

func (s *Store[T]) write(ctx context.Context, key string, value T, negative bool) {
	writtenAt := s.now()
	s.mem.Set(key, memEntry[T]{value: value, writtenAt: writtenAt, negative: negative}, ttlcache.DefaultTTL)

	if s.memOnly.Load() {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		s.degrade(err)
		return
	}
	raw, err := json.Marshal(envelope{At: writtenAt.UnixMilli(), Negative: negative, Payload: payload})
	if err != nil {
		s.degrade(err)
		return
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		if ctx.Err() == nil {
			s.degrade(err)
		}
	}
}

// Purge drops persisted entries older than the family's purge horizon.
func (s *Store[T]) Purge(ctx context.Context) (int64, error) {
	if s.memOnly.Load() {
		return 0, nil
	}
	cutoff := s.now().Add(-s.family.horizon())
	return s.kv.DeleteOlderThan(ctx, s.family.Namespace+":", cutoff)
}

func (s *Store[T]) classify(writtenAt time.Time, negative bool) Status {
	age := s.now().Sub(writtenAt)
	ttl := s.family.TTL
	if negative {
		ttl = s.family.negativeTTL()
	}
	switch {
	case age <= ttl:
		return Fresh
	case age <= s.family.horizon():
		return Stale
	default:
		return Expired
	}
}

// degrade switches the store to memory-only. Persistence failures never
// raise to callers.
func (s *Store[T]) degrade(err error) {
	if s.memOnly.CompareAndSwap(false, true) {
		s.logger.Warn().Err(err).Msg("Persistence failed, falling back to in-memory cache for this process")
	}
}
