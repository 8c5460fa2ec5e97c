// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const purgeInterval = 1 * time.Hour

// Manager owns the shared KV capability and runs the background purge loop
// for every registered family. It is constructed explicitly and passed to
// the components that create stores, so tests get independent instances.
type Manager struct {
	kv     KV
	logger zerolog.Logger

	mu       sync.Mutex
	families []Family
	closed   bool

	ticker *time.Ticker
	stop   chan struct{}
}

// NewManager creates a Manager over kv and starts its purge loop.
func NewManager(kv KV) *Manager {
	m := &Manager{
		kv:     kv,
		logger: log.Logger.With().Str("module", "cache").Logger(),
		ticker: time.NewTicker(purgeInterval),
		stop:   make(chan struct{}),
	}
	go m.purgeLoop()
	return m
}

// Register records a family for purge passes and returns the manager's KV
// for store construction.
func (m *Manager) Register(family Family) KV {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.families = append(m.families, family)
	return m.kv
}

func (m *Manager) purgeLoop() {
	for {
		select {
		case <-m.ticker.C:
			m.purgeAll()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) purgeAll() {
	m.mu.Lock()
	families := make([]Family, len(m.families))
	copy(families, m.families)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, f := range families {
		cutoff := time.Now().Add(-f.horizon())
		deleted, err := m.kv.DeleteOlderThan(ctx, f.Namespace+":", cutoff)
		if err != nil {
			m.logger.Warn().Err(err).Str("family", f.Namespace).Msg("Purge pass failed")
			continue
		}
		if deleted > 0 {
			m.logger.Debug().Str("family", f.Namespace).Int64("deleted", deleted).Msg("Purged expired cache entries")
		}
	}
}

// NewManagedStore builds a Store whose family is registered with m for
// purge passes. A nil manager yields a memory-only store.
func NewManagedStore[T any](m *Manager, family Family) *Store[T] {
	if m == nil {
		return NewStore[T](nil, family)
	}
	return NewStore[T](m.Register(family), family)
}

// Close stops the purge loop.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.ticker.Stop()
	close(m.stop)
}
