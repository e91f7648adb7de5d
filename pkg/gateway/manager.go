// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// MainShardID is the id of the shard that is not scoped to a team.
const MainShardID = "main"

// Manager owns the shards of one client, keyed by id.
type Manager struct {
	sink EventSink
	base zerolog.Logger
	log  zerolog.Logger

	mu     sync.Mutex
	shards map[string]*Shard
}

// NewManager returns an empty manager whose shards report to sink.
func NewManager(sink EventSink, log zerolog.Logger) *Manager {
	return &Manager{
		sink:   sink,
		base:   log,
		log:    log.With().Str("component", "shard_manager").Logger(),
		shards: make(map[string]*Shard),
	}
}

// CreateShard connects a new shard and registers it once the handshake
// completes. A shard already registered under id is closed and replaced
// after the new one is open.
func (m *Manager) CreateShard(ctx context.Context, id string, opts Options) (*Shard, error) {
	shard := NewShard(id, opts, m.sink, m.base)
	if err := shard.Connect(ctx); err != nil {
		_ = shard.Close()
		return nil, fmt.Errorf("failed to connect shard %s: %w", id, err)
	}

	m.mu.Lock()
	previous := m.shards[id]
	m.shards[id] = shard
	m.mu.Unlock()

	if previous != nil {
		m.log.Info().Str("shard_id", id).Msg("Replacing existing shard")
		if err := previous.Close(); err != nil {
			m.log.Warn().Err(err).Str("shard_id", id).Msg("Failed to close replaced shard")
		}
	}
	m.log.Debug().Str("shard_id", id).Msg("Shard registered")
	return shard, nil
}

// Shard returns the shard registered under id.
func (m *Manager) Shard(id string) (*Shard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shards[id]
	return s, ok
}

// MainShard returns the shard registered as MainShardID, or nil.
func (m *Manager) MainShard() *Shard {
	s, _ := m.Shard(MainShardID)
	return s
}

// Shards returns the registered shards ordered by id.
func (m *Manager) Shards() []*Shard {
	m.mu.Lock()
	out := make([]*Shard, 0, len(m.shards))
	for _, s := range m.shards {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// RemoveShard closes and forgets the shard registered under id. It
// reports whether a shard was found.
func (m *Manager) RemoveShard(id string) bool {
	m.mu.Lock()
	shard, ok := m.shards[id]
	delete(m.shards, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	if err := shard.Close(); err != nil {
		m.log.Warn().Err(err).Str("shard_id", id).Msg("Failed to close shard")
	}
	return true
}

// RemoveAllShards closes every shard and empties the registry. The closed
// shards are returned so callers can Wait on them.
func (m *Manager) RemoveAllShards() []*Shard {
	m.mu.Lock()
	removed := make([]*Shard, 0, len(m.shards))
	for id, s := range m.shards {
		removed = append(removed, s)
		delete(m.shards, id)
	}
	m.mu.Unlock()

	for _, s := range removed {
		if err := s.Close(); err != nil {
			m.log.Warn().Err(err).Str("shard_id", s.ID()).Msg("Failed to close shard")
		}
	}
	return removed
}
