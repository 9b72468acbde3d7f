// Package snipe remembers the most recently deleted and edited messages per
// channel so they can be looked up after the fact.
package snipe

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hehbot/chatgate/internal/model"
)

// Default limits.
const (
	DefaultLimit       = 10
	DefaultMaxChannels = 1000
)

// Config configures a Store.
type Config struct {
	Limit       int // Entries kept per channel and kind
	MaxChannels int // Channels tracked before the least recently active is forgotten
}

// Store keeps newest-first deleted and edited messages per channel.
// It implements dispatch.Handler.
type Store struct {
	limit int

	// mu makes read-modify-write of a channel's list atomic.
	mu      sync.Mutex
	deleted *lru.Cache[int64, []model.MessageDelete]
	edited  *lru.Cache[int64, []model.MessageUpdate]
}

// New creates a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Limit < 1 {
		return nil, fmt.Errorf("snipe limit must be >= 1, got %d", cfg.Limit)
	}
	deleted, err := lru.New[int64, []model.MessageDelete](cfg.MaxChannels)
	if err != nil {
		return nil, fmt.Errorf("create deleted lru: %w", err)
	}
	edited, err := lru.New[int64, []model.MessageUpdate](cfg.MaxChannels)
	if err != nil {
		return nil, fmt.Errorf("create edited lru: %w", err)
	}
	return &Store{limit: cfg.Limit, deleted: deleted, edited: edited}, nil
}

// OnMessageCreate is a no-op.
func (s *Store) OnMessageCreate(ctx context.Context, m model.Message) {}

// OnMessageUpdate records edits where both the old and new content are
// known and non-empty.
func (s *Store) OnMessageUpdate(ctx context.Context, u model.MessageUpdate) {
	if u.Before == nil || u.After == nil || *u.Before == "" || *u.After == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list, _ := s.edited.Get(u.ChannelID)
	s.edited.Add(u.ChannelID, prepend(list, u, s.limit))
}

// OnMessageDelete records every delete.
func (s *Store) OnMessageDelete(ctx context.Context, d model.MessageDelete) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, _ := s.deleted.Get(d.ChannelID)
	s.deleted.Add(d.ChannelID, prepend(list, d, s.limit))
}

// Deleted returns the index-th most recent delete in a channel, 0 = newest.
func (s *Store) Deleted(channelID int64, index int) (model.MessageDelete, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, _ := s.deleted.Peek(channelID)
	return at(list, index)
}

// Edited returns the index-th most recent edit in a channel, 0 = newest.
func (s *Store) Edited(channelID int64, index int) (model.MessageUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, _ := s.edited.Peek(channelID)
	return at(list, index)
}

// Counts returns how many deletes and edits are held for a channel.
func (s *Store) Counts(channelID int64) (deleted, edited int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, _ := s.deleted.Peek(channelID)
	e, _ := s.edited.Peek(channelID)
	return len(d), len(e)
}

// prepend returns a new slice with item first, truncated to limit.
// The input slice is never modified so readers can keep old copies.
func prepend[T any](list []T, item T, limit int) []T {
	n := len(list) + 1
	if n > limit {
		n = limit
	}
	out := make([]T, n)
	out[0] = item
	copy(out[1:], list)
	return out
}

func at[T any](list []T, index int) (T, bool) {
	if index < 0 || index >= len(list) {
		var zero T
		return zero, false
	}
	return list[index], true
}
