// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Keys used by gptchat.
const (
	KeyAccessToken  = "access_token"
	KeyTokenType    = "token_type"
	KeyRefreshToken = "refresh_token"
	KeyUserEmail    = "user_email"
	KeyChatSessions = "chat_sessions"
	KeyActiveChatID = "active_chat_id"
)

var (
	// ErrAlreadyWatching is returned by a second concurrent Watch call.
	ErrAlreadyWatching = errors.New("cache is already being watched")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown cache backend")
)

// Cache is the synchronous key-value contract.
type Cache interface {
	// Get returns the value and whether the key is present.
	Get(key string) (string, bool)
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// Change describes one key modified by another process.
type Change struct {
	Key        string
	OldValue   string
	OldPresent bool
	NewValue   string
	NewPresent bool
}

// PresenceChanged reports whether the key appeared or disappeared.
func (c Change) PresenceChanged() bool {
	return c.OldPresent != c.NewPresent
}

// WatchableCache is a Cache with an external change feed.
type WatchableCache interface {
	Cache
	// Watch streams changes made by other processes until ctx is done,
	// then closes the channel.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

// Open opens the cache backend named by backend.
func Open(backend, path string, poll time.Duration, log zerolog.Logger) (WatchableCache, error) {
	switch backend {
	case "memory":
		return NewMemoryCache(), nil
	case "file", "":
		return OpenFile(path, log)
	case "sqlite":
		return OpenSQLite(path, poll, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}

// =============================================================================
// CHANGE FEED
// =============================================================================

// feed remembers the last state a watcher has seen. Callers hold the owning
// cache's lock around every method.
type feed struct {
	active bool
	last   map[string]string
}

func (f *feed) start(initial map[string]string) error {
	if f.active {
		return ErrAlreadyWatching
	}
	f.active = true
	f.last = initial
	return nil
}

func (f *feed) stop() {
	f.active = false
	f.last = nil
}

// noteLocal records a write made through this cache so the watcher does not
// report it.
func (f *feed) noteLocal(key, value string, present bool) {
	if !f.active {
		return
	}
	if present {
		f.last[key] = value
	} else {
		delete(f.last, key)
	}
}

// diff returns what changed between the last seen state and current, then
// adopts current as the new baseline.
func (f *feed) diff(current map[string]string) []Change {
	if !f.active {
		return nil
	}
	var changes []Change
	for key, newVal := range current {
		oldVal, had := f.last[key]
		if !had || oldVal != newVal {
			changes = append(changes, Change{
				Key: key, OldValue: oldVal, OldPresent: had,
				NewValue: newVal, NewPresent: true,
			})
		}
	}
	for key, oldVal := range f.last {
		if _, ok := current[key]; !ok {
			changes = append(changes, Change{Key: key, OldValue: oldVal, OldPresent: true})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	f.last = copyEntries(current)
	return changes
}

func copyEntries(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// send delivers changes unless ctx ends first.
func send(ctx context.Context, ch chan<- Change, changes []Change) bool {
	for _, c := range changes {
		select {
		case ch <- c:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
