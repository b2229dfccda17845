// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/gptchat/internal/kvcache"
)

// Listener receives the new authenticated state.
type Listener func(authenticated bool)

// Synchronizer turns credential changes made by other processes into
// authenticated/unauthenticated notifications. Writes made through the same
// cache instance are never reported.
type Synchronizer struct {
	cache kvcache.WatchableCache
	log   zerolog.Logger

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	done      chan struct{}
}

// NewSynchronizer creates a Synchronizer over cache.
func NewSynchronizer(cache kvcache.WatchableCache, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		cache:     cache,
		log:       log.With().Str("component", "auth-sync").Logger(),
		listeners: make(map[int]Listener),
	}
}

// IsAuthenticated reports whether a credential is currently stored.
func (s *Synchronizer) IsAuthenticated() bool {
	return IsAuthenticated(s.cache)
}

// Subscribe registers fn and returns a function that removes it. Calling
// the returned function more than once is harmless.
func (s *Synchronizer) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Start begins watching the cache until ctx is done.
func (s *Synchronizer) Start(ctx context.Context) error {
	changes, err := s.cache.Watch(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for change := range changes {
			s.handle(change)
		}
	}()
	return nil
}

// Done is closed once the watch started by Start has ended. It is nil
// before Start.
func (s *Synchronizer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Notify delivers a synthetic change, as if observed from another process.
func (s *Synchronizer) Notify(change kvcache.Change) {
	s.handle(change)
}

func (s *Synchronizer) handle(change kvcache.Change) {
	if change.Key != kvcache.KeyAccessToken || !change.PresenceChanged() {
		return
	}
	authenticated := change.NewPresent

	s.log.Info().Bool("authenticated", authenticated).Msg("credential changed in another process")

	// Callbacks run outside the lock so they may subscribe or unsubscribe.
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(authenticated)
	}
}
