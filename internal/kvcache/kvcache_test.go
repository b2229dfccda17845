// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 3 * time.Second

func nextChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("change channel closed")
		}
		return c
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

func expectQuiet(t *testing.T, ch <-chan Change, d time.Duration) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(d):
	}
}

// =============================================================================
// CONTRACT TESTS
// =============================================================================

func backends(t *testing.T) map[string]WatchableCache {
	t.Helper()
	dir := t.TempDir()
	log := zerolog.Nop()

	fc, err := OpenFile(filepath.Join(dir, "cache.json"), log)
	require.NoError(t, err)
	sc, err := OpenSQLite(filepath.Join(dir, "cache.db"), 50*time.Millisecond, log)
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close() })

	return map[string]WatchableCache{
		"memory": NewMemoryCache(),
		"file":   fc,
		"sqlite": sc,
	}
}

func TestCache_GetSetRemove(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok := c.Get(KeyAccessToken)
			assert.False(t, ok)

			require.NoError(t, c.Set(KeyAccessToken, "abc"))
			v, ok := c.Get(KeyAccessToken)
			assert.True(t, ok)
			assert.Equal(t, "abc", v)

			require.NoError(t, c.Set(KeyAccessToken, "def"))
			v, _ = c.Get(KeyAccessToken)
			assert.Equal(t, "def", v)

			require.NoError(t, c.Remove(KeyAccessToken))
			_, ok = c.Get(KeyAccessToken)
			assert.False(t, ok)

			// Removing a missing key is fine.
			assert.NoError(t, c.Remove(KeyAccessToken))
		})
	}
}

func TestCache_EmptyValueIsPresent(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(KeyActiveChatID, ""))
			v, ok := c.Get(KeyActiveChatID)
			assert.True(t, ok)
			assert.Equal(t, "", v)
		})
	}
}

func TestCache_SecondWatchRejected(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			_, err := c.Watch(ctx)
			require.NoError(t, err)
			_, err = c.Watch(ctx)
			assert.ErrorIs(t, err, ErrAlreadyWatching)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir(), time.Second, zerolog.Nop())
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Open(redis) error = %v, want ErrUnknownBackend", err)
	}
}

// =============================================================================
// MEMORY
// =============================================================================

func TestMemoryCache_ExternalWritesAreReported(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set(KeyUserEmail, "a@b.c"))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Set(KeyAccessToken, "own"))
	c.ExternalSet(KeyAccessToken, "theirs")

	change := nextChange(t, ch)
	assert.Equal(t, KeyAccessToken, change.Key)
	assert.True(t, change.OldPresent)
	assert.Equal(t, "own", change.OldValue)
	assert.Equal(t, "theirs", change.NewValue)
	assert.False(t, change.PresenceChanged())

	c.ExternalRemove(KeyAccessToken)
	change = nextChange(t, ch)
	assert.False(t, change.NewPresent)
	assert.True(t, change.PresenceChanged())

	cancel()
	for range ch {
	}

	// A fresh watch is allowed once the previous one ended.
	ch, err = c.Watch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ch)
}

func TestMemoryCache_ExternalNoopNotReported(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set(KeyTokenType, "Bearer"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := c.Watch(ctx)
	require.NoError(t, err)

	c.ExternalSet(KeyTokenType, "Bearer")
	expectQuiet(t, ch, 50*time.Millisecond)
}

// =============================================================================
// FILE
// =============================================================================

func TestFileCache_SharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	a, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)
	b, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, a.Set(KeyUserEmail, "me@example.com"))
	v, ok := b.Get(KeyUserEmail)
	assert.True(t, ok)
	assert.Equal(t, "me@example.com", v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileCache_CorruptFileReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	c, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)

	_, ok := c.Get(KeyAccessToken)
	assert.False(t, ok)

	// A write replaces the corrupt document.
	require.NoError(t, c.Set(KeyAccessToken, "tok"))
	v, _ := c.Get(KeyAccessToken)
	assert.Equal(t, "tok", v)
}

func TestFileCache_WatchReportsOnlyExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	a, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)
	b, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := a.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Set(KeyActiveChatID, "42"))
	expectQuiet(t, ch, 200*time.Millisecond)

	require.NoError(t, b.Set(KeyAccessToken, "tok"))
	change := nextChange(t, ch)
	assert.Equal(t, KeyAccessToken, change.Key)
	assert.False(t, change.OldPresent)
	assert.True(t, change.NewPresent)
	assert.Equal(t, "tok", change.NewValue)

	require.NoError(t, b.Remove(KeyAccessToken))
	change = nextChange(t, ch)
	assert.Equal(t, KeyAccessToken, change.Key)
	assert.False(t, change.NewPresent)
}

func TestFileCache_WatchClosesOnCancel(t *testing.T) {
	c, err := OpenFile(filepath.Join(t.TempDir(), "cache.json"), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Watch(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(eventTimeout):
		t.Fatal("channel not closed after cancel")
	}
}

// =============================================================================
// SQLITE
// =============================================================================

func TestSQLiteCache_WatchReportsOnlyExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	a, err := OpenSQLite(path, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(path, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := a.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Set(KeyChatSessions, "[]"))
	expectQuiet(t, ch, 150*time.Millisecond)

	require.NoError(t, b.Set(KeyAccessToken, "tok"))
	change := nextChange(t, ch)
	assert.Equal(t, KeyAccessToken, change.Key)
	assert.True(t, change.NewPresent)

	v, ok := a.Get(KeyAccessToken)
	assert.True(t, ok)
	assert.Equal(t, "tok", v)
}
