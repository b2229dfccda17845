// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jeranaias/gptchat/internal/util"
)

// FileCache stores every key in one JSON object. Each write rewrites the
// file atomically, so concurrent processes see whole documents and the
// last writer wins.
type FileCache struct {
	path string
	log  zerolog.Logger

	mu   sync.Mutex
	feed feed
}

// OpenFile opens (or lazily creates) the cache file at path.
func OpenFile(path string, log zerolog.Logger) (*FileCache, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{
		path: absPath,
		log:  log.With().Str("component", "kvcache").Str("backend", "file").Logger(),
	}, nil
}

// Path returns the absolute cache file path.
func (c *FileCache) Path() string {
	return c.path
}

// Get returns the value for key as currently on disk.
func (c *FileCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.readLocked()[key]
	return v, ok
}

// Set stores value under key.
func (c *FileCache) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.readLocked()
	entries[key] = value
	if err := c.writeLocked(entries); err != nil {
		return err
	}
	c.feed.noteLocal(key, value, true)
	return nil
}

// Remove deletes key.
func (c *FileCache) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.readLocked()
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	if err := c.writeLocked(entries); err != nil {
		return err
	}
	c.feed.noteLocal(key, "", false)
	return nil
}

// readLocked loads the document. A missing or unreadable document reads as
// empty; the next write replaces it.
func (c *FileCache) readLocked() map[string]string {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn().Err(err).Msg("cache file unreadable, treating as empty")
		}
		return make(map[string]string)
	}
	if len(data) == 0 {
		return make(map[string]string)
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		c.log.Warn().Err(err).Msg("cache file corrupt, treating as empty")
		return make(map[string]string)
	}
	return entries
}

func (c *FileCache) writeLocked(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	// SECURITY: The file holds the access credential, owner-only.
	if err := util.AtomicWriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Watch reports writes made to the file by other processes.
//
// The parent directory is watched rather than the file because atomic
// writes replace the file with a renamed temp file.
func (c *FileCache) Watch(ctx context.Context) (<-chan Change, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch cache directory: %w", err)
	}

	c.mu.Lock()
	err = c.feed.start(c.readLocked())
	c.mu.Unlock()
	if err != nil {
		w.Close()
		return nil, err
	}

	ch := make(chan Change, 16)
	go c.watchLoop(ctx, w, ch)
	return ch, nil
}

func (c *FileCache) watchLoop(ctx context.Context, w *fsnotify.Watcher, ch chan<- Change) {
	defer func() {
		w.Close()
		c.mu.Lock()
		c.feed.stop()
		c.mu.Unlock()
		close(ch)
	}()

	name := filepath.Base(c.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			c.mu.Lock()
			changes := c.feed.diff(c.readLocked())
			c.mu.Unlock()

			if len(changes) > 0 {
				c.log.Debug().Int("changes", len(changes)).Msg("external cache write")
			}
			if !send(ctx, ch, changes) {
				return
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.log.Warn().Err(err).Msg("cache watcher error")
		}
	}
}

// Close is a no-op; watchers stop with their context.
func (c *FileCache) Close() error {
	return nil
}
