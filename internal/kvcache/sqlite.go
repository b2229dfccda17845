// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteCache stores keys in a SQLite table.
//
// The pool is pinned to a single connection. PRAGMA data_version on that
// connection only moves when another connection commits, which makes it a
// cheap "someone else wrote" signal for Watch.
type SQLiteCache struct {
	db   *sql.DB
	poll time.Duration
	log  zerolog.Logger

	mu   sync.Mutex
	feed feed
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, poll time.Duration, log zerolog.Logger) (*SQLiteCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	return &SQLiteCache{
		db:   db,
		poll: poll,
		log:  log.With().Str("component", "kvcache").Str("backend", "sqlite").Logger(),
	}, nil
}

// Get returns the value for key.
func (c *SQLiteCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var value string
	err := c.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return "", false
	}
	return value, true
}

// Set stores value under key.
func (c *SQLiteCache) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	c.feed.noteLocal(key, value, true)
	return nil
}

// Remove deletes key.
func (c *SQLiteCache) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove cache key %s: %w", key, err)
	}
	c.feed.noteLocal(key, "", false)
	return nil
}

func (c *SQLiteCache) entriesLocked() (map[string]string, error) {
	rows, err := c.db.Query(`SELECT key, value FROM kv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		entries[k] = v
	}
	return entries, rows.Err()
}

func (c *SQLiteCache) dataVersionLocked() (int64, error) {
	var v int64
	err := c.db.QueryRow(`PRAGMA data_version`).Scan(&v)
	return v, err
}

// Watch polls for commits made by other connections.
func (c *SQLiteCache) Watch(ctx context.Context) (<-chan Change, error) {
	c.mu.Lock()
	entries, err := c.entriesLocked()
	if err == nil {
		err = c.feed.start(entries)
	}
	var version int64
	if err == nil {
		version, err = c.dataVersionLocked()
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan Change, 16)
	go c.pollLoop(ctx, version, ch)
	return ch, nil
}

func (c *SQLiteCache) pollLoop(ctx context.Context, version int64, ch chan<- Change) {
	ticker := time.NewTicker(c.poll)
	defer func() {
		ticker.Stop()
		c.mu.Lock()
		c.feed.stop()
		c.mu.Unlock()
		close(ch)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		current, err := c.dataVersionLocked()
		var changes []Change
		if err == nil && current != version {
			version = current
			var entries map[string]string
			entries, err = c.entriesLocked()
			if err == nil {
				changes = c.feed.diff(entries)
			}
		}
		c.mu.Unlock()

		if err != nil {
			c.log.Warn().Err(err).Msg("cache poll failed")
			continue
		}
		if !send(ctx, ch, changes) {
			return
		}
	}
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
