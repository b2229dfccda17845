// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kvcache provides the persistent key-value cache shared by every
// gptchat process of a user.
//
// It plays the role browser local storage plays for a web client: it holds
// the credential, the identity label and, in local mode, the serialized
// conversation list. Reads and writes are synchronous.
//
// # Backends
//
//   - MemoryCache: process-local, for tests and throwaway sessions
//   - FileCache: one JSON document written atomically, watched with fsnotify
//   - SQLiteCache: a kv table, watched by polling PRAGMA data_version
//
// # Change feed
//
// Watch reports keys changed by other processes. Writes made through the
// same cache value are never reported back to it, so a subscriber can
// react to a change without looping on its own writes.
//
//	ch, err := cache.Watch(ctx)
//	for change := range ch {
//	    if change.Key == kvcache.KeyAccessToken { ... }
//	}
package kvcache
