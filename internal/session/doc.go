// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the conversation list and the active conversation.
//
// A Store is created once per process, initialized from the cache with
// Init, and driven by user actions (NewChat, Select, Delete, Send) and by
// authentication changes (SetAuthenticated, usually fed by an
// auth.Synchronizer).
//
// # Modes
//
//   - ModeLocal: conversations live only in the cache under chat_sessions,
//     written through on every mutation. An empty list is bootstrapped with
//     one empty conversation at load.
//   - ModeRemote: the server owns conversations. The Store keeps an
//     in-memory copy and calls the backend for every change.
//
// # Concurrency
//
// All mutations are serialized by one mutex. The mutex is never held across
// a network call, so a send may be outstanding while the user switches or
// deletes conversations. The reply is applied to the conversation it was
// sent from, by id, and dropped if that conversation is gone.
package session
