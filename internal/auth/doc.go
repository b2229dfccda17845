// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth owns the stored credential.
//
// Service validates the login and signup forms, calls the backend and writes
// the returned tokens to the cache. Synchronizer watches the cache for
// credential changes made by other gptchat processes and tells subscribers
// when the authenticated state flips.
package auth
