// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the typed client for the conversation backend.
//
// Every request carries "Authorization: <token_type> <access_token>" when a
// credential is stored, and nothing otherwise; the server decides whether an
// anonymous call is an error. Failures come back as *RemoteError (non-2xx)
// or *NetworkError (no response). Calls are never retried.
//
// SECURITY: Only method, path, status and duration are logged. Headers and
// bodies carry credentials and message content and are never written out.
package api
