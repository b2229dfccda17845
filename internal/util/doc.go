// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the cache, config and CLI
// packages.
//
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//   - TruncateRunes / TruncateWithSuffix: UTF-8 safe truncation
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//	label := util.TruncateWithSuffix(title, 40, "…")
package util
