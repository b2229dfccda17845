// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the gptchat command line.
//
// # Commands
//
//   - login, signup, logout, whoami: account management
//   - chats: list, new, select, delete, rename, show and export conversations
//   - send: one round trip in the active conversation
//   - chat: interactive session with line editing and history
//   - watch: print login/logout events from other gptchat processes
//   - config: show or write the configuration file
//
// Every command builds its dependencies from the loaded configuration in
// the root command's PersistentPreRunE and tears them down afterwards.
package cli
