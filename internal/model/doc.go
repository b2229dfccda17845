// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// The same types are used for records persisted in the local cache and for
// records returned by the remote conversation API.
//
// # Key Types
//
//   - Conversation: A named, ordered collection of messages with a stable ID
//   - ConversationSummary: A row of the remote conversation list
//   - Message: Single message with role, content and timestamp
//   - Role: Message role enumeration (user, assistant)
//
// # Usage
//
//	conv := model.Conversation{ID: "1700000000000", Title: model.DefaultTitle}
//	conv.Messages = append(conv.Messages, model.Message{
//	    Role:    model.RoleUser,
//	    Content: "Hello!",
//	})
package model
