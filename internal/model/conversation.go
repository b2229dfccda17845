// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import "time"

// DefaultTitle is the placeholder title of a conversation with no user text.
const DefaultTitle = "New Chat"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat conversation and its metadata.
//
// Messages is always populated for conversations kept in the local cache.
// For conversations that come from the remote API it is nil until the
// messages have been fetched.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`

	// LastMessagePreview is only set by the remote list endpoint.
	LastMessagePreview string `json:"last_message_preview,omitempty"`

	Messages []Message `json:"messages"`
}

// ConversationSummary is a row returned by the remote list endpoint.
type ConversationSummary struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	CreatedAt          time.Time `json:"created_at"`
	LastMessagePreview string    `json:"last_message_preview"`
}

// Conversation converts the summary into a conversation record with no
// messages loaded.
func (s ConversationSummary) Conversation() Conversation {
	return Conversation{
		ID:                 s.ID,
		Title:              s.Title,
		CreatedAt:          s.CreatedAt,
		LastMessagePreview: s.LastMessagePreview,
	}
}

// Clone returns a deep copy so callers can't alias the message slice.
func (c Conversation) Clone() Conversation {
	if c.Messages != nil {
		msgs := make([]Message, len(c.Messages))
		copy(msgs, c.Messages)
		c.Messages = msgs
	}
	return c
}

// MessageCount returns the number of messages.
func (c Conversation) MessageCount() int {
	return len(c.Messages)
}

