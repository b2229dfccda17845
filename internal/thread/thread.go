// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package thread holds the pure message-list operations behind a send:
// optimistic append, transcript flattening and title derivation.
package thread

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/gptchat/internal/model"
)

// MaxTitleLength is the number of characters kept from the first message.
const MaxTitleLength = 40

// Ellipsis marks a truncated title.
const Ellipsis = "…"

// ErrEmptyMessage is returned when a user message has no visible content.
var ErrEmptyMessage = errors.New("message is empty")

// DeriveTitle names a conversation after its first non-blank user message.
//
// Characters are counted after NFC normalization so a composed and a
// decomposed accent count the same. Short titles are returned as typed.
func DeriveTitle(messages []model.Message) string {
	for _, m := range messages {
		if m.Role != model.RoleUser {
			continue
		}
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		normalized := []rune(norm.NFC.String(text))
		if len(normalized) <= MaxTitleLength {
			return text
		}
		return string(normalized[:MaxTitleLength]) + Ellipsis
	}
	return model.DefaultTitle
}

// Transcript flattens messages into the "<Role>: <content>" lines the
// assistant endpoint expects.
func Transcript(messages []model.Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Role.DisplayName())
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// NewMessage builds a message with a fresh id.
func NewMessage(role model.Role, content string, now time.Time) model.Message {
	return model.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now.UTC(),
	}
}

// AppendUser adds the user's message to conv. Content is stored as typed; only an all-whitespace message is refused.
func AppendUser(conv *model.Conversation, content string, now time.Time) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrEmptyMessage
	}
	msg := NewMessage(model.RoleUser, content, now)
	msg.ConversationID = conv.ID
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt
	return msg, nil
}

// AppendAssistant adds a reply, which may be empty.
func AppendAssistant(conv *model.Conversation, content string, now time.Time) model.Message {
	msg := NewMessage(model.RoleAssistant, content, now)
	msg.ConversationID = conv.ID
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt
	return msg
}
