// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package thread

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/gptchat/internal/model"
)

func user(content string) model.Message {
	return model.Message{Role: model.RoleUser, Content: content}
}

func assistant(content string) model.Message {
	return model.Message{Role: model.RoleAssistant, Content: content}
}

// =============================================================================
// TITLES
// =============================================================================

func TestDeriveTitle(t *testing.T) {
	forty := strings.Repeat("a", 40)
	fortyOne := strings.Repeat("b", 41)

	tests := []struct {
		name     string
		messages []model.Message
		want     string
	}{
		{"no messages", nil, model.DefaultTitle},
		{"assistant only", []model.Message{assistant("Hello")}, model.DefaultTitle},
		{"blank user", []model.Message{user("   "), user("\n\t")}, model.DefaultTitle},
		{"skips blank user", []model.Message{user("  "), user("Plan a trip")}, "Plan a trip"},
		{"skips assistant", []model.Message{assistant("Hi"), user("Question")}, "Question"},
		{"trims", []model.Message{user("  Hello  ")}, "Hello"},
		{"exactly forty", []model.Message{user(forty)}, forty},
		{"forty one", []model.Message{user(fortyOne)}, strings.Repeat("b", 40) + "…"},
		{"counts characters not bytes", []model.Message{user(strings.Repeat("é", 40))}, strings.Repeat("é", 40)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.messages))
		})
	}
}

func TestDeriveTitle_TruncatedShape(t *testing.T) {
	title := DeriveTitle([]model.Message{user(strings.Repeat("x", 100))})
	assert.True(t, strings.HasSuffix(title, Ellipsis))
	assert.Equal(t, MaxTitleLength+1, utf8.RuneCountInString(title))
}

func TestDeriveTitle_Idempotent(t *testing.T) {
	msgs := []model.Message{user("What is the capital of France, and why is it Paris?"), assistant("Paris")}
	first := DeriveTitle(msgs)
	assert.Equal(t, first, DeriveTitle(msgs))
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func TestTranscript(t *testing.T) {
	assert.Equal(t, "", Transcript(nil))
	assert.Equal(t, "User: Hello", Transcript([]model.Message{user("Hello")}))
	assert.Equal(t,
		"User: Hi\nAssistant: Hello!\nUser: How are you?",
		Transcript([]model.Message{user("Hi"), assistant("Hello!"), user("How are you?")}))
}

// =============================================================================
// APPEND
// =============================================================================

func TestAppend_SendFlow(t *testing.T) {
	conv := model.Conversation{ID: "c1", Title: model.DefaultTitle}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	msg, err := AppendUser(&conv, "Hello", now)
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.ConversationID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "Hello", conv.Messages[0].Content)

	reply := AppendAssistant(&conv, "Hi there", now.Add(time.Second))
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, msg.ID, conv.Messages[0].ID)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Hi there", conv.Messages[1].Content)
	assert.NotEqual(t, msg.ID, reply.ID)
	assert.Equal(t, reply.CreatedAt, conv.UpdatedAt)
}

func TestAppendUser_RejectsBlank(t *testing.T) {
	conv := model.Conversation{ID: "c1"}
	_, err := AppendUser(&conv, " \n ", time.Now())
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, conv.Messages)
}

func TestAppendAssistant_AllowsEmpty(t *testing.T) {
	conv := model.Conversation{ID: "c1"}
	AppendAssistant(&conv, "", time.Now())
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "", conv.Messages[0].Content)
}
