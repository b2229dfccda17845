// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/gptchat/internal/model"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type titleBody struct {
	Title string `json:"title"`
}

type messageBody struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type askBody struct {
	Message      string `json:"message"`
	SystemPrompt string `json:"system_prompt"`
}

// =============================================================================
// RESPONSE BODIES
// =============================================================================

// Tokens is the /login response.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// AskResponse is the /ask response.
type AskResponse struct {
	Response string `json:"response"`
}

// flexID accepts ids encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*f = flexID(n.String())
	return nil
}

// flexTime accepts RFC 3339 timestamps and the zone-less ISO-8601 form
// some servers emit; zone-less values are read as UTC.
type flexTime time.Time

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			*f = flexTime{}
			return nil
		}
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = flexTime{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*f = flexTime(t)
		return nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*f = flexTime(t)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

type conversationRecord struct {
	ID                 flexID   `json:"id"`
	UserID             flexID   `json:"user_id"`
	Title              string   `json:"title"`
	CreatedAt          flexTime `json:"created_at"`
	UpdatedAt          flexTime `json:"updated_at"`
	LastMessagePreview *string  `json:"last_message_preview"`
}

func (r conversationRecord) conversation() model.Conversation {
	c := model.Conversation{
		ID:        string(r.ID),
		UserID:    string(r.UserID),
		Title:     r.Title,
		CreatedAt: time.Time(r.CreatedAt),
		UpdatedAt: time.Time(r.UpdatedAt),
	}
	if r.LastMessagePreview != nil {
		c.LastMessagePreview = *r.LastMessagePreview
	}
	if c.Title == "" {
		c.Title = model.DefaultTitle
	}
	return c
}

func (r conversationRecord) summary() model.ConversationSummary {
	c := r.conversation()
	return model.ConversationSummary{
		ID:                 c.ID,
		Title:              c.Title,
		CreatedAt:          c.CreatedAt,
		LastMessagePreview: c.LastMessagePreview,
	}
}

type messageRecord struct {
	ID             flexID   `json:"id"`
	ConversationID flexID   `json:"conversation_id"`
	Role           string   `json:"role"`
	Content        string   `json:"content"`
	CreatedAt      flexTime `json:"created_at"`
}

// message converts the record. Roles other than user and assistant are
// not part of a thread and report false.
func (r messageRecord) message() (model.Message, bool) {
	role := model.Role(r.Role)
	if !role.Valid() {
		return model.Message{}, false
	}
	return model.Message{
		ID:             string(r.ID),
		ConversationID: string(r.ConversationID),
		Role:           role,
		Content:        r.Content,
		CreatedAt:      time.Time(r.CreatedAt),
	}, true
}

// savedMessageRecord is the create/save-assistant response. The role is
// implied by the endpoint, so a missing role is allowed.
type savedMessageRecord messageRecord

func (r savedMessageRecord) message(role model.Role) model.Message {
	return model.Message{
		ID:             string(r.ID),
		ConversationID: string(r.ConversationID),
		Role:           role,
		Content:        r.Content,
		CreatedAt:      time.Time(r.CreatedAt),
	}
}
