// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/gptchat/internal/kvcache"
	"github.com/jeranaias/gptchat/internal/model"
)

// DefaultTokenType is used when a credential is stored without a type.
const DefaultTokenType = "Bearer"

// TokenSource is where the client reads the stored credential from.
// kvcache.Cache satisfies it.
type TokenSource interface {
	Get(key string) (string, bool)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Timeout bounds each request. Zero leaves the transport default.
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing calls. Zero disables throttling.
	RequestsPerSecond float64
	Logger            zerolog.Logger
}

// Client talks to the conversation backend.
type Client struct {
	http    *resty.Client
	tokens  TokenSource
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a resty-backed client. tokens may be nil, in which case
// every request is sent unauthenticated.
func NewClient(opts Options, tokens TokenSource) *Client {
	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if opts.Timeout > 0 {
		hc.SetTimeout(opts.Timeout)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		http:    hc,
		tokens:  tokens,
		limiter: limiter,
		log:     opts.Logger.With().Str("component", "api").Logger(),
	}
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// authorization builds the credential header value, or "" when no
// credential is stored.
func (c *Client) authorization() string {
	if c.tokens == nil {
		return ""
	}
	token, ok := c.tokens.Get(kvcache.KeyAccessToken)
	if !ok || token == "" {
		return ""
	}
	tokenType, ok := c.tokens.Get(kvcache.KeyTokenType)
	if !ok || strings.TrimSpace(tokenType) == "" {
		tokenType = DefaultTokenType
	}
	return tokenType + " " + token
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

type call struct {
	method     string
	path       string
	pathParams map[string]string
	body       any
	// anonymous requests never carry a credential (login, signup).
	anonymous bool
}

// do executes one request and decodes a 2xx body into out (when non-nil).
func (c *Client) do(ctx context.Context, cl call, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	req := c.http.R().SetContext(ctx)
	if cl.pathParams != nil {
		req.SetPathParams(cl.pathParams)
	}
	if cl.body != nil {
		req.SetBody(cl.body)
	}
	if !cl.anonymous {
		if auth := c.authorization(); auth != "" {
			req.SetHeader("Authorization", auth)
		}
	}

	start := time.Now()
	resp, err := req.Execute(cl.method, cl.path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.log.Debug().Str("method", cl.method).Str("path", cl.path).
			Dur("duration", time.Since(start)).Msg("request failed")
		return &NetworkError{Method: cl.method, Path: cl.path, Err: err}
	}

	c.log.Debug().
		Str("method", cl.method).
		Str("path", cl.path).
		Int("status", resp.StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("request complete")

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return newRemoteError(resp.StatusCode(), resp.Body())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse %s %s response: %w", cl.method, cl.path, err)
	}
	return nil
}

// =============================================================================
// AUTH
// =============================================================================

// Login exchanges email and password for tokens.
func (c *Client) Login(ctx context.Context, email, password string) (*Tokens, error) {
	var tokens Tokens
	err := c.do(ctx, call{
		method:    http.MethodPost,
		path:      "/login",
		body:      credentialsBody{Email: email, Password: password},
		anonymous: true,
	}, &tokens)
	if err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("login response missing access_token")
	}
	if tokens.TokenType == "" {
		tokens.TokenType = DefaultTokenType
	}
	return &tokens, nil
}

// Signup registers a new account. The server's payload is returned as-is.
func (c *Client) Signup(ctx context.Context, email, password string) (map[string]any, error) {
	var payload map[string]any
	err := c.do(ctx, call{
		method:    http.MethodPost,
		path:      "/signup",
		body:      credentialsBody{Email: email, Password: password},
		anonymous: true,
	}, &payload)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ListConversations returns the caller's conversations in server order.
func (c *Client) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	var records []conversationRecord
	if err := c.do(ctx, call{method: http.MethodGet, path: "/api/conversations/list"}, &records); err != nil {
		return nil, err
	}
	out := make([]model.ConversationSummary, 0, len(records))
	for _, r := range records {
		out = append(out, r.summary())
	}
	return out, nil
}

// CreateConversation creates an empty conversation.
func (c *Client) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	var record conversationRecord
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/api/conversations/create",
		body:   titleBody{Title: title},
	}, &record)
	if err != nil {
		return model.Conversation{}, err
	}
	return record.conversation(), nil
}

// DeleteConversation deletes a conversation. A 404 is returned as a
// *RemoteError; see IsNotFound.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, call{
		method:     http.MethodDelete,
		path:       "/api/conversations/{id}",
		pathParams: map[string]string{"id": id},
	}, nil)
}

// RenameConversation sets a conversation's title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) (model.Conversation, error) {
	var record conversationRecord
	err := c.do(ctx, call{
		method:     http.MethodPatch,
		path:       "/api/conversations/{id}/rename",
		pathParams: map[string]string{"id": id},
		body:       titleBody{Title: title},
	}, &record)
	if err != nil {
		return model.Conversation{}, err
	}
	conv := record.conversation()
	if conv.ID == "" {
		conv.ID = id
	}
	return conv, nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// ListMessages returns a conversation's messages, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var records []messageRecord
	err := c.do(ctx, call{
		method:     http.MethodGet,
		path:       "/api/conversations/{id}/messages",
		pathParams: map[string]string{"id": conversationID},
	}, &records)
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(records))
	for _, r := range records {
		if msg, ok := r.message(); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// SaveUserMessage stores a user message.
func (c *Client) SaveUserMessage(ctx context.Context, conversationID, content string) (model.Message, error) {
	return c.saveMessage(ctx, "/api/messages/create", model.RoleUser, conversationID, content)
}

// SaveAssistantMessage stores an assistant reply.
func (c *Client) SaveAssistantMessage(ctx context.Context, conversationID, content string) (model.Message, error) {
	return c.saveMessage(ctx, "/api/messages/save-assistant", model.RoleAssistant, conversationID, content)
}

func (c *Client) saveMessage(ctx context.Context, path string, role model.Role, conversationID, content string) (model.Message, error) {
	var record savedMessageRecord
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   path,
		body:   messageBody{ConversationID: conversationID, Content: content},
	}, &record)
	if err != nil {
		return model.Message{}, err
	}
	return record.message(role), nil
}

// Ask sends a flattened transcript to the assistant.
func (c *Client) Ask(ctx context.Context, transcript, systemPrompt string) (*AskResponse, error) {
	var out AskResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/ask",
		body:   askBody{Message: transcript, SystemPrompt: systemPrompt},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
