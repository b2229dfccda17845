// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strings"

	"github.com/jeranaias/gptchat/internal/model"
	"github.com/jeranaias/gptchat/internal/thread"
	"github.com/jeranaias/gptchat/internal/util"
)

// ReplyErrorText is the inline message shown when the assistant round trip
// fails.
const ReplyErrorText = "Sorry, I couldn't get a response. Please try again."

// previewLength bounds LastMessagePreview.
const previewLength = 100

// SendResult is the outcome of one round trip.
type SendResult struct {
	ConversationID string
	User           model.Message
	// Reply is nil when the assistant call failed or the conversation was
	// removed before the reply arrived.
	Reply *model.Message
	// ErrorText is set when the assistant call failed.
	ErrorText string
	// Err is the underlying assistant failure, for logging.
	Err error
	// Dropped reports that the conversation was deleted (or the user logged
	// out) while the reply was outstanding.
	Dropped bool
}

// Failed reports whether the assistant call failed.
func (r SendResult) Failed() bool {
	return r.ErrorText != ""
}

// Send appends content to the active conversation, asks the assistant and
// appends the reply.
//
// The user message is applied before the network call and is never rolled
// back. Without an active conversation one is created first, titled after
// the message. Errors are returned only when nothing was sent; an assistant
// failure is reported in SendResult.ErrorText.
func (s *Store) Send(ctx context.Context, content string) (SendResult, error) {
	if strings.TrimSpace(content) == "" {
		return SendResult{}, thread.ErrEmptyMessage
	}

	id, err := s.sendTarget(ctx, content)
	if err != nil {
		return SendResult{}, err
	}
	return s.SendTo(ctx, id, content)
}

// SendTo is Send for an explicit conversation.
func (s *Store) SendTo(ctx context.Context, id, content string) (SendResult, error) {
	// Remote records arrive without messages; fetch them so the transcript
	// carries the history.
	if s.mode == ModeRemote {
		if conv, ok := s.Conversation(id); ok && conv.Messages == nil {
			if _, err := s.LoadMessages(ctx, id); err != nil {
				s.log.Warn().Err(err).Str("conversation", id).Msg("failed to load history before send")
			}
		}
	}

	// Phase 1: optimistic append.
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return SendResult{}, ErrUnauthenticated
	}
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return SendResult{}, ErrUnknownConversation
	}
	if s.inFlight[id] {
		s.mu.Unlock()
		return SendResult{}, ErrSendInProgress
	}
	conv := &s.conversations[i]
	userMsg, err := thread.AppendUser(conv, content, s.now())
	if err != nil {
		s.mu.Unlock()
		return SendResult{}, err
	}
	if s.mode == ModeLocal {
		conv.Title = thread.DeriveTitle(conv.Messages)
	}
	conv.LastMessagePreview = util.TruncateRunes(content, previewLength)
	transcript := thread.Transcript(conv.Messages)
	s.inFlight[id] = true
	epoch := s.epoch
	s.persistLocked()
	s.mu.Unlock()

	result := SendResult{ConversationID: id, User: userMsg}

	if s.mode == ModeRemote {
		if _, err := s.remote.SaveUserMessage(ctx, id, content); err != nil {
			s.log.Warn().Err(err).Str("conversation", id).Msg("failed to save user message")
		}
	}

	reply, askErr := s.remote.Ask(ctx, transcript, s.prompt)

	// Phase 2: reconcile with the owning conversation.
	s.mu.Lock()
	delete(s.inFlight, id)
	i = s.indexLocked(id)
	if s.epoch != epoch || i < 0 {
		s.mu.Unlock()
		result.Dropped = true
		if askErr != nil {
			result.ErrorText = ReplyErrorText
			result.Err = askErr
		}
		s.log.Debug().Str("conversation", id).Msg("reply arrived for a removed conversation")
		return result, nil
	}

	if askErr != nil {
		s.mu.Unlock()
		s.log.Warn().Err(askErr).Str("conversation", id).Msg("assistant request failed")
		result.ErrorText = ReplyErrorText
		result.Err = askErr
		return result, nil
	}

	conv = &s.conversations[i]
	replyMsg := thread.AppendAssistant(conv, reply.Response, s.now())
	if s.mode == ModeLocal {
		conv.Title = thread.DeriveTitle(conv.Messages)
	}
	if reply.Response != "" {
		conv.LastMessagePreview = util.TruncateRunes(reply.Response, previewLength)
	}
	s.persistLocked()
	s.mu.Unlock()
	result.Reply = &replyMsg

	if s.mode == ModeRemote {
		if _, err := s.remote.SaveAssistantMessage(ctx, id, reply.Response); err != nil {
			s.log.Warn().Err(err).Str("conversation", id).Msg("failed to save assistant message")
		}
	}
	return result, nil
}

// sendTarget returns the active conversation id, creating a conversation
// when none is active.
func (s *Store) sendTarget(ctx context.Context, content string) (string, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return "", ErrUnauthenticated
	}
	if s.activeID != "" {
		id := s.activeID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	title := thread.DeriveTitle([]model.Message{{Role: model.RoleUser, Content: content}})
	conv, err := s.createConversation(ctx, title)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return "", ErrUnauthenticated
	}
	s.upsertLocked(conv)
	if s.activeID == "" {
		s.activeID = conv.ID
	}
	s.persistLocked()
	return conv.ID, nil
}
