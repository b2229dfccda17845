// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"strconv"

	"github.com/jeranaias/gptchat/internal/kvcache"
	"github.com/jeranaias/gptchat/internal/model"
)

// =============================================================================
// LOCAL PERSISTENCE
// =============================================================================

// storedConversation decodes one chat_sessions element with its messages
// kept raw, so a bad message drops only itself.
type storedConversation struct {
	model.Conversation
	Messages []json.RawMessage `json:"messages"`
}

// readStoredList decodes chat_sessions. Anything that is not a JSON array
// reads as an empty list; elements and messages that do not decode are
// skipped.
func (s *Store) readStoredList() []model.Conversation {
	raw, ok := s.cache.Get(kvcache.KeyChatSessions)
	if !ok || raw == "" {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		s.log.Warn().Err(err).Msg("stored conversation list is corrupt, starting empty")
		return nil
	}

	list := make([]model.Conversation, 0, len(elems))
	for _, elem := range elems {
		var stored storedConversation
		if err := json.Unmarshal(elem, &stored); err != nil || stored.ID == "" {
			s.log.Warn().Err(err).Msg("skipping unreadable stored conversation")
			continue
		}
		conv := stored.Conversation
		conv.Messages = make([]model.Message, 0, len(stored.Messages))
		for _, rawMsg := range stored.Messages {
			var msg model.Message
			if err := json.Unmarshal(rawMsg, &msg); err != nil {
				s.log.Warn().Err(err).Str("conversation", conv.ID).Msg("skipping unreadable stored message")
				continue
			}
			conv.Messages = append(conv.Messages, msg)
		}
		list = append(list, conv)
	}
	return list
}

// readStoredActive returns the persisted selection. An empty value is a
// deliberate "no selection"; present is false when nothing was stored.
func (s *Store) readStoredActive() (id string, present bool) {
	return s.cache.Get(kvcache.KeyActiveChatID)
}

func (s *Store) loadLocal(epoch uint64) {
	list := dedupe(s.readStoredList())
	storedActive, hasActive := s.readStoredActive()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}

	for i := range list {
		if list[i].Messages == nil {
			list[i].Messages = []model.Message{}
		}
		if n, err := strconv.ParseInt(list[i].ID, 10, 64); err == nil && n > s.lastLocalID {
			s.lastLocalID = n
		}
	}
	s.conversations = list
	s.activeID = ""
	switch {
	case s.indexLocked(storedActive) >= 0:
		s.activeID = storedActive
	case hasActive && storedActive == "":
		// Cleared on purpose, e.g. a lazy new chat.
	case len(list) > 0:
		s.activeID = list[0].ID
	}

	if len(s.conversations) == 0 {
		conv := s.newLocalConversationLocked(model.DefaultTitle)
		s.conversations = []model.Conversation{conv}
		s.activeID = conv.ID
	}
	s.persistLocked()

	notify := s.transitionLocked(StateReady)
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// persistLocked writes the selection through to the cache in both modes,
// and the list in local mode. Failures are logged, never returned.
func (s *Store) persistLocked() {
	if s.state == StateUnauthenticated {
		return
	}
	if s.mode == ModeLocal {
		s.persistListLocked()
	}
	s.persistActiveLocked()
}

func (s *Store) persistListLocked() {

	list := s.conversations
	if list == nil {
		list = []model.Conversation{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode conversation list")
		return
	}
	if err := s.cache.Set(kvcache.KeyChatSessions, string(data)); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist conversation list")
	}
}

// persistActiveLocked stores the selection. No selection is stored as an
// empty value so a reload can tell it from a first run.
func (s *Store) persistActiveLocked() {
	if err := s.cache.Set(kvcache.KeyActiveChatID, s.activeID); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist active conversation")
	}
}

// newLocalConversationLocked synthesizes an empty conversation whose id is
// the current unix millisecond time, bumped so ids always increase.
func (s *Store) newLocalConversationLocked(title string) model.Conversation {
	now := s.now()
	id := now.UnixMilli()
	if id <= s.lastLocalID {
		id = s.lastLocalID + 1
	}
	s.lastLocalID = id
	return model.Conversation{
		ID:        strconv.FormatInt(id, 10),
		Title:     title,
		CreatedAt: now.UTC(),
		Messages:  []model.Message{},
	}
}
