// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/jeranaias/gptchat/internal/api"
	"github.com/jeranaias/gptchat/internal/auth"
	"github.com/jeranaias/gptchat/internal/kvcache"
	"github.com/jeranaias/gptchat/internal/model"
)

// =============================================================================
// TYPES
// =============================================================================

// State is the Store lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Mode selects where conversations are kept.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// NewChatStrategy decides when a new conversation record is created.
type NewChatStrategy string

const (
	// NewChatEager creates the record as soon as NewChat is called.
	NewChatEager NewChatStrategy = "eager"
	// NewChatLazy clears the selection and creates the record on first send.
	NewChatLazy NewChatStrategy = "lazy"
)

var (
	// ErrUnknownConversation is returned for an id not in the list.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrSendInProgress is returned while a reply is pending for the
	// conversation.
	ErrSendInProgress = errors.New("a message is already being sent in this conversation")

	// ErrUnauthenticated is returned by operations that need a loaded list.
	ErrUnauthenticated = errors.New("not logged in")

	// ErrEmptyTitle is returned by Rename for a blank title.
	ErrEmptyTitle = errors.New("title is empty")
)

// Remote is the backend the Store talks to in remote mode. *api.Client
// satisfies it.
type Remote interface {
	ListConversations(ctx context.Context) ([]model.ConversationSummary, error)
	CreateConversation(ctx context.Context, title string) (model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	RenameConversation(ctx context.Context, id, title string) (model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	SaveUserMessage(ctx context.Context, conversationID, content string) (model.Message, error)
	SaveAssistantMessage(ctx context.Context, conversationID, content string) (model.Message, error)
	Ask(ctx context.Context, transcript, systemPrompt string) (*api.AskResponse, error)
}

// Options configures a Store.
type Options struct {
	Mode         Mode
	NewChat      NewChatStrategy
	SystemPrompt string
	Logger       zerolog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store is the conversation session store.
type Store struct {
	cache  kvcache.Cache
	remote Remote
	mode   Mode
	strat  NewChatStrategy
	prompt string
	now    func() time.Time
	log    zerolog.Logger

	mu            sync.Mutex
	state         State
	conversations []model.Conversation
	activeID      string // "" means no active conversation
	inFlight      map[string]bool
	lastLocalID   int64
	// epoch increments on every load and logout so a slow load cannot
	// overwrite a newer state.
	epoch uint64

	onState func(State)
}

// New creates a Store in the unauthenticated state. remote may be nil in
// local mode.
func New(cache kvcache.Cache, remote Remote, opts Options) *Store {
	if opts.Mode == "" {
		opts.Mode = ModeRemote
	}
	if opts.NewChat == "" {
		opts.NewChat = NewChatLazy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		cache:    cache,
		remote:   remote,
		mode:     opts.Mode,
		strat:    opts.NewChat,
		prompt:   opts.SystemPrompt,
		now:      opts.Now,
		log:      opts.Logger.With().Str("component", "session").Str("mode", string(opts.Mode)).Logger(),
		inFlight: make(map[string]bool),
	}
}

// SetStateCallback registers fn to run after every state transition. It is
// called outside the Store lock.
func (s *Store) SetStateCallback(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// transitionLocked sets the state and returns the callback to run after
// unlocking, or nil.
func (s *Store) transitionLocked(next State) func() {
	if s.state == next {
		return nil
	}
	s.state = next
	if s.onState == nil {
		return nil
	}
	fn := s.onState
	return func() { fn(next) }
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Init reads the cache once and loads conversations if a credential is
// present.
func (s *Store) Init(ctx context.Context) {
	s.SetAuthenticated(ctx, auth.IsAuthenticated(s.cache))
}

// SetAuthenticated drives the Store from an authentication change: true
// loads the list, false clears everything as Logout does.
func (s *Store) SetAuthenticated(ctx context.Context, authenticated bool) {
	if authenticated {
		s.load(ctx)
		return
	}
	s.Logout()
}

// Bind subscribes the Store to a Synchronizer. The returned function
// unsubscribes.
func (s *Store) Bind(ctx context.Context, syncer *auth.Synchronizer) func() {
	return syncer.Subscribe(func(authenticated bool) {
		s.SetAuthenticated(ctx, authenticated)
	})
}

func (s *Store) load(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	notify := s.transitionLocked(StateLoading)
	s.mu.Unlock()
	if notify != nil {
		notify()
	}

	if s.mode == ModeLocal {
		s.loadLocal(epoch)
		return
	}

	storedActive, _ := s.readStoredActive()

	var list []model.Conversation
	summaries, err := s.remote.ListConversations(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to load conversations, starting empty")
	} else {
		list = make([]model.Conversation, 0, len(summaries))
		for _, sum := range summaries {
			list = append(list, sum.Conversation())
		}
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.conversations = dedupe(list)
	if s.indexLocked(storedActive) >= 0 {
		s.activeID = storedActive
	} else if s.indexLocked(s.activeID) < 0 {
		s.activeID = ""
	}
	notify = s.transitionLocked(StateReady)
	// A failed list keeps the stored selection for the next load.
	if err == nil {
		s.persistLocked()
	}
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Logout clears the list, the selection and every cached credential and
// conversation key, whatever the current state.
func (s *Store) Logout() {
	s.mu.Lock()
	s.epoch++
	s.conversations = nil
	s.activeID = ""
	s.inFlight = make(map[string]bool)
	notify := s.transitionLocked(StateUnauthenticated)
	s.mu.Unlock()

	if err := auth.ClearCredentials(s.cache); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear credentials")
	}
	for _, key := range []string{kvcache.KeyChatSessions, kvcache.KeyActiveChatID} {
		if err := s.cache.Remove(key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to clear cache key")
		}
	}

	if notify != nil {
		notify()
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAuthenticated reports whether the Store is loading or loaded.
func (s *Store) IsAuthenticated() bool {
	return s.State() != StateUnauthenticated
}

// Mode returns the configured mode.
func (s *Store) Mode() Mode {
	return s.mode
}

// UserEmail returns the stored identity label, or "".
func (s *Store) UserEmail() string {
	email, _ := s.cache.Get(kvcache.KeyUserEmail)
	return email
}

// Conversations returns a copy of the list in display order.
func (s *Store) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.Clone()
	}
	return out
}

// Conversation returns a copy of the conversation with id.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return model.Conversation{}, false
	}
	return s.conversations[i].Clone(), true
}

// ActiveID returns the active conversation id and false when none is
// active.
func (s *Store) ActiveID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.activeID != ""
}

// Active returns a copy of the active conversation.
func (s *Store) Active() (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(s.activeID)
	if i < 0 {
		return model.Conversation{}, false
	}
	return s.conversations[i].Clone(), true
}

// Search filters conversations by a case-insensitive title substring. A
// blank query returns every conversation.
func (s *Store) Search(query string) []model.Conversation {
	all := s.Conversations()
	query = strings.TrimSpace(query)
	if query == "" {
		return all
	}
	fold := cases.Fold()
	needle := fold.String(query)
	out := make([]model.Conversation, 0, len(all))
	for _, c := range all {
		if strings.Contains(fold.String(c.Title), needle) {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// MUTATIONS
// =============================================================================

// NewChat starts a new conversation. With the eager strategy the record is
// created and made active, and its id returned. With the lazy strategy the
// selection is cleared and "" is returned; the record appears on first send.
func (s *Store) NewChat(ctx context.Context) (string, error) {
	if s.strat == NewChatLazy {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateReady {
			return "", ErrUnauthenticated
		}
		s.activeID = ""
		s.persistLocked()
		return "", nil
	}

	conv, err := s.createConversation(ctx, model.DefaultTitle)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return "", ErrUnauthenticated
	}
	s.upsertLocked(conv)
	s.activeID = conv.ID
	s.persistLocked()
	return conv.ID, nil
}

// createConversation creates a record: a synthesized local one, or a
// server one in remote mode. It does not touch the list.
func (s *Store) createConversation(ctx context.Context, title string) (model.Conversation, error) {
	if s.mode == ModeLocal {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateReady {
			return model.Conversation{}, ErrUnauthenticated
		}
		return s.newLocalConversationLocked(title), nil
	}

	if s.State() != StateReady {
		return model.Conversation{}, ErrUnauthenticated
	}
	conv, err := s.remote.CreateConversation(ctx, title)
	if err != nil {
		return model.Conversation{}, err
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return conv, nil
}

// Select makes id active. An unknown id leaves the state unchanged and
// reports false.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return false
	}
	s.activeID = id
	s.persistLocked()
	return true
}

// Delete removes a conversation. In remote mode the server is asked first;
// success or not-found removes the id locally, any other failure leaves
// the list unchanged and is returned. Deleting the active conversation
// clears the selection.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrUnauthenticated
	}
	known := s.indexLocked(id) >= 0
	s.mu.Unlock()

	if s.mode == ModeLocal {
		if !known {
			return ErrUnknownConversation
		}
	} else {
		if err := s.remote.DeleteConversation(ctx, id); err != nil {
			if !api.IsNotFound(err) {
				return err
			}
			s.log.Debug().Str("conversation", id).Msg("already deleted on server")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
	if s.activeID == id {
		s.activeID = ""
	}
	s.persistLocked()
	return nil
}

// Upsert merges rec into the list: an existing id is updated in place,
// a new id is prepended.
func (s *Store) Upsert(rec model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(rec)
	s.persistLocked()
}

func (s *Store) upsertLocked(rec model.Conversation) {
	if rec.ID == "" {
		return
	}
	i := s.indexLocked(rec.ID)
	if i < 0 {
		if rec.Title == "" {
			rec.Title = model.DefaultTitle
		}
		s.conversations = append([]model.Conversation{rec.Clone()}, s.conversations...)
		return
	}

	cur := &s.conversations[i]
	if rec.Title != "" {
		cur.Title = rec.Title
	}
	if rec.UserID != "" {
		cur.UserID = rec.UserID
	}
	if !rec.CreatedAt.IsZero() {
		cur.CreatedAt = rec.CreatedAt
	}
	if !rec.UpdatedAt.IsZero() {
		cur.UpdatedAt = rec.UpdatedAt
	}
	if rec.LastMessagePreview != "" {
		cur.LastMessagePreview = rec.LastMessagePreview
	}
	if rec.Messages != nil {
		cur.Messages = rec.Clone().Messages
	}
}

// Rename sets a conversation's title.
func (s *Store) Rename(ctx context.Context, id, title string) (model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Conversation{}, ErrEmptyTitle
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return model.Conversation{}, ErrUnauthenticated
	}
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return model.Conversation{}, ErrUnknownConversation
	}
	s.mu.Unlock()

	update := model.Conversation{ID: id, Title: title}
	if s.mode == ModeRemote {
		renamed, err := s.remote.RenameConversation(ctx, id, title)
		if err != nil {
			return model.Conversation{}, err
		}
		renamed.ID = id
		renamed.Messages = nil
		update = renamed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return model.Conversation{}, ErrUnknownConversation
	}
	s.upsertLocked(update)
	s.persistLocked()
	return s.conversations[i].Clone(), nil
}

// LoadMessages fetches a conversation's messages in remote mode and stores
// them on the record. In local mode the record already holds its messages.
func (s *Store) LoadMessages(ctx context.Context, id string) ([]model.Message, error) {
	if s.mode == ModeLocal {
		conv, ok := s.Conversation(id)
		if !ok {
			return nil, ErrUnknownConversation
		}
		return conv.Messages, nil
	}

	if _, ok := s.Conversation(id); !ok {
		return nil, ErrUnknownConversation
	}
	msgs, err := s.remote.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		// A send may have started while the fetch was outstanding.
		if !s.inFlight[id] {
			s.conversations[i].Messages = msgs
		}
		return s.conversations[i].Clone().Messages, nil
	}
	return msgs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

// dedupe drops records without an id and repeats of an id, keeping the
// first occurrence.
func dedupe(list []model.Conversation) []model.Conversation {
	seen := make(map[string]bool, len(list))
	out := make([]model.Conversation, 0, len(list))
	for _, c := range list {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if c.Title == "" {
			c.Title = model.DefaultTitle
		}
		out = append(out, c)
	}
	return out
}
