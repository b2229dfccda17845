// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jeranaias/gptchat/internal/api"
	"github.com/jeranaias/gptchat/internal/auth"
	"github.com/jeranaias/gptchat/internal/config"
	"github.com/jeranaias/gptchat/internal/session"
)

// =============================================================================
// TEST SERVER
// =============================================================================

type fakeServer struct {
	mu       sync.Mutex
	logins   int
	asks     []string
	askFails bool
	convs    []map[string]any
	messages map[string][]map[string]any
	nextID   int
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok", "refresh_token": "ref", "token_type": "bearer"})
	})
	mux.HandleFunc("POST /signup", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Account created"})
	})
	mux.HandleFunc("POST /ask", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.asks = append(f.asks, body.Message)
		fail := f.askFails
		f.mu.Unlock()
		if fail {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "model offline"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"response": "hi there"})
	})
	mux.HandleFunc("GET /api/conversations/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.convs
		if list == nil {
			list = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, list)
	})
	mux.HandleFunc("POST /api/conversations/create", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.nextID++
		rec := map[string]any{"id": f.nextID, "title": body.Title, "created_at": "2024-05-01T10:00:00"}
		f.convs = append([]map[string]any{rec}, f.convs...)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, rec)
	})
	mux.HandleFunc("GET /api/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		msgs := f.messages[r.PathValue("id")]
		f.mu.Unlock()
		if msgs == nil {
			msgs = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, msgs)
	})
	saved := func(role string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				ConversationID string `json:"conversation_id"`
				Content        string `json:"content"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			if f.messages == nil {
				f.messages = make(map[string][]map[string]any)
			}
			msg := map[string]any{
				"id":              len(f.messages[body.ConversationID]) + 1,
				"conversation_id": body.ConversationID,
				"role":            role,
				"content":         body.Content,
			}
			f.messages[body.ConversationID] = append(f.messages[body.ConversationID], msg)
			f.mu.Unlock()
			writeJSON(w, http.StatusOK, msg)
		}
	}
	mux.HandleFunc("POST /api/messages/create", saved("user"))
	mux.HandleFunc("POST /api/messages/save-assistant", saved("assistant"))
	return mux
}

func (f *fakeServer) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeServer) askCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.asks)
}

// =============================================================================
// HELPERS
// =============================================================================

type env struct {
	t      *testing.T
	server *fakeServer
	config string
	cache  string
}

func newEnv(t *testing.T, mode string) *env {
	t.Helper()
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.json")
	cfgPath := filepath.Join(dir, "config.toml")
	cfg := fmt.Sprintf(`[api]
base_url = %q

[cache]
backend = "file"
path = %q

[session]
mode = %q
new_chat = "lazy"

[log]
level = "error"
`, srv.URL, cachePath, mode)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return &env{t: t, server: fake, config: cfgPath, cache: cachePath}
}

// run executes one gptchat invocation, as a separate process would.
func (e *env) run(stdin string, args ...string) (int, string, string) {
	e.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", e.config, "--no-color"}, args...)
	code := Run(context.Background(), full, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func (e *env) login() {
	e.t.Helper()
	code, _, errOut := e.run("secret1\n", "login", "-e", "user@example.com")
	if code != ExitSuccess {
		e.t.Fatalf("login exit = %d, stderr = %s", code, errOut)
	}
}

// =============================================================================
// AUTH COMMANDS
// =============================================================================

func TestLogin_PromptsForPassword(t *testing.T) {
	e := newEnv(t, "local")

	code, out, _ := e.run("secret1\n", "login", "-e", "user@example.com")
	if code != ExitSuccess {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(out, "Logged in as user@example.com") {
		t.Errorf("output = %q", out)
	}

	_, out, _ = e.run("", "whoami")
	if !strings.Contains(out, "user@example.com") {
		t.Errorf("whoami output = %q", out)
	}
	if !strings.Contains(out, "local") {
		t.Errorf("whoami should report the mode, got %q", out)
	}
}

func TestLogin_EmailFromPrompt(t *testing.T) {
	e := newEnv(t, "local")

	code, out, _ := e.run("user@example.com\nsecret1\n", "login")
	if code != ExitSuccess {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(out, "Logged in as user@example.com") {
		t.Errorf("output = %q", out)
	}
}

func TestLogin_ValidationSkipsServer(t *testing.T) {
	e := newEnv(t, "local")

	code, _, errOut := e.run("123\n", "login", "-e", "user@example.com")
	if code != ExitUsageError {
		t.Errorf("exit = %d, want %d", code, ExitUsageError)
	}
	if !strings.Contains(errOut, "Password must be at least 6 characters") {
		t.Errorf("stderr = %q", errOut)
	}
	if n := e.server.loginCount(); n != 0 {
		t.Errorf("server saw %d login requests, want 0", n)
	}
}

func TestLogin_ServerRejection(t *testing.T) {
	e := newEnv(t, "local")

	code, _, errOut := e.run("wrong-password\n", "login", "-e", "user@example.com")
	if code == ExitSuccess {
		t.Fatal("login with a bad password should fail")
	}
	if !strings.Contains(errOut, "Invalid credentials") {
		t.Errorf("stderr = %q, want server detail", errOut)
	}

	_, out, _ := e.run("", "whoami")
	if !strings.Contains(out, "Not logged in.") {
		t.Errorf("whoami after failed login = %q", out)
	}
}

func TestSignup(t *testing.T) {
	e := newEnv(t, "local")

	code, out, _ := e.run("secret1\n", "signup", "-e", "new@example.com")
	if code != ExitSuccess {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out, "Account created") {
		t.Errorf("output = %q", out)
	}
}

func TestLogout_ClearsCache(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	code, out, _ := e.run("", "logout")
	if code != ExitSuccess || !strings.Contains(out, "Logged out.") {
		t.Fatalf("logout exit = %d, output = %q", code, out)
	}

	data, err := os.ReadFile(e.cache)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"access_token", "chat_sessions", "active_chat_id", "user_email"} {
		if strings.Contains(string(data), key) {
			t.Errorf("cache still holds %s after logout: %s", key, data)
		}
	}

	code, _, errOut := e.run("", "chats")
	if code != ExitAuthError {
		t.Errorf("chats after logout exit = %d, want %d", code, ExitAuthError)
	}
	if !strings.Contains(errOut, "Not logged in") {
		t.Errorf("stderr = %q", errOut)
	}
}

// =============================================================================
// CONVERSATION COMMANDS
// =============================================================================

func TestChats_LocalBootstrap(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	code, out, _ := e.run("", "chats")
	if code != ExitSuccess {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out, "New Chat") {
		t.Errorf("first listing should show the bootstrap conversation, got %q", out)
	}
}

func TestSend_LocalTitlesConversation(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	code, out, errOut := e.run("", "send", "What is Go?")
	if code != ExitSuccess {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	if !strings.Contains(out, "hi there") {
		t.Errorf("output = %q, want reply", out)
	}

	_, out, _ = e.run("", "chats", "list")
	if !strings.Contains(out, "What is Go?") {
		t.Errorf("conversation should be titled after the first message, got %q", out)
	}

	_, out, _ = e.run("", "chats", "show")
	if !strings.Contains(out, "What is Go?") || !strings.Contains(out, "hi there") {
		t.Errorf("show output = %q", out)
	}
}

func TestSend_SecondTurnCarriesHistory(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	e.run("", "send", "first question")
	e.run("", "send", "second question")

	e.server.mu.Lock()
	defer e.server.mu.Unlock()
	if len(e.server.asks) != 2 {
		t.Fatalf("asks = %d, want 2", len(e.server.asks))
	}
	last := e.server.asks[1]
	for _, want := range []string{"User: first question", "Assistant: hi there", "User: second question"} {
		if !strings.Contains(last, want) {
			t.Errorf("transcript %q missing %q", last, want)
		}
	}
}

func TestSend_FailureShowsInlineError(t *testing.T) {
	e := newEnv(t, "local")
	e.login()
	e.server.mu.Lock()
	e.server.askFails = true
	e.server.mu.Unlock()

	code, out, _ := e.run("", "send", "hello")
	if code == ExitSuccess {
		t.Error("failed round trip should exit non-zero")
	}
	if !strings.Contains(out, session.ReplyErrorText) {
		t.Errorf("output = %q, want inline error text", out)
	}

	// The user message stays.
	_, out, _ = e.run("", "chats", "show")
	if !strings.Contains(out, "hello") {
		t.Errorf("user message was rolled back: %q", out)
	}
}

func TestSend_BlankMessage(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	code, _, _ := e.run("", "send", "   ")
	if code == ExitSuccess {
		t.Error("blank message should be rejected")
	}
	if n := e.server.askCount(); n != 0 {
		t.Errorf("asks = %d, want 0", n)
	}
}

func TestSend_RemoteLazyCreatesConversation(t *testing.T) {
	e := newEnv(t, "remote")
	e.login()

	code, out, errOut := e.run("", "send", "Plan a trip")
	if code != ExitSuccess {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	if !strings.Contains(out, "hi there") {
		t.Errorf("output = %q", out)
	}

	e.server.mu.Lock()
	n := len(e.server.convs)
	e.server.mu.Unlock()
	if n != 1 {
		t.Fatalf("server conversations = %d, want 1", n)
	}

	_, out, _ = e.run("", "chats")
	if !strings.Contains(out, "Plan a trip") {
		t.Errorf("listing = %q", out)
	}
}

func TestRemote_SelectionCarriesAcrossCommands(t *testing.T) {
	e := newEnv(t, "remote")
	e.login()

	e.run("", "send", "first question")
	code, _, errOut := e.run("", "send", "follow up")
	if code != ExitSuccess {
		t.Fatalf("second send exit = %d, stderr = %q", code, errOut)
	}

	e.server.mu.Lock()
	convs := len(e.server.convs)
	last := e.server.asks[len(e.server.asks)-1]
	e.server.mu.Unlock()
	if convs != 1 {
		t.Errorf("server conversations after two sends = %d, want 1", convs)
	}
	if !strings.Contains(last, "User: first question") {
		t.Errorf("second transcript %q lacks history", last)
	}

	code, _, errOut = e.run("", "chats", "select", "1")
	if code != ExitSuccess {
		t.Fatalf("select exit = %d, stderr = %q", code, errOut)
	}
	code, out, errOut := e.run("", "chats", "show")
	if code != ExitSuccess {
		t.Fatalf("show exit = %d, stderr = %q", code, errOut)
	}
	if !strings.Contains(out, "first question") || !strings.Contains(out, "follow up") {
		t.Errorf("show output = %q", out)
	}
}

func TestNewChat_LazyCarriesAcrossCommands(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	e.run("", "send", "alpha topic")
	code, _, _ := e.run("", "chats", "new")
	if code != ExitSuccess {
		t.Fatalf("chats new exit = %d", code)
	}
	e.run("", "send", "beta topic")

	e.server.mu.Lock()
	last := e.server.asks[len(e.server.asks)-1]
	e.server.mu.Unlock()
	if last != "User: beta topic" {
		t.Errorf("transcript = %q, want a fresh conversation", last)
	}

	_, out, _ := e.run("", "chats")
	if !strings.Contains(out, "alpha topic") || !strings.Contains(out, "beta topic") {
		t.Errorf("listing should show both conversations: %q", out)
	}
}

func TestChats_DeleteUnknown(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	code, _, _ := e.run("", "chats", "delete", "does-not-exist", "--yes")
	if code != ExitNotFoundError {
		t.Errorf("exit = %d, want %d", code, ExitNotFoundError)
	}
}

func TestChats_NewAndDelete(t *testing.T) {
	e := newEnv(t, "local")
	e.login()
	e.run("", "send", "keep me")

	_, out, _ := e.run("", "chats", "list")
	id := firstID(t, out)

	code, out, _ := e.run("n\n", "chats", "delete", id)
	if code != ExitSuccess || !strings.Contains(out, "Cancelled.") {
		t.Fatalf("declined delete: exit = %d, output = %q", code, out)
	}
	_, out, _ = e.run("", "chats")
	if !strings.Contains(out, "keep me") {
		t.Fatalf("declined delete removed the conversation: %q", out)
	}

	code, out, _ = e.run("", "chats", "delete", id, "--yes")
	if code != ExitSuccess || !strings.Contains(out, "Deleted conversation "+id) {
		t.Fatalf("delete: exit = %d, output = %q", code, out)
	}
	_, out, _ = e.run("", "chats")
	if strings.Contains(out, "keep me") {
		t.Errorf("conversation still listed: %q", out)
	}
}

func TestChats_RenameAndSearch(t *testing.T) {
	e := newEnv(t, "local")
	e.login()
	e.run("", "send", "apples")
	_, out, _ := e.run("", "chats")
	id := firstID(t, out)

	code, out, _ := e.run("", "chats", "rename", id, "Fruit talk")
	if code != ExitSuccess || !strings.Contains(out, "Fruit talk") {
		t.Fatalf("rename: exit = %d, output = %q", code, out)
	}

	_, out, _ = e.run("", "chats", "--search", "FRUIT")
	if !strings.Contains(out, "Fruit talk") {
		t.Errorf("search should be case-insensitive: %q", out)
	}
	_, out, _ = e.run("", "chats", "--search", "zebra")
	if !strings.Contains(out, "No conversations.") {
		t.Errorf("search miss = %q", out)
	}
}

func TestChats_Export(t *testing.T) {
	e := newEnv(t, "local")
	e.login()
	e.run("", "send", "export me")
	_, out, _ := e.run("", "chats")
	id := firstID(t, out)

	code, out, _ := e.run("", "chats", "export", id, "--format", "json")
	if code != ExitSuccess {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out, `"export me"`) {
		t.Errorf("json export = %q", out)
	}

	dir := t.TempDir()
	code, out, _ = e.run("", "chats", "export", id, "--format", "md", "--output", dir)
	if code != ExitSuccess {
		t.Fatalf("exit = %d", code)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("export dir entries = %v, err = %v (output %q)", entries, err, out)
	}

	code, _, _ = e.run("", "chats", "export", id, "--format", "pdf")
	if code != ExitUsageError {
		t.Errorf("unknown format exit = %d, want %d", code, ExitUsageError)
	}
}

// firstID returns the id of the active row in a chats listing.
func firstID(t *testing.T, listing string) string {
	t.Helper()
	for _, line := range strings.Split(listing, "\n") {
		if strings.HasPrefix(line, "* ") {
			fields := strings.Fields(strings.TrimPrefix(line, "* "))
			if len(fields) > 0 {
				return fields[0]
			}
		}
	}
	t.Fatalf("no active conversation in listing %q", listing)
	return ""
}

// =============================================================================
// INTERACTIVE CHAT
// =============================================================================

func TestChat_ScriptedSession(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	code, out, errOut := e.run("hello\n/rename Greetings\n/list\n/quit\n", "chat")
	if code != ExitSuccess {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	if !strings.Contains(out, "hi there") {
		t.Errorf("chat output missing reply: %q", out)
	}
	if !strings.Contains(out, "Greetings") {
		t.Errorf("chat output missing renamed title: %q", out)
	}
}

func TestChat_EndsOnEOF(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	code, _, _ := e.run("", "chat")
	if code != ExitSuccess {
		t.Errorf("exit = %d, want 0 on end of input", code)
	}
}

func TestChat_UnknownSlashCommand(t *testing.T) {
	e := newEnv(t, "local")
	e.login()

	_, _, errOut := e.run("/bogus\n/quit\n", "chat")
	if !strings.Contains(errOut, "unknown command /bogus") {
		t.Errorf("stderr = %q", errOut)
	}
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

func TestConfigInit(t *testing.T) {
	e := newEnv(t, "local")
	path := filepath.Join(t.TempDir(), "new.toml")

	code, _, _ := e.run("", "config", "init", "--path", path)
	if code != ExitSuccess {
		t.Fatalf("exit = %d", code)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Session.Mode != config.ModeRemote {
		t.Errorf("mode = %q, want default", cfg.Session.Mode)
	}

	code, _, _ = e.run("", "config", "init", "--path", path)
	if code != ExitUsageError {
		t.Errorf("second init exit = %d, want %d", code, ExitUsageError)
	}
}

func TestConfigShow(t *testing.T) {
	e := newEnv(t, "local")

	code, out, _ := e.run("", "config", "show")
	if code != ExitSuccess {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out, `mode = "local"`) {
		t.Errorf("output = %q", out)
	}
}

func TestBadConfig(t *testing.T) {
	e := newEnv(t, "local")
	if err := os.WriteFile(e.config, []byte("[session]\nmode = \"sideways\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _, errOut := e.run("", "whoami")
	if code != ExitConfigError {
		t.Errorf("exit = %d, want %d", code, ExitConfigError)
	}
	if !strings.Contains(errOut, "session.mode") {
		t.Errorf("stderr = %q", errOut)
	}
}

// =============================================================================
// EXIT CODES
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitGeneralError},
		{"usage", newUsageError("bad"), ExitUsageError},
		{"config", &configError{err: errors.New("x")}, ExitConfigError},
		{"validation", &auth.ValidationError{Fields: []auth.FieldError{{Field: "Email", Message: "Email is required"}}}, ExitUsageError},
		{"unauthenticated", session.ErrUnauthenticated, ExitAuthError},
		{"unauthorized", &api.RemoteError{Status: http.StatusUnauthorized}, ExitAuthError},
		{"network", &api.NetworkError{Method: "GET", Path: "/", Err: errors.New("refused")}, ExitNetworkError},
		{"unknown conversation", fmt.Errorf("wrap: %w", session.ErrUnknownConversation), ExitNotFoundError},
		{"not found", &api.RemoteError{Status: http.StatusNotFound}, ExitNotFoundError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestUserMessage_RemoteFailure(t *testing.T) {
	got := userMessage(&api.RemoteError{Status: http.StatusInternalServerError})
	if got != api.GenericFailureMessage {
		t.Errorf("userMessage = %q, want %q", got, api.GenericFailureMessage)
	}
}
