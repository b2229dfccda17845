// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/gptchat/internal/auth"
	"github.com/jeranaias/gptchat/internal/config"
	"github.com/jeranaias/gptchat/internal/session"
	"github.com/jeranaias/gptchat/internal/util"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of chat input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// historyInput provides line editing and persistent history on a terminal.
type historyInput struct {
	line        *liner.State
	historyFile string
}

func newHistoryInput() *historyInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	h := &historyInput{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(h.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return h
}

func (h *historyInput) ReadInput(prompt string) (string, error) {
	input, err := h.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		h.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (h *historyInput) Close() {
	if err := os.MkdirAll(filepath.Dir(h.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(h.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = h.line.WriteHistory(f)
			f.Close()
		}
	}
	h.line.Close()
}

// plainInput reads from a non-terminal stream.
type plainInput struct {
	p *prompter
}

func (p plainInput) ReadInput(prompt string) (string, error) {
	fmt.Fprint(p.p.out, prompt)
	s, err := p.p.br.ReadString('\n')
	if err != nil && (s == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

func (plainInput) Close() {}

func (a *app) chatInput(in io.Reader) lineReader {
	if f, ok := in.(*os.File); ok && f == os.Stdin && IsTTY() {
		return newHistoryInput()
	}
	return plainInput{p: a.prompt}
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func newChatCommand(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat in the active conversation.

Commands:
  /new            Start a new conversation
  /list           List conversations
  /select <id>    Switch conversation
  /delete <id>    Delete a conversation (asks first)
  /rename <title> Rename the current conversation
  /history        Print the current conversation
  /quit           Leave the chat

The chat ends when you log out from another gptchat process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if id != "" && !store.Select(id) {
				return fmt.Errorf("%w: %s", session.ErrUnknownConversation, id)
			}
			return a.runChat(cmd.Context(), store, a.chatInput(cmd.InOrStdin()))
		},
	}
	cmd.Flags().StringVar(&id, "chat", "", "Open this conversation")
	return cmd
}

func (a *app) runChat(ctx context.Context, store *session.Store, input lineReader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer input.Close()

	syncer := auth.NewSynchronizer(a.cache, a.log)
	unbind := store.Bind(ctx, syncer)
	defer unbind()

	loggedOut := make(chan struct{})
	var once sync.Once
	store.SetStateCallback(func(st session.State) {
		if st == session.StateUnauthenticated {
			once.Do(func() { close(loggedOut) })
		}
	})
	defer store.SetStateCallback(nil)

	if err := syncer.Start(ctx); err != nil {
		a.log.Warn().Err(err).Msg("cross-process sync unavailable")
	}

	a.printChatHeader(store)

	for {
		select {
		case <-loggedOut:
			fmt.Fprintln(a.out, WarningStyle.Render("Logged out in another session."))
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := input.ReadInput(promptLabel(store))
		if err != nil {
			fmt.Fprintln(a.out)
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := a.chatCommand(ctx, store, line)
			if err != nil {
				fmt.Fprintln(a.errOut, ErrorStyle.Render("[Error]")+" "+userMessage(err))
			}
			if quit {
				return nil
			}
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		res, err := store.Send(ctx, line)
		if err != nil {
			fmt.Fprintln(a.errOut, ErrorStyle.Render("[Error]")+" "+userMessage(err))
			continue
		}
		_ = printSendResult(a, res)
		fmt.Fprintln(a.out)
	}
}

func promptLabel(store *session.Store) string {
	if conv, ok := store.Active(); ok {
		return UserStyle.Render(util.TruncateWithSuffix(conv.Title, promptTitleLength, "…")+"> ")
	}
	return UserStyle.Render("new chat> ")
}

// promptTitleLength bounds the conversation title shown in the prompt.
const promptTitleLength = 24

func (a *app) printChatHeader(store *session.Store) {
	fmt.Fprintln(a.out, TitleStyle.Render("gptchat")+" "+DimStyle.Render("("+store.UserEmail()+", "+string(store.Mode())+" mode)"))
	fmt.Fprintln(a.out, DimStyle.Render("Type /quit to leave, /new for a new conversation."))
	if conv, ok := store.Active(); ok {
		fmt.Fprintln(a.out, DimStyle.Render("Conversation: "+conv.Title))
	}
	fmt.Fprintln(a.out)
}

// chatCommand runs one slash command and reports whether to quit.
func (a *app) chatCommand(ctx context.Context, store *session.Store, line string) (bool, error) {
	fields := strings.Fields(line)
	name, rest := fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/new":
		id, err := store.NewChat(ctx)
		if err != nil {
			return false, err
		}
		if id == "" {
			fmt.Fprintln(a.out, DimStyle.Render("New chat. It is saved when you send the first message."))
		} else {
			fmt.Fprintln(a.out, DimStyle.Render("Created conversation "+id))
		}

	case "/list":
		active, _ := store.ActiveID()
		renderConversationTable(a.out, store.Conversations(), active, terminalWidth())

	case "/select":
		if rest == "" {
			return false, newUsageError("usage: /select <id>")
		}
		if !store.Select(rest) {
			return false, fmt.Errorf("%w: %s", session.ErrUnknownConversation, rest)
		}
		conv, _ := store.Active()
		fmt.Fprintln(a.out, DimStyle.Render("Conversation: "+conv.Title))

	case "/delete":
		if rest == "" {
			return false, newUsageError("usage: /delete <id>")
		}
		ok, err := a.prompt.confirm(fmt.Sprintf("Delete conversation %s?", rest))
		if err != nil || !ok {
			return false, err
		}
		if err := store.Delete(ctx, rest); err != nil {
			return false, err
		}
		fmt.Fprintln(a.out, DimStyle.Render("Deleted "+rest))

	case "/rename":
		id, ok := store.ActiveID()
		if !ok {
			return false, newUsageError("no active conversation")
		}
		conv, err := store.Rename(ctx, id, rest)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(a.out, DimStyle.Render("Renamed to "+conv.Title))

	case "/history":
		id, ok := store.ActiveID()
		if !ok {
			return false, newUsageError("no active conversation")
		}
		msgs, err := store.LoadMessages(ctx, id)
		if err != nil {
			return false, err
		}
		renderMessages(a.out, msgs)

	default:
		return false, newUsageError("unknown command %s", name)
	}
	return false, nil
}
