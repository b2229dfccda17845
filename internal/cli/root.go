// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/gptchat/internal/api"
	"github.com/jeranaias/gptchat/internal/auth"
	"github.com/jeranaias/gptchat/internal/config"
	"github.com/jeranaias/gptchat/internal/kvcache"
	"github.com/jeranaias/gptchat/internal/logging"
	"github.com/jeranaias/gptchat/internal/session"
)

// Version is set at build time.
var Version = "dev"

// =============================================================================
// APPLICATION WIRING
// =============================================================================

type globalFlags struct {
	configPath string
	verbose    bool
	noColor    bool
}

// app holds the dependencies shared by all commands.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	log    zerolog.Logger
	cache  kvcache.WatchableCache
	client *api.Client
	auth   *auth.Service
	store  *session.Store

	out    io.Writer
	errOut io.Writer
	prompt *prompter

	storeReady bool
}

func (a *app) setup(cmd *cobra.Command) error {
	applyColorProfile(a.flags.noColor)

	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return &configError{err: err}
	}
	if a.flags.verbose {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	a.log = logging.NewWithWriter(cfg.Log, a.errOut)

	path, err := cfg.CachePath()
	if err != nil {
		return &configError{err: fmt.Errorf("resolve cache path: %w", err)}
	}
	cache, err := kvcache.Open(cfg.Cache.Backend, path, cfg.Cache.PollInterval(), a.log)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	a.cache = cache

	a.client = api.NewClient(api.Options{
		BaseURL:           cfg.API.BaseURL,
		Timeout:           cfg.API.Timeout(),
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Logger:            a.log,
	}, cache)
	a.auth = auth.NewService(a.client, cache, a.log)
	a.store = session.New(cache, a.client, session.Options{
		Mode:         session.Mode(cfg.Session.Mode),
		NewChat:      session.NewChatStrategy(cfg.Session.NewChat),
		SystemPrompt: cfg.API.SystemPrompt,
		Logger:       a.log,
	})
	return nil
}

func (a *app) teardown() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close cache")
		}
	}
}

// session initializes the store on first use and fails when logged out.
func (a *app) session(ctx context.Context) (*session.Store, error) {
	if !a.storeReady {
		a.store.Init(ctx)
		a.storeReady = true
	}
	if a.store.State() == session.StateUnauthenticated {
		return nil, session.ErrUnauthenticated
	}
	return a.store, nil
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the command tree reading from in and writing to out
// and errOut.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut, prompt: newPrompter(in, out)}

	root := &cobra.Command{
		Use:   "gptchat",
		Short: "Chat with a GPT-style assistant from the terminal",
		Long: `gptchat is a terminal client for a GPT-style chat server.

Conversations are kept on the server (remote mode) or in a local cache
(local mode). Logging in or out in one gptchat process is picked up by
every other running process.

Quick Start:
  gptchat login                 # Log in
  gptchat send "Hello"          # One question in the active conversation
  gptchat chat                  # Interactive chat
  gptchat chats                 # List conversations`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVar(&a.flags.configPath, "config", "", "Path to config file (default ~/.gptchat/config.toml)")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.flags.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newLoginCommand(a),
		newSignupCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
		newChatsCommand(a),
		newSendCommand(a),
		newChatCommand(a),
		newWatchCommand(a),
		newConfigCommand(a),
	)
	return root
}

// Run executes the command line and returns the exit code.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	root := NewRootCommand(in, out, errOut)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, ErrorStyle.Render("Error: ")+userMessage(err))
		return ExitCode(err)
	}
	return ExitSuccess
}

// Execute runs gptchat with the process arguments.
func Execute(ctx context.Context) int {
	return Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}
