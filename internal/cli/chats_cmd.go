// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/gptchat/internal/export"
	"github.com/jeranaias/gptchat/internal/session"
)

func newChatsCommand(a *app) *cobra.Command {
	var search string
	list := func(cmd *cobra.Command, args []string) error {
		store, err := a.session(cmd.Context())
		if err != nil {
			return err
		}
		active, _ := store.ActiveID()
		renderConversationTable(a.out, store.Search(search), active, terminalWidth())
		return nil
	}

	cmd := &cobra.Command{
		Use:     "chats",
		Aliases: []string{"conversations"},
		Short:   "Manage conversations",
		Args:    cobra.NoArgs,
		RunE:    list,
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "Filter by title")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE:  list,
	}
	listCmd.Flags().StringVarP(&search, "search", "s", "", "Filter by title")

	cmd.AddCommand(
		listCmd,
		newChatsNewCommand(a),
		newChatsSelectCommand(a),
		newChatsDeleteCommand(a),
		newChatsRenameCommand(a),
		newChatsShowCommand(a),
		newChatsExportCommand(a),
	)
	return cmd
}

func newChatsNewCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			id, err := store.NewChat(cmd.Context())
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintln(a.out, "New chat started. It is saved when you send the first message.")
				return nil
			}
			fmt.Fprintf(a.out, "Created conversation %s\n", id)
			return nil
		},
	}
}

func newChatsSelectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Make a conversation active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if !store.Select(args[0]) {
				return fmt.Errorf("%w: %s", session.ErrUnknownConversation, args[0])
			}
			fmt.Fprintf(a.out, "Active conversation: %s\n", args[0])
			return nil
		},
	}
}

func newChatsDeleteCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			id := args[0]
			if !yes {
				title := id
				if conv, ok := store.Conversation(id); ok {
					title = fmt.Sprintf("%q (%s)", conv.Title, id)
				}
				ok, err := a.prompt.confirm(fmt.Sprintf("Delete conversation %s?", title))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.out, "Cancelled.")
					return nil
				}
			}
			if err := store.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted conversation %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newChatsRenameCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			conv, err := store.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Renamed %s to %q\n", conv.ID, conv.Title)
			return nil
		},
	}
}

func newChatsShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print a conversation (default: the active one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			id, ok := store.ActiveID()
			if len(args) == 1 {
				id, ok = args[0], true
			}
			if !ok {
				return newUsageError("no active conversation; pass an id")
			}
			conv, found := store.Conversation(id)
			if !found {
				return fmt.Errorf("%w: %s", session.ErrUnknownConversation, id)
			}
			msgs, err := store.LoadMessages(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, TitleStyle.Render(conv.Title))
			fmt.Fprintln(a.out)
			renderMessages(a.out, msgs)
			return nil
		},
	}
}

func newChatsExportCommand(a *app) *cobra.Command {
	var (
		format string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as Markdown, JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return newUsageError("%v (want one of %v)", err, export.Formats())
			}
			exporter, err := export.New(f)
			if err != nil {
				return err
			}

			store, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			id := args[0]
			if _, err := store.LoadMessages(cmd.Context(), id); err != nil {
				return err
			}
			conv, _ := store.Conversation(id)

			if outDir == "" {
				return exporter.Export(conv, a.out)
			}
			path, err := export.ToFile(conv, exporter, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Exported to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Output format: md, json or yaml")
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "Write to a file in this directory instead of stdout")
	return cmd
}
