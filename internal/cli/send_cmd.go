// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/gptchat/internal/session"
)

func newSendCommand(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one message and print the reply",
		Long: `Send one message to the active conversation and print the reply.

Without an active conversation a new one is started. Use "-" to read the
message from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if content == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read message: %w", err)
				}
				content = string(b)
			}

			store, err := a.session(cmd.Context())
			if err != nil {
				return err
			}

			var res session.SendResult
			if id != "" {
				res, err = store.SendTo(cmd.Context(), id, content)
			} else {
				res, err = store.Send(cmd.Context(), content)
			}
			if err != nil {
				return err
			}
			return printSendResult(a, res)
		},
	}
	cmd.Flags().StringVar(&id, "chat", "", "Send to this conversation instead of the active one")
	return cmd
}

// printSendResult writes the reply or the inline failure text. A failed
// round trip returns an error so scripts see a non-zero exit status.
func printSendResult(a *app, res session.SendResult) error {
	switch {
	case res.Dropped:
		fmt.Fprintln(a.errOut, WarningStyle.Render("Conversation was removed before the reply arrived."))
		return nil
	case res.Failed():
		fmt.Fprintln(a.out, ErrorStyle.Render(res.ErrorText))
		return res.Err
	case res.Reply != nil:
		fmt.Fprintln(a.out, res.Reply.Content)
	}
	return nil
}
