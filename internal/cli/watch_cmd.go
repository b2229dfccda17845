// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/gptchat/internal/auth"
	"github.com/jeranaias/gptchat/internal/config"
)

func newWatchCommand(a *app) *cobra.Command {
	var untilLogout bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print login and logout events from other gptchat processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			syncer := auth.NewSynchronizer(a.cache, a.log)

			loggedOut := make(chan struct{}, 1)
			unsubscribe := syncer.Subscribe(func(authenticated bool) {
				now := time.Now().Format("15:04:05")
				if authenticated {
					fmt.Fprintln(a.out, DimStyle.Render(now)+" "+SuccessStyle.Render("logged in"))
					return
				}
				fmt.Fprintln(a.out, DimStyle.Render(now)+" "+WarningStyle.Render("logged out"))
				select {
				case loggedOut <- struct{}{}:
				default:
				}
			})
			defer unsubscribe()

			if err := syncer.Start(ctx); err != nil {
				return err
			}

			state := "logged out"
			if syncer.IsAuthenticated() {
				state = "logged in"
			}
			fmt.Fprintln(a.out, DimStyle.Render("Watching "+a.cacheDescription()+" (currently "+state+"). Press Ctrl+C to stop."))

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-syncer.Done():
					return nil
				case <-loggedOut:
					if untilLogout {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&untilLogout, "until-logout", false, "Exit after the first logout")
	return cmd
}

func (a *app) cacheDescription() string {
	path, err := a.cfg.CachePath()
	if err != nil || a.cfg.Cache.Backend == config.BackendMemory {
		return a.cfg.Cache.Backend + " cache"
	}
	return path
}
