// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/gptchat/internal/auth"
)

// readCredentials takes the email from the flag or a prompt and always
// prompts for the password.
func readCredentials(a *app, email string) (string, string, error) {
	var err error
	if email == "" {
		email, err = a.prompt.line("Email: ")
		if err != nil {
			return "", "", err
		}
	}
	password, err := a.prompt.password("Password: ")
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

func newLoginCommand(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := readCredentials(a, email)
			if err != nil {
				return err
			}
			if err := a.auth.Login(cmd.Context(), email, password); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("Logged in as "+a.store.UserEmail()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	return cmd
}

func newSignupCommand(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := readCredentials(a, email)
			if err != nil {
				return err
			}
			msg, err := a.auth.Signup(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render(msg))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential and cached conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.store.Logout()
			fmt.Fprintln(a.out, "Logged out.")
			return nil
		},
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.IsAuthenticated(a.cache) {
				fmt.Fprintln(a.out, DimStyle.Render("Not logged in."))
				return nil
			}
			email := a.store.UserEmail()
			if email == "" {
				email = "(unknown)"
			}
			fmt.Fprintf(a.out, "%s %s\n", LabelStyle.Render("Email:"), email)
			fmt.Fprintf(a.out, "%s %s\n", LabelStyle.Render("Server:"), a.client.BaseURL())
			fmt.Fprintf(a.out, "%s %s\n", LabelStyle.Render("Mode:"), a.store.Mode())
			return nil
		},
	}
}
