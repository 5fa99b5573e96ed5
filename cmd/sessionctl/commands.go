package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/panyam/websession/client"
)

func newLoginCmd(opts *options) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Long: `Log in with email and password and persist the access token.

When --password is omitted the password is read from the first line of stdin.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")

	cmd.RunE = run(opts, func(ctx context.Context, a *app, _ []string) error {
		if password == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password given")
			}
			password = strings.TrimRight(line, "\r\n")
		}
		user, err := a.client.Login(ctx, email, password)
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(a.out, "Logged in as %s\n", user.Email)
		return nil
	})
	return cmd
}

func newWhoamiCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Restore the stored session and show the current user",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = run(opts, func(ctx context.Context, a *app, _ []string) error {
		state := a.client.Restore(ctx)
		if state.Anonymous() {
			return errors.New("not logged in")
		}
		return a.printUser(state.User)
	})
	return cmd
}

func newLogoutCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored token",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = run(opts, func(ctx context.Context, a *app, _ []string) error {
		a.client.Logout(ctx)
		fmt.Fprintln(a.out, "Logged out")
		return nil
	})
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Call an API path with the session credential and print the JSON",
		Example: `  sessionctl get /api/posts
  sessionctl get /auth/me`,
		Args: cobra.ExactArgs(1),
	}
	cmd.RunE = run(opts, func(ctx context.Context, a *app, args []string) error {
		var out json.RawMessage
		if err := a.client.DoJSON(ctx, http.MethodGet, args[0], nil, &out); err != nil {
			return describe(err)
		}
		if len(out) == 0 {
			return nil
		}
		return a.printJSON(out)
	})
	return cmd
}

func newUpdateProfileCmd(opts *options) *cobra.Command {
	var update client.ProfileUpdate
	cmd := &cobra.Command{
		Use:   "update-profile",
		Short: "Change the current user's profile",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&update.DisplayName, "display-name", "", "new display name")
	cmd.Flags().StringVar(&update.Username, "username", "", "new username")
	cmd.Flags().StringVar(&update.Email, "email", "", "new email")

	cmd.RunE = run(opts, func(ctx context.Context, a *app, _ []string) error {
		if update == (client.ProfileUpdate{}) {
			return errors.New("nothing to update")
		}
		user, err := a.client.UpdateProfile(ctx, update)
		if err != nil {
			return describe(err)
		}
		return a.printUser(user)
	})
	return cmd
}

func newDeleteAccountCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Delete the current account",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	cmd.RunE = run(opts, func(ctx context.Context, a *app, _ []string) error {
		if !yes {
			return errors.New("refusing to delete the account without --yes")
		}
		if err := a.client.DeleteAccount(ctx); err != nil {
			return describe(err)
		}
		fmt.Fprintln(a.out, "Account deleted")
		return nil
	})
	return cmd
}

// describe turns a session error into a message for the terminal
func describe(err error) error {
	switch client.KindOf(err) {
	case client.KindInvalidCredentials:
		return fmt.Errorf("invalid email or password: %w", err)
	case client.KindSessionExpired:
		return fmt.Errorf("session expired, run 'sessionctl login': %w", err)
	case client.KindNetworkUnavailable:
		return fmt.Errorf("cannot reach the server: %w", err)
	case client.KindOAuthExchangeFailed:
		return fmt.Errorf("sign in failed: %w", err)
	}
	return err
}
