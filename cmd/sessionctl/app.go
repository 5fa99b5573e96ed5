package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/panyam/websession/client"
)

// app is the per-command wiring of store, client and output
type app struct {
	opts   *options
	client *client.Client
	out    io.Writer
	close  func() error
}

func newApp(cmd *cobra.Command, opts *options) (*app, error) {
	conf := opts.conf
	tokens, closer, err := openTokenStore(cmd.Context(), conf.Store)
	if err != nil {
		return nil, err
	}

	a := &app{opts: opts, out: cmd.OutOrStdout(), close: closer}
	a.client = client.NewClient(conf.API.BaseURL, tokens,
		client.WithHTTPClient(&http.Client{Timeout: conf.API.Timeout}),
		client.WithIdentityTimeout(conf.Auth.IdentityTimeout),
		client.WithGatewayOptions(
			client.WithRefreshTimeout(conf.Auth.RefreshTimeout),
			client.WithRefreshThreshold(conf.Auth.RefreshThreshold),
		),
		client.WithOnSessionExpired(func() {
			fmt.Fprintln(cmd.ErrOrStderr(), "Session expired, please log in again.")
		}),
	)
	log.Debug().Str("base_url", conf.API.BaseURL).Str("store", conf.Store.Backend).Msg("client ready")
	return a, nil
}

// run wraps a command body with app setup and teardown
func run(opts *options, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.close(); err != nil {
				log.Warn().Err(err).Msg("failed to close token store")
			}
		}()
		return fn(cmd.Context(), a, args)
	}
}

func (a *app) printUser(u *client.User) error {
	if a.opts.jsonOutput {
		return a.printJSON(u)
	}
	fmt.Fprintf(a.out, "ID:       %s\n", u.ID)
	fmt.Fprintf(a.out, "Email:    %s\n", u.Email)
	if u.Username != "" {
		fmt.Fprintf(a.out, "Username: %s\n", u.Username)
	}
	if u.DisplayName != "" {
		fmt.Fprintf(a.out, "Name:     %s\n", u.DisplayName)
	}
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
