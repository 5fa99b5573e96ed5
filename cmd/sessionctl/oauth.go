package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/panyam/websession/oauth2"
	"github.com/panyam/websession/stores"
)

func (a *app) newExchanger(redirectURI string) (*oauth2.Exchanger, error) {
	conf := a.opts.conf.OAuth
	provider, err := oauth2.ProviderByName(conf.Provider)
	if err != nil {
		return nil, err
	}
	if redirectURI == "" {
		redirectURI = conf.RedirectURI
	}
	cfg := oauth2.NewConfig(provider, conf.ClientID, redirectURI)
	return oauth2.NewExchanger(a.client, stores.NewMemoryNonceStore(), provider, cfg,
		oauth2.WithRedirectDelay(conf.RedirectDelay),
		oauth2.WithStatusHandler(func(status oauth2.Status, err error) {
			log.Debug().Str("status", string(status)).AnErr("error", err).Msg("oauth status")
		}),
	), nil
}

func newOAuthLoginCmd(opts *options) *cobra.Command {
	var listen string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "oauth-login",
		Short: "Log in through the configured OAuth provider",
		Long: `Start a loopback callback server, print the provider URL to open in a
browser, and wait for the redirect. The backend performs the code exchange.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:0", "loopback address for the callback server")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the browser")

	cmd.RunE = run(opts, func(ctx context.Context, a *app, _ []string) error {
		ex, err := a.newExchanger("")
		if err != nil {
			return err
		}
		defer ex.Stop()
		if ex.Config.ClientID == "" {
			return errors.New("oauth.client_id is not configured")
		}

		srv := oauth2.NewCallbackServer(ex, "")
		callbackURL, err := srv.Start(listen)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if ex.Config.RedirectURL == "" {
			ex.Config.RedirectURL = callbackURL
		}

		authURL, err := ex.Begin()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Open this URL in your browser:\n\n  %s\n\n", authURL)

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		user, err := srv.Wait(waitCtx)
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(a.out, "Logged in as %s\n", user.Email)
		return nil
	})
	return cmd
}

func newGoogleLoginCmd(opts *options) *cobra.Command {
	var idToken string
	cmd := &cobra.Command{
		Use:   "google-login",
		Short: "Log in with a Google ID token",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token")
	_ = cmd.MarkFlagRequired("id-token")

	cmd.RunE = run(opts, func(ctx context.Context, a *app, _ []string) error {
		ex, err := a.newExchanger("")
		if err != nil {
			return err
		}
		user, err := ex.LoginWithIDToken(ctx, idToken)
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(a.out, "Logged in as %s\n", user.Email)
		return nil
	})
	return cmd
}
