package main

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/panyam/websession/internal/config"
)

// options holds the global flags
type options struct {
	configFile string
	envFile    string
	baseURL    string
	backend    string
	storePath  string
	profile    string
	logLevel   string
	jsonOutput bool

	conf *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Authenticated session client",
		Long: `sessionctl keeps an authenticated session against a websession API.

The access token is persisted in the configured store; every API call made
through sessionctl attaches it and refreshes it once on a 401.

Environment Variables:
  WEBSESSION_API_BASE_URL     API origin
  WEBSESSION_STORE_BACKEND    memory, fs, sqlite or datastore
  WEBSESSION_OAUTH_CLIENT_ID  OAuth client id for oauth-login`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.StringVar(&opts.baseURL, "base-url", "", "API origin (overrides api.base_url)")
	flags.StringVar(&opts.backend, "store", "", "token store backend (overrides store.backend)")
	flags.StringVar(&opts.storePath, "store-path", "", "token file for the fs backend (overrides store.path)")
	flags.StringVar(&opts.profile, "profile", "", "credential profile (overrides store.profile)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides log.level)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of text")

	root.AddCommand(
		newLoginCmd(opts),
		newWhoamiCmd(opts),
		newLogoutCmd(opts),
		newGetCmd(opts),
		newUpdateProfileCmd(opts),
		newDeleteAccountCmd(opts),
		newOAuthLoginCmd(opts),
		newGoogleLoginCmd(opts),
	)
	return root
}

// load reads .env, the config file and the environment, then applies flags
func (o *options) load() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	conf, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	if o.baseURL != "" {
		conf.API.BaseURL = o.baseURL
	}
	if o.backend != "" {
		conf.Store.Backend = o.backend
	}
	if o.storePath != "" {
		conf.Store.Path = o.storePath
	}
	if o.profile != "" {
		conf.Store.Profile = o.profile
	}
	if o.logLevel != "" {
		conf.Log.Level = o.logLevel
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	setupLogging(conf.Log.Level)
	o.conf = conf
	return nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}
