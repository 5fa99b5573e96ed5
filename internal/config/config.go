// Package config loads host configuration from an optional YAML file and
// WEBSESSION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. WEBSESSION_API_BASE_URL
const EnvPrefix = "WEBSESSION"

// Store backends
const (
	BackendMemory    = "memory"
	BackendFS        = "fs"
	BackendSQLite    = "sqlite"
	BackendDatastore = "datastore"
)

type Config struct {
	API   API   `mapstructure:"api" yaml:"api"`
	Auth  Auth  `mapstructure:"auth" yaml:"auth"`
	OAuth OAuth `mapstructure:"oauth" yaml:"oauth"`
	Store Store `mapstructure:"store" yaml:"store"`
	Log   Log   `mapstructure:"log" yaml:"log"`
}

type API struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Auth struct {
	RefreshTimeout   time.Duration `mapstructure:"refresh_timeout" yaml:"refresh_timeout"`
	IdentityTimeout  time.Duration `mapstructure:"identity_timeout" yaml:"identity_timeout"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold" yaml:"refresh_threshold"`
}

type OAuth struct {
	ClientID      string        `mapstructure:"client_id" yaml:"client_id"`
	RedirectURI   string        `mapstructure:"redirect_uri" yaml:"redirect_uri"`
	Provider      string        `mapstructure:"provider" yaml:"provider"`
	RedirectDelay time.Duration `mapstructure:"redirect_delay" yaml:"redirect_delay"`
}

type Store struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Path       string `mapstructure:"path" yaml:"path"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
	DSN        string `mapstructure:"dsn" yaml:"dsn"`
	ProjectID  string `mapstructure:"project_id" yaml:"project_id"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace"`
	Profile    string `mapstructure:"profile" yaml:"profile"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("auth.refresh_timeout", 10*time.Second)
	v.SetDefault("auth.identity_timeout", 10*time.Second)
	v.SetDefault("auth.refresh_threshold", 30*time.Second)
	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.redirect_uri", "")
	v.SetDefault("oauth.provider", "google")
	v.SetDefault("oauth.redirect_delay", 2*time.Second)
	v.SetDefault("store.backend", BackendFS)
	v.SetDefault("store.path", "")
	v.SetDefault("store.passphrase", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.project_id", "")
	v.SetDefault("store.namespace", "")
	v.SetDefault("store.profile", "default")
	v.SetDefault("log.level", "info")
}

// Load reads configFile when given, then applies environment overrides.
// A missing configFile is an error; no file at all is fine.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug().Msgf("Config file loaded: %s", v.ConfigFileUsed())
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &conf, nil
}

// Validate rejects configurations no host can run with
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}

	switch c.Store.Backend {
	case BackendMemory, BackendFS:
	case BackendSQLite:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the sqlite backend"))
		}
	case BackendDatastore:
		if c.Store.ProjectID == "" {
			errs = append(errs, errors.New("store.project_id is required for the datastore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	if c.Auth.RefreshTimeout <= 0 {
		errs = append(errs, errors.New("auth.refresh_timeout must be positive"))
	}
	if c.Auth.IdentityTimeout <= 0 {
		errs = append(errs, errors.New("auth.identity_timeout must be positive"))
	}
	return errors.Join(errs...)
}
