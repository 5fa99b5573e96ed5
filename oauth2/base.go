package oauth2

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// Provider describes an identity provider and the backend endpoint that
// exchanges its authorization codes for this system's own credentials
type Provider struct {
	Name     string
	Endpoint oauth2.Endpoint
	Scopes   []string

	// ExchangePath is the backend path receiving {code, redirect_uri, state}
	ExchangePath string
}

// ProviderByName looks up a built-in provider
func ProviderByName(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Google.Name:
		return Google, nil
	case GitHub.Name:
		return GitHub, nil
	default:
		return Provider{}, fmt.Errorf("unknown oauth provider %q", name)
	}
}

// NewConfig builds the authorization-code config for a public client. There
// is no client secret: the backend holds it and performs the token exchange.
// Empty arguments fall back to OAUTH2_<PROVIDER>_CLIENT_ID and
// OAUTH2_<PROVIDER>_CALLBACK_URL.
func NewConfig(p Provider, clientID, redirectURI string) *oauth2.Config {
	prefix := "OAUTH2_" + strings.ToUpper(p.Name) + "_"
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID"))
	}
	if redirectURI == "" {
		redirectURI = strings.TrimSpace(os.Getenv(prefix + "CALLBACK_URL"))
	}
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      append([]string(nil), p.Scopes...),
		Endpoint:    p.Endpoint,
	}
}
