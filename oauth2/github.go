package oauth2

import (
	"golang.org/x/oauth2/github"
)

// GitHub signs users in with a GitHub account. The backend must expose
// POST /auth/github/callback with the same contract as the Google callback.
var GitHub = Provider{
	Name:         "github",
	Endpoint:     github.Endpoint,
	Scopes:       []string{"read:user", "user:email"},
	ExchangePath: "/auth/github/callback",
}
