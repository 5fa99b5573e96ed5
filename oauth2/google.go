package oauth2

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"github.com/panyam/websession/client"
)

// Google signs users in with a Google account
var Google = Provider{
	Name:     "google",
	Endpoint: google.Endpoint,
	Scopes: []string{
		"openid",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	},
	ExchangePath: client.GoogleCallbackPath,
}

// idTokenRequest is the body of POST /login/google
type idTokenRequest struct {
	IDToken string `json:"id_token"`
}

// LoginWithIDToken is the one-shot Google path: an ID token obtained by the
// host (for example from Google Identity Services) is handed to the backend
// in exchange for this system's credentials. The token is only checked for
// audience and expiry here; the backend verifies its signature.
func (e *Exchanger) LoginWithIDToken(ctx context.Context, idToken string) (*client.User, error) {
	payload, err := idtoken.ParsePayload(idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed id token: %v", client.ErrOAuthExchangeFailed, err)
	}
	if e.Config != nil && e.Config.ClientID != "" && payload.Audience != e.Config.ClientID {
		return nil, fmt.Errorf("%w: id token issued for another client", client.ErrOAuthExchangeFailed)
	}
	if payload.Expires != 0 && time.Unix(payload.Expires, 0).Before(time.Now()) {
		return nil, fmt.Errorf("%w: id token expired", client.ErrOAuthExchangeFailed)
	}

	token, rawUser, err := e.Client.IssueToken(ctx, client.GoogleLoginPath, idTokenRequest{IDToken: idToken})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrOAuthExchangeFailed, err)
	}
	user, err := e.Client.CompleteLogin(ctx, token, rawUser)
	if err != nil {
		return nil, fmt.Errorf("%w: identity fetch: %v", client.ErrOAuthExchangeFailed, err)
	}
	log.Info().Str("user_id", string(user.ID)).Msg("google id token login complete")
	return user, nil
}
