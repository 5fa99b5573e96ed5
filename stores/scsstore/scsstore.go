// Package scsstore keeps the access credential and OAuth nonce inside an
// scs browser session. It serves hosts that run the session layer on the
// server side on behalf of a browser, where each browser session owns one
// credential.
//
// Stores are bound to a request context that has passed through the
// SessionManager's LoadAndSave middleware:
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    tokens := scsstore.NewTokenStore(sessionManager, r.Context())
//	    c := client.NewClient(apiURL, tokens)
//	    ...
//	}
package scsstore

import (
	"context"

	"github.com/alexedwards/scs/v2"

	ws "github.com/panyam/websession"
)

// Session keys
const (
	KeyAccessToken = "websession.access_token"
	KeyOAuthNonce  = "websession.oauth_state"
)

// TokenStore implements ws.TokenStore on top of an scs session
type TokenStore struct {
	manager *scs.SessionManager
	ctx     context.Context
}

var _ ws.TokenStore = (*TokenStore)(nil)

func NewTokenStore(manager *scs.SessionManager, ctx context.Context) *TokenStore {
	return &TokenStore{manager: manager, ctx: ctx}
}

func (s *TokenStore) Get() (string, bool) {
	token := s.manager.GetString(s.ctx, KeyAccessToken)
	return token, token != ""
}

func (s *TokenStore) Set(token string) {
	s.manager.Put(s.ctx, KeyAccessToken, token)
}

func (s *TokenStore) Clear() {
	s.manager.Remove(s.ctx, KeyAccessToken)
}

// NonceStore implements ws.NonceStore on top of an scs session
type NonceStore struct {
	manager *scs.SessionManager
	ctx     context.Context
}

var _ ws.NonceStore = (*NonceStore)(nil)

func NewNonceStore(manager *scs.SessionManager, ctx context.Context) *NonceStore {
	return &NonceStore{manager: manager, ctx: ctx}
}

func (s *NonceStore) Put(nonce string) {
	s.manager.Put(s.ctx, KeyOAuthNonce, nonce)
}

func (s *NonceStore) Take() (string, bool) {
	nonce := s.manager.PopString(s.ctx, KeyOAuthNonce)
	return nonce, nonce != ""
}
