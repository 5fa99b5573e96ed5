//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/rs/zerolog/log"

	ws "github.com/panyam/websession"
)

// KindAccessToken is the Datastore kind for stored access credentials
const KindAccessToken = "AccessToken"

// DefaultTimeout bounds each Datastore call made by the store
const DefaultTimeout = 5 * time.Second

// AccessTokenEntity is the Datastore entity for an access credential
type AccessTokenEntity struct {
	Key         *datastore.Key `datastore:"__key__"`
	AccessToken string         `datastore:"access_token,noindex"`
	UpdatedAt   time.Time      `datastore:"updated_at"`
}

// TokenStore implements ws.TokenStore using Google Cloud Datastore
type TokenStore struct {
	client    *datastore.Client
	namespace string
	profile   string
	ctx       context.Context
	timeout   time.Duration
}

var _ ws.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a new Datastore-backed TokenStore
func NewTokenStore(client *datastore.Client, namespace, profile string) *TokenStore {
	if profile == "" {
		profile = ws.DefaultProfile
	}
	return &TokenStore{
		client:    client,
		namespace: namespace,
		profile:   profile,
		ctx:       context.Background(),
		timeout:   DefaultTimeout,
	}
}

// WithContext returns a copy of the store with the given context
func (s *TokenStore) WithContext(ctx context.Context) *TokenStore {
	out := *s
	out.ctx = ctx
	return &out
}

func (s *TokenStore) key() *datastore.Key {
	key := datastore.NameKey(KindAccessToken, s.profile, nil)
	key.Namespace = s.namespace
	return key
}

func (s *TokenStore) Get() (string, bool) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	var entity AccessTokenEntity
	if err := s.client.Get(ctx, s.key(), &entity); err != nil {
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			log.Error().Err(err).Str("profile", s.profile).Msg("failed to read access token")
		}
		return "", false
	}
	return entity.AccessToken, entity.AccessToken != ""
}

func (s *TokenStore) Set(token string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	entity := &AccessTokenEntity{
		AccessToken: token,
		UpdatedAt:   time.Now().UTC(),
	}
	if _, err := s.client.Put(ctx, s.key(), entity); err != nil {
		log.Error().Err(err).Str("profile", s.profile).Msg("failed to store access token")
	}
}

func (s *TokenStore) Clear() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	if err := s.client.Delete(ctx, s.key()); err != nil {
		log.Error().Err(err).Str("profile", s.profile).Msg("failed to delete access token")
	}
}
