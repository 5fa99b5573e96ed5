// Package oauth2 completes third-party authorization-code logins and turns
// them into a session on the client package's Client.
package oauth2

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	ws "github.com/panyam/websession"
	"github.com/panyam/websession/client"
)

// DefaultRedirectDelay is how long the error state stays visible before the
// host is sent back to the login entry point
const DefaultRedirectDelay = 2 * time.Second

// DefaultAttemptRetention is how long a settled callback outcome is replayed
// to repeated invocations with the same code
const DefaultAttemptRetention = time.Minute

// Status is the state of the callback flow
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// callbackRequest is the body of the backend code exchange
type callbackRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state"`
}

// attempt is the single exchange run for one authorization code
type attempt struct {
	done chan struct{}
	user *client.User
	err  error
}

// Exchanger drives the authorization-code flow: Begin before sending the user
// to the provider, HandleCallback when the provider sends them back.
type Exchanger struct {
	Client   *client.Client
	Nonces   ws.NonceStore
	Config   *oauth2.Config
	Provider Provider

	RedirectDelay    time.Duration
	AttemptRetention time.Duration
	LoginPath        string
	HomePath         string

	// Navigate is called with LoginPath or HomePath when the flow settles
	Navigate func(path string)
	// OnStatus observes every status change
	OnStatus func(Status, error)

	mu       sync.Mutex
	attempts map[string]*attempt
	status   Status
	lastErr  error
	timer    *time.Timer
}

// ExchangerOption configures an Exchanger
type ExchangerOption func(*Exchanger)

// WithRedirectDelay sets the delay before navigating to the login path after
// a failure
func WithRedirectDelay(d time.Duration) ExchangerOption {
	return func(e *Exchanger) {
		e.RedirectDelay = d
	}
}

// WithAttemptRetention sets how long a settled outcome is kept for repeated
// callbacks carrying the same code
func WithAttemptRetention(d time.Duration) ExchangerOption {
	return func(e *Exchanger) {
		if d > 0 {
			e.AttemptRetention = d
		}
	}
}

// WithNavigator sets the navigation callback
func WithNavigator(fn func(path string)) ExchangerOption {
	return func(e *Exchanger) {
		e.Navigate = fn
	}
}

// WithStatusHandler sets the status observer
func WithStatusHandler(fn func(Status, error)) ExchangerOption {
	return func(e *Exchanger) {
		e.OnStatus = fn
	}
}

// WithPaths sets where the host goes after a failure and after a success
func WithPaths(loginPath, homePath string) ExchangerOption {
	return func(e *Exchanger) {
		e.LoginPath = loginPath
		e.HomePath = homePath
	}
}

// NewExchanger creates an exchanger for provider using cfg (see NewConfig)
func NewExchanger(c *client.Client, nonces ws.NonceStore, provider Provider, cfg *oauth2.Config, opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		Client:           c,
		Nonces:           nonces,
		Config:           cfg,
		Provider:         provider,
		RedirectDelay:    DefaultRedirectDelay,
		AttemptRetention: DefaultAttemptRetention,
		LoginPath:        "/login",
		HomePath:         "/",
		attempts:         make(map[string]*attempt),
		status:           StatusIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Begin stores a fresh state nonce and returns the provider URL to send the
// user to
func (e *Exchanger) Begin() (string, error) {
	state, err := generateState()
	if err != nil {
		return "", err
	}
	e.Nonces.Put(state)
	return e.Config.AuthCodeURL(state), nil
}

// Status returns the current flow status and the error behind StatusError
func (e *Exchanger) Status() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.lastErr
}

// HandleCallback completes the flow from the provider's redirect parameters.
// Exactly one exchange runs per authorization code; repeated calls with the
// same parameters wait for that exchange and return its outcome.
func (e *Exchanger) HandleCallback(ctx context.Context, params url.Values) (*client.User, error) {
	key := params.Get("code") + "\x00" + params.Get("error")

	e.mu.Lock()
	if a, ok := e.attempts[key]; ok {
		e.mu.Unlock()
		log.Debug().Msg("duplicate oauth callback, waiting for the first attempt")
		select {
		case <-a.done:
			return a.user, a.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a := &attempt{done: make(chan struct{})}
	e.attempts[key] = a
	e.mu.Unlock()

	a.user, a.err = e.exchange(ctx, params)
	close(a.done)
	time.AfterFunc(e.AttemptRetention, func() { e.forget(key, a) })
	return a.user, a.err
}

func (e *Exchanger) exchange(ctx context.Context, params url.Values) (*client.User, error) {
	e.setStatus(StatusPending, nil)

	// the nonce is single use whatever happens next
	expected, _ := e.Nonces.Take()

	if providerErr := params.Get("error"); providerErr != "" {
		return e.fail(fmt.Errorf("%w: provider returned %s %s", client.ErrOAuthExchangeFailed, providerErr, params.Get("error_description")))
	}
	code, state := params.Get("code"), params.Get("state")
	if code == "" || state == "" {
		return e.fail(fmt.Errorf("%w: missing code or state", client.ErrOAuthExchangeFailed))
	}
	if !stateMatches(expected, state) {
		log.Warn().Str("provider", e.Provider.Name).Msg("oauth state mismatch, aborting login")
		return e.fail(fmt.Errorf("%w: state mismatch", client.ErrOAuthExchangeFailed))
	}

	token, rawUser, err := e.Client.IssueToken(ctx, e.Provider.ExchangePath, callbackRequest{
		Code:        code,
		RedirectURI: e.Config.RedirectURL,
		State:       state,
	})
	if err != nil {
		return e.fail(fmt.Errorf("%w: code exchange: %v", client.ErrOAuthExchangeFailed, err))
	}

	user, err := e.Client.CompleteLogin(ctx, token, rawUser)
	if err != nil {
		return e.fail(fmt.Errorf("%w: identity fetch: %v", client.ErrOAuthExchangeFailed, err))
	}

	log.Info().Str("provider", e.Provider.Name).Str("user_id", string(user.ID)).Msg("oauth login complete")
	e.setStatus(StatusSuccess, nil)
	e.navigate(e.HomePath)
	return user, nil
}

// forget drops a settled attempt unless a newer one took its key
func (e *Exchanger) forget(key string, a *attempt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attempts[key] == a {
		delete(e.attempts, key)
	}
}

// fail moves to the error state and schedules the trip back to login
func (e *Exchanger) fail(err error) (*client.User, error) {
	log.Warn().Err(err).Str("provider", e.Provider.Name).Msg("oauth login failed")
	e.setStatus(StatusError, err)

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.RedirectDelay, func() { e.navigate(e.LoginPath) })
	e.mu.Unlock()
	return nil, err
}

// Stop cancels a pending redirect to the login path
func (e *Exchanger) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Exchanger) setStatus(status Status, err error) {
	e.mu.Lock()
	e.status, e.lastErr = status, err
	e.mu.Unlock()
	if e.OnStatus != nil {
		e.OnStatus(status, err)
	}
}

func (e *Exchanger) navigate(path string) {
	if e.Navigate != nil && path != "" {
		e.Navigate(path)
	}
}
