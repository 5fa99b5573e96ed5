// Package client implements the authenticated session layer: the request
// gateway, the refresh transport, session restore, login and logout.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"

	ws "github.com/panyam/websession"
)

// DefaultIdentityTimeout bounds the identity fetch, including any refresh it
// triggers
const DefaultIdentityTimeout = 10 * time.Second

// Client owns one session against one API origin
type Client struct {
	baseURL string
	tokens  ws.TokenStore
	session *Session
	gateway *Gateway

	httpClient    *http.Client // through the gateway
	plainClient   *http.Client // straight to the base transport
	baseTransport http.RoundTripper
	jar           http.CookieJar
	refresher     Refresher
	gatewayOpts   []GatewayOption

	identityTimeout  time.Duration
	onSessionExpired func()

	restoreOnce sync.Once
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with the gateway.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc == nil {
			return
		}
		if hc.Transport != nil {
			c.baseTransport = hc.Transport
		}
		if hc.Jar != nil {
			c.jar = hc.Jar
		}
		c.httpClient.Timeout = hc.Timeout
		c.httpClient.CheckRedirect = hc.CheckRedirect
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.baseTransport = rt
	}
}

// WithCookieJar sets the jar that carries the refresh cookie
func WithCookieJar(jar http.CookieJar) ClientOption {
	return func(c *Client) {
		c.jar = jar
	}
}

// WithRefresher replaces the HTTP refresh transport
func WithRefresher(r Refresher) ClientOption {
	return func(c *Client) {
		c.refresher = r
	}
}

// WithIdentityTimeout bounds the identity fetch
func WithIdentityTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.identityTimeout = d
		}
	}
}

// WithOnSessionExpired sets the function called once per involuntary logout.
// Hosts use it to navigate to their login entry point.
func WithOnSessionExpired(fn func()) ClientOption {
	return func(c *Client) {
		c.onSessionExpired = fn
	}
}

// WithGatewayOptions passes options through to the Gateway
func WithGatewayOptions(opts ...GatewayOption) ClientOption {
	return func(c *Client) {
		c.gatewayOpts = append(c.gatewayOpts, opts...)
	}
}

// NewClient creates a session client for the API at baseURL
func NewClient(baseURL string, tokens ws.TokenStore, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		tokens:          tokens,
		session:         NewSession(),
		httpClient:      &http.Client{},
		baseTransport:   http.DefaultTransport,
		identityTimeout: DefaultIdentityTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			// cookiejar.New never fails with a non-nil suffix list
			panic(err)
		}
		c.jar = jar
	}

	c.plainClient = &http.Client{Transport: c.baseTransport, Jar: c.jar, Timeout: c.httpClient.Timeout}
	if c.refresher == nil {
		c.refresher = NewHTTPRefresher(c.baseURL, c.plainClient)
	}

	gatewayOpts := append([]GatewayOption{WithBaseTransport(c.baseTransport)}, c.gatewayOpts...)
	gatewayOpts = append(gatewayOpts, WithExpiryHandler(c.handleExpiry))
	c.gateway = NewGateway(tokens, c.refresher, gatewayOpts...)

	c.httpClient.Transport = c.gateway
	c.httpClient.Jar = c.jar

	return c
}

// HTTPClient returns the HTTP client every application call should use
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Session returns the observable session state
func (c *Client) Session() *Session {
	return c.session
}

// Gateway returns the request gateway
func (c *Client) Gateway() *Gateway {
	return c.gateway
}

// BaseURL returns the API origin this client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL resolves an endpoint path against the base URL
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// handleExpiry runs once per involuntary termination, after the gateway has
// cleared the stored credential
func (c *Client) handleExpiry(reason string) {
	c.session.reset(KindSessionExpired)
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}

// Login exchanges email and password for an access credential and populates
// the session. Rejected credentials yield ErrInvalidCredentials and leave the
// session anonymous.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	token, rawUser, err := c.IssueToken(ctx, LoginPath, LoginRequest{Email: email, Password: password})
	if err != nil {
		log.Debug().Err(err).Msg("login failed")
		c.recordError(err)
		return nil, err
	}
	return c.CompleteLogin(ctx, token, rawUser)
}

// CompleteLogin stores a freshly issued access credential and populates the
// session, from rawUser when the issuing response carried one and from the
// identity endpoint otherwise. On failure the credential is dropped again.
func (c *Client) CompleteLogin(ctx context.Context, token string, rawUser json.RawMessage) (*User, error) {
	c.gateway.Store(token)

	if len(rawUser) > 0 && string(rawUser) != "null" {
		if user, err := decodeUser(rawUser); err == nil {
			c.session.setUser(user)
			return user, nil
		}
	}

	user, err := c.FetchIdentity(ctx)
	if err != nil {
		c.gateway.Reset()
		c.session.reset(KindOf(err))
		return nil, err
	}
	return user, nil
}

// FetchIdentity calls GET /auth/me through the gateway and caches the user
func (c *Client) FetchIdentity(ctx context.Context) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, c.identityTimeout)
	defer cancel()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "websession.identity")
	defer span.End()

	body, err := c.doRaw(ctx, http.MethodGet, MePath, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	user, err := decodeUser(body)
	if err != nil {
		return nil, err
	}
	c.session.setUser(user)
	return user, nil
}

// Restore hydrates the session from a stored credential. It runs once per
// Client; later calls return the current state. Failures are not errors here:
// the session simply ends up anonymous with the stored credential cleared.
func (c *Client) Restore(ctx context.Context) SessionState {
	c.restoreOnce.Do(func() {
		c.session.beginLoading()
		if _, ok := c.tokens.Get(); !ok {
			c.session.reset(KindNone)
			return
		}

		// an expired session at startup is expected and stays silent
		if _, err := c.FetchIdentity(withQuietExpiry(ctx)); err != nil {
			log.Debug().Err(err).Msg("stored session could not be restored")
			if !errors.Is(err, ErrSessionExpired) {
				c.gateway.Reset()
			}
			c.session.reset(KindNone)
		}
	})
	return c.session.State()
}

// Logout asks the server to revoke the refresh credential, then clears local
// state whether or not that call succeeded.
func (c *Client) Logout(ctx context.Context) {
	cred := c.gateway.Acquire()
	if err := c.notifyLogout(ctx, cred.Token); err != nil {
		log.Warn().Err(err).Msg("server-side logout failed, clearing local session anyway")
	}
	c.gateway.Reset()
	c.session.reset(KindNone)
}

func (c *Client) notifyLogout(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(LogoutPath), http.NoBody)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.plainClient.Do(req)
	if err != nil {
		return err
	}
	body := drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, body)
	}
	return nil
}

// UpdateProfile calls PUT /auth/me and refreshes the cached user
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*User, error) {
	body, err := c.doRaw(ctx, http.MethodPut, MePath, update)
	if err != nil {
		return nil, err
	}
	user, err := decodeUser(body)
	if err != nil {
		// some servers answer a mutation with no body; re-read instead
		return c.FetchIdentity(ctx)
	}
	c.session.setUser(user)
	return user, nil
}

// DeleteAccount calls DELETE /auth/me and, on success, tears the session
// down like a logout
func (c *Client) DeleteAccount(ctx context.Context) error {
	if _, err := c.doRaw(ctx, http.MethodDelete, MePath, nil); err != nil {
		return err
	}
	c.gateway.Reset()
	c.session.reset(KindNone)
	return nil
}

// recordError notes a failed user-initiated operation on the session
// without changing who is logged in
func (c *Client) recordError(err error) {
	kind := KindOf(err)
	c.session.update(func(st *SessionState) {
		st.LastError = kind
	})
}

// unwrapURLError strips the *url.Error wrapper http.Client adds around
// errors from the gateway, so messages read as the session error
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && KindOf(ue.Err) != KindUnknown {
		return ue.Err
	}
	return err
}
