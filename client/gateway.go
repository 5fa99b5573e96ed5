package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	ws "github.com/panyam/websession"
)

const (
	// DefaultRefreshTimeout bounds a single refresh call
	DefaultRefreshTimeout = 10 * time.Second

	// DefaultRefreshThreshold is how long before a JWT access credential's exp
	// the gateway refreshes ahead of sending
	DefaultRefreshThreshold = 30 * time.Second

	// RequestIDHeader carries the per-request correlation id
	RequestIDHeader = "X-Request-ID"

	tracerName = "github.com/panyam/websession/client"
)

// Termination reasons reported to the expiry callback and metrics
const (
	ReasonRefreshRejected   = "refresh_rejected"
	ReasonRetryUnauthorized = "retry_unauthorized"
)

type ctxKey int

const (
	skipRefreshKey ctxKey = iota
	quietExpiryKey
)

// WithoutRefresh marks requests made with ctx as credential-issuing calls:
// a 401 is reported as ErrInvalidCredentials and never triggers a refresh.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRefreshKey, true)
}

func skipsRefresh(ctx context.Context) bool {
	v, _ := ctx.Value(skipRefreshKey).(bool)
	return v
}

// withQuietExpiry marks requests whose own termination of the session must
// not run the expiry callback, such as the identity fetch during restore.
func withQuietExpiry(ctx context.Context) context.Context {
	return context.WithValue(ctx, quietExpiryKey, true)
}

func quietExpiry(ctx context.Context) bool {
	v, _ := ctx.Value(quietExpiryKey).(bool)
	return v
}

// Credential is an access credential together with the session epoch it was
// read in. The epoch advances every time the stored credential changes, so a
// 401 can tell whether its credential has already been replaced.
type Credential struct {
	Token string
	epoch uint64
}

// Gateway is an http.RoundTripper that attaches the stored access credential
// to every request and recovers from 401 responses.
//
// Concurrent 401s for the same credential share one refresh call. Each
// request is re-issued at most once. When recovery is impossible the stored
// credential is cleared and the expiry callback runs exactly once.
type Gateway struct {
	mu     sync.Mutex
	tokens ws.TokenStore
	epoch  uint64

	// epoch of a quiet termination nobody has been told about yet, or 0
	unsignaled       uint64
	unsignaledReason string

	refresher        Refresher
	base             http.RoundTripper
	group            singleflight.Group
	refreshTimeout   time.Duration
	refreshThreshold time.Duration
	onExpire         func(reason string)
	registerer       prometheus.Registerer
	metrics          *metrics
	tracer           trace.Tracer
	now              func() time.Time
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithBaseTransport sets the transport requests are finally sent with
func WithBaseTransport(rt http.RoundTripper) GatewayOption {
	return func(g *Gateway) {
		if rt != nil {
			g.base = rt
		}
	}
}

// WithRefreshTimeout bounds each refresh call
func WithRefreshTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.refreshTimeout = d
		}
	}
}

// WithRefreshThreshold sets the proactive refresh window. A negative value
// disables proactive refresh.
func WithRefreshThreshold(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.refreshThreshold = d
	}
}

// WithExpiryHandler sets the function called once per involuntary session
// termination
func WithExpiryHandler(fn func(reason string)) GatewayOption {
	return func(g *Gateway) {
		g.onExpire = fn
	}
}

// WithRegisterer registers gateway metrics with reg
func WithRegisterer(reg prometheus.Registerer) GatewayOption {
	return func(g *Gateway) {
		g.registerer = reg
	}
}

// withClock overrides time.Now for tests
func withClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway creates a gateway around a token store and a refresher
func NewGateway(tokens ws.TokenStore, refresher Refresher, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		tokens:           tokens,
		refresher:        refresher,
		base:             http.DefaultTransport,
		refreshTimeout:   DefaultRefreshTimeout,
		refreshThreshold: DefaultRefreshThreshold,
		tracer:           otel.Tracer(tracerName),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.metrics = newMetrics(g.registerer)
	return g
}

// Acquire reads the current credential. Token is empty when none is stored.
func (g *Gateway) Acquire() Credential {
	g.mu.Lock()
	defer g.mu.Unlock()
	token, _ := g.tokens.Get()
	return Credential{Token: token, epoch: g.epoch}
}

// Store replaces the stored credential, as after a login
func (g *Gateway) Store(token string) {
	g.mu.Lock()
	g.tokens.Set(token)
	g.epoch++
	g.mu.Unlock()
}

// Reset clears the stored credential without running the expiry callback, as
// on a voluntary logout
func (g *Gateway) Reset() {
	g.mu.Lock()
	g.tokens.Clear()
	g.epoch++
	g.mu.Unlock()
}

// Expire terminates the session that used cred: the stored credential is
// cleared and the expiry callback runs. It does nothing when the session has
// moved on since cred was read, so concurrent failures terminate once.
func (g *Gateway) Expire(cred Credential, reason string) bool {
	return g.expire(cred, reason, false)
}

// expire is Expire with the callback held back when quiet. A held-back
// termination is delivered later to the first ordinary caller that fails
// because of it.
func (g *Gateway) expire(cred Credential, reason string, quiet bool) bool {
	g.mu.Lock()
	if g.epoch != cred.epoch {
		g.mu.Unlock()
		if !quiet {
			g.signalUnsignaled()
		}
		return false
	}
	g.tokens.Clear()
	g.epoch++
	if quiet {
		g.unsignaled, g.unsignaledReason = g.epoch, reason
	}
	g.mu.Unlock()

	log.Info().Str("reason", reason).Bool("quiet", quiet).Msg("session expired")
	g.metrics.terminations.WithLabelValues(reason).Inc()
	if !quiet && g.onExpire != nil {
		g.onExpire(reason)
	}
	return true
}

// signalUnsignaled runs the expiry callback for a quiet termination that is
// still the current state of the session
func (g *Gateway) signalUnsignaled() {
	g.mu.Lock()
	if g.unsignaled == 0 || g.unsignaled != g.epoch {
		g.mu.Unlock()
		return
	}
	reason := g.unsignaledReason
	g.unsignaled, g.unsignaledReason = 0, ""
	g.mu.Unlock()

	if g.onExpire != nil {
		g.onExpire(reason)
	}
}

// Recover returns a credential to retry with after used was rejected.
//
// If the stored credential already changed since used was read, the current
// one is returned without a refresh call. Otherwise all callers holding the
// same credential share a single refresh. A rejected refresh expires the
// session and yields ErrSessionExpired.
func (g *Gateway) Recover(ctx context.Context, used Credential) (Credential, error) {
	key := strconv.FormatUint(used.epoch, 10)
	ch := g.group.DoChan(key, func() (any, error) {
		return g.refreshFrom(ctx, used)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrSessionExpired) && !quietExpiry(ctx) {
				g.signalUnsignaled()
			}
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
}

// refreshFrom runs inside the singleflight group for used.epoch
func (g *Gateway) refreshFrom(ctx context.Context, used Credential) (Credential, error) {
	g.mu.Lock()
	if g.epoch != used.epoch {
		token, ok := g.tokens.Get()
		cur := Credential{Token: token, epoch: g.epoch}
		g.mu.Unlock()
		if !ok {
			return Credential{}, ErrSessionExpired
		}
		g.metrics.coalesced.Inc()
		return cur, nil
	}
	g.mu.Unlock()

	// the refresh outlives any single waiter
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refreshTimeout)
	defer cancel()
	ctx, span := g.tracer.Start(ctx, "websession.refresh")
	defer span.End()

	log.Debug().Msg("refreshing access token")
	token, err := g.refresher.Refresh(ctx)
	g.metrics.refreshes.WithLabelValues(refreshOutcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, ErrNetworkUnavailable) {
			log.Warn().Err(err).Msg("refresh could not reach the server")
			return Credential{}, err
		}
		if !errors.Is(err, ErrRefreshRejected) {
			err = fmt.Errorf("%w: %w", ErrRefreshRejected, err)
		}
		g.expire(used, ReasonRefreshRejected, quietExpiry(ctx))
		return Credential{}, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.epoch != used.epoch {
		// a login or logout happened while refreshing; it wins
		current, ok := g.tokens.Get()
		span.SetAttributes(attribute.Bool("websession.refresh.discarded", true))
		if !ok {
			return Credential{}, ErrSessionExpired
		}
		return Credential{Token: current, epoch: g.epoch}, nil
	}
	g.tokens.Set(token)
	g.epoch++
	log.Debug().Msg("access token refreshed")
	return Credential{Token: token, epoch: g.epoch}, nil
}

// AcquireFresh reads the current credential like Acquire, but first refreshes
// a JWT credential that is about to expire. refreshed reports whether that
// used up the caller's single recovery.
func (g *Gateway) AcquireFresh(ctx context.Context) (cred Credential, refreshed bool, err error) {
	cred = g.Acquire()
	if !g.expiringSoon(cred.Token) {
		return cred, false, nil
	}
	log.Debug().Msg("access token near expiry, refreshing before send")
	cred, err = g.Recover(ctx, cred)
	return cred, true, err
}

// expiringSoon reports whether token is a JWT whose exp falls within the
// refresh threshold. Opaque tokens never expire from the client's view.
func (g *Gateway) expiringSoon(token string) bool {
	if token == "" || g.refreshThreshold < 0 {
		return false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return false
	}
	return g.now().Add(g.refreshThreshold).After(claims.ExpiresAt.Time)
}

// RoundTrip implements http.RoundTripper
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	reqID := req.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	logger := log.With().Str("request_id", reqID).Str("method", req.Method).Str("path", req.URL.Path).Logger()

	getBody, buffered, err := replayableBody(req)
	if err != nil {
		return nil, err
	}
	var firstBody func() (io.ReadCloser, error)
	if buffered {
		firstBody = getBody
	}

	// credential-issuing calls never enter the refresh protocol
	var cred Credential
	var retried bool
	if skipsRefresh(ctx) {
		cred = g.Acquire()
	} else if cred, retried, err = g.AcquireFresh(ctx); err != nil {
		return nil, err
	}

	resp, err := g.send(req, cred, reqID, firstBody)
	for {
		if err != nil {
			return nil, networkError(ctx, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		if skipsRefresh(ctx) {
			body := drain(resp)
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, newAPIError(resp.StatusCode, body))
		}

		drain(resp)
		if retried {
			logger.Debug().Msg("retried request rejected again")
			g.expire(cred, ReasonRetryUnauthorized, quietExpiry(ctx))
			return nil, ErrSessionExpired
		}
		retried = true

		logger.Debug().Msg("unauthorized, recovering credential")
		if cred, err = g.Recover(ctx, cred); err != nil {
			return nil, err
		}

		g.metrics.retries.Inc()
		logger.Debug().Msg("re-issuing request")
		resp, err = g.send(req, cred, reqID, getBody)
	}
}

// send issues one attempt. A nil getBody sends the caller's body as is.
func (g *Gateway) send(req *http.Request, cred Credential, reqID string, getBody func() (io.ReadCloser, error)) (*http.Response, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}
	out.Header.Set(RequestIDHeader, reqID)
	if cred.Token != "" {
		out.Header.Set("Authorization", "Bearer "+cred.Token)
	} else {
		out.Header.Del("Authorization")
	}
	return g.base.RoundTrip(out)
}

// TokenSource exposes the current credential as an oauth2.TokenSource, for
// libraries that take one. It never refreshes; the gateway does that on 401.
func (g *Gateway) TokenSource() oauth2.TokenSource {
	return gatewayTokenSource{g}
}

type gatewayTokenSource struct{ g *Gateway }

func (s gatewayTokenSource) Token() (*oauth2.Token, error) {
	cred := s.g.Acquire()
	if cred.Token == "" {
		return nil, ErrSessionExpired
	}
	return &oauth2.Token{AccessToken: cred.Token, TokenType: "Bearer"}, nil
}

// replayableBody returns a function producing a fresh copy of the request
// body for the retry. Bodies without GetBody are read into memory once, in
// which case buffered is true and every attempt must use the copy.
func replayableBody(req *http.Request) (getBody func() (io.ReadCloser, error), buffered bool, err error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, false, nil
	}
	if req.GetBody != nil {
		return req.GetBody, false, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, false, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, true, nil
}

// drain reads a bounded amount of the body for error reporting and closes it
func drain(resp *http.Response) []byte {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return body
}

// networkError classifies a transport failure. Cancellation by the caller is
// passed through; anything else means no response was received.
func networkError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
}
