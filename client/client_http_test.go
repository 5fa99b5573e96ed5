package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/websession/internal/testserver"
	"github.com/panyam/websession/stores"
)

type testEnv struct {
	srv     *testserver.Server
	tokens  *stores.MemoryTokenStore
	client  *Client
	expired atomic.Int32
}

func newTestEnv(t *testing.T, opts ...ClientOption) *testEnv {
	t.Helper()
	env := &testEnv{srv: testserver.New(), tokens: stores.NewMemoryTokenStore()}
	t.Cleanup(env.srv.Close)
	opts = append([]ClientOption{WithOnSessionExpired(func() { env.expired.Add(1) })}, opts...)
	env.client = NewClient(env.srv.URL, env.tokens, opts...)
	return env
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	_, err := e.client.Login(context.Background(), "a@b.com", "Secret1!")
	require.NoError(t, err)
}

func (e *testEnv) getAPI(t *testing.T, path string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, e.client.URL(path), nil)
	require.NoError(t, err)
	return e.client.HTTPClient().Do(req)
}

func TestClient_Login_Success(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.client.Login(context.Background(), "a@b.com", "Secret1!")
	require.NoError(t, err)

	stored, ok := env.tokens.Get()
	require.True(t, ok)
	assert.Equal(t, "T1", stored)

	id, err := user.ID.Int64()
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	st := env.client.Session().State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, UserID("1"), st.User.ID)
	assert.Equal(t, "Alice", st.User.DisplayName)

	// the login response carried the user, so no identity fetch was needed
	assert.Zero(t, env.srv.Count("me"))
}

func TestClient_Login_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.Login(context.Background(), "a@b.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	st := env.client.Session().State()
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, KindInvalidCredentials, st.LastError)
	assert.Zero(t, env.srv.Count("refresh"))
	assert.Zero(t, env.expired.Load())

	_, ok := env.tokens.Get()
	assert.False(t, ok)
}

func TestClient_Login_BadRequestIsInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.Login(context.Background(), "", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Zero(t, env.srv.Count("refresh"))
}

func TestClient_Login_WithStaleStoredJWT(t *testing.T) {
	env := newTestEnv(t)
	expiredJWT := signedToken(t, time.Now().Add(-time.Hour))
	env.tokens.Set(expiredJWT)

	// the jar holds no refresh cookie, so a refresh here would end the session
	user, err := env.client.Login(context.Background(), "a@b.com", "Secret1!")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", user.Email)

	assert.Zero(t, env.srv.Count("refresh"))
	assert.Equal(t, 1, env.srv.Count("login"))
	assert.Zero(t, env.expired.Load())

	stored, _ := env.tokens.Get()
	assert.Equal(t, "T1", stored)
}

func TestClient_RetriesWithRefreshedToken(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.srv.RevokeAccess("T1")

	resp, err := env.getAPI(t, "/api/posts")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, true, payload["ok"])

	stored, _ := env.tokens.Get()
	assert.Equal(t, "T2", stored)
	assert.True(t, env.srv.ValidAccess("T2"))
	assert.Equal(t, 1, env.srv.Count("refresh"))
	assert.Equal(t, 2, env.srv.Count("api"))
	assert.True(t, env.client.Session().IsAuthenticated())
}

func TestClient_ConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.srv.RefreshDelay = 100 * time.Millisecond
	env.srv.RevokeAllAccess()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.getAPI(t, "/api/reviews")
			if assert.NoError(t, err) {
				resp.Body.Close()
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.srv.Count("refresh"))
	assert.Zero(t, env.expired.Load())
}

func TestClient_SecondUnauthorizedExpiresSession(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.srv.AlwaysUnauthorized = true

	_, err := env.getAPI(t, "/api/messages")
	require.ErrorIs(t, err, ErrSessionExpired)

	assert.Equal(t, 1, env.srv.Count("refresh"))
	assert.EqualValues(t, 1, env.expired.Load())

	st := env.client.Session().State()
	assert.True(t, st.Anonymous())
	assert.Equal(t, KindSessionExpired, st.LastError)
	_, ok := env.tokens.Get()
	assert.False(t, ok)
}

func TestClient_RefreshRejectedExpiresSession(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.srv.RejectRefresh = true
	env.srv.RevokeAllAccess()

	err := env.client.DoJSON(context.Background(), http.MethodGet, "/api/reports", nil, nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.EqualValues(t, 1, env.expired.Load())
	assert.False(t, env.client.Session().IsAuthenticated())
}

func TestClient_NetworkUnavailableKeepsSession(t *testing.T) {
	var refreshes atomic.Int32
	env := newTestEnv(t, WithRefresher(RefresherFunc(func(context.Context) (string, error) {
		refreshes.Add(1)
		return "", ErrRefreshRejected
	})))
	env.login(t)
	env.srv.Close()

	err := env.client.DoJSON(context.Background(), http.MethodGet, "/api/posts", nil, nil)
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.Equal(t, KindNetworkUnavailable, KindOf(err))
	assert.Zero(t, refreshes.Load())
	assert.Zero(t, env.expired.Load())

	stored, ok := env.tokens.Get()
	require.True(t, ok)
	assert.Equal(t, "T1", stored)
	assert.True(t, env.client.Session().IsAuthenticated())
}

func TestClient_Logout(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.client.Logout(context.Background())

	assert.Equal(t, 1, env.srv.Count("logout"))
	_, ok := env.tokens.Get()
	assert.False(t, ok)
	assert.True(t, env.client.Session().State().Anonymous())
	assert.Zero(t, env.expired.Load())
}

func TestClient_LogoutClearsEvenWhenServerFails(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.srv.FailLogout = true

	env.client.Logout(context.Background())

	assert.Equal(t, 1, env.srv.Count("logout"))
	_, ok := env.tokens.Get()
	assert.False(t, ok)
	st := env.client.Session().State()
	assert.True(t, st.Anonymous())
	assert.Equal(t, KindNone, st.LastError)
}

func TestClient_Restore_NoTokenMakesNoCalls(t *testing.T) {
	env := newTestEnv(t)

	st := env.client.Restore(context.Background())

	assert.True(t, st.Anonymous())
	assert.False(t, st.Loading)
	assert.Zero(t, env.srv.TotalRequests())
}

func TestClient_Restore_ValidToken(t *testing.T) {
	env := newTestEnv(t)
	env.srv.FlatIdentity = true
	env.tokens.Set(env.srv.IssueAccess("a@b.com"))

	var states []SessionState
	env.client.Session().Subscribe(func(st SessionState) { states = append(states, st) })

	st := env.client.Restore(context.Background())

	require.True(t, st.IsAuthenticated)
	assert.Equal(t, "a@b.com", st.User.Email)
	require.Len(t, states, 2)
	assert.True(t, states[0].Loading)
	assert.False(t, states[1].Loading)
}

func TestClient_Restore_ExpiredTokenRefreshFails(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.Set("stale")

	st := env.client.Restore(context.Background())

	assert.True(t, st.Anonymous())
	assert.Equal(t, KindNone, st.LastError)
	assert.Equal(t, 1, env.srv.Count("me"))
	assert.Equal(t, 1, env.srv.Count("refresh"))
	assert.Zero(t, env.expired.Load())
	_, ok := env.tokens.Get()
	assert.False(t, ok)
}

func TestClient_Restore_ConcurrentRequestStillSignalsExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.Set("stale")
	env.srv.RefreshDelay = 200 * time.Millisecond

	restored := make(chan SessionState, 1)
	go func() { restored <- env.client.Restore(context.Background()) }()
	require.Eventually(t, func() bool { return env.srv.Count("refresh") == 1 }, 2*time.Second, 5*time.Millisecond)

	// an application request fails on the same stale credential while restore runs
	_, err := env.getAPI(t, "/api/posts")
	require.ErrorIs(t, err, ErrSessionExpired)

	st := <-restored
	assert.True(t, st.Anonymous())
	assert.Equal(t, 1, env.srv.Count("refresh"))
	assert.EqualValues(t, 1, env.expired.Load())
}

func TestClient_Restore_ExpiredTokenRefreshes(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	tokens := stores.NewMemoryTokenStore()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	// a previous run logged in and left the refresh cookie behind
	first := NewClient(srv.URL, tokens, WithCookieJar(jar))
	_, err = first.Login(context.Background(), "a@b.com", "Secret1!")
	require.NoError(t, err)
	srv.RevokeAllAccess()

	second := NewClient(srv.URL, tokens, WithCookieJar(jar))
	st := second.Restore(context.Background())

	require.True(t, st.IsAuthenticated)
	assert.Equal(t, UserID("1"), st.User.ID)
	assert.Equal(t, 1, srv.Count("refresh"))
	stored, _ := tokens.Get()
	assert.Equal(t, "T2", stored)
}

func TestClient_Restore_RunsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.Set(env.srv.IssueAccess("a@b.com"))

	env.client.Restore(context.Background())
	env.client.Restore(context.Background())

	assert.Equal(t, 1, env.srv.Count("me"))
}

func TestClient_UpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	user, err := env.client.UpdateProfile(context.Background(), ProfileUpdate{DisplayName: "Alice B."})
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", user.DisplayName)
	assert.Equal(t, "Alice B.", env.client.Session().User().DisplayName)
	assert.JSONEq(t, `{"display_name":"Alice B."}`, env.srv.Bodies("update_me")[0])
}

func TestClient_DeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	require.NoError(t, env.client.DeleteAccount(context.Background()))

	assert.Equal(t, 1, env.srv.Count("delete_me"))
	_, ok := env.tokens.Get()
	assert.False(t, ok)
	assert.True(t, env.client.Session().State().Anonymous())
	assert.Zero(t, env.expired.Load())
}

func TestClient_RetriedPostReplaysBody(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.srv.RevokeAccess("T1")

	var out map[string]any
	err := env.client.DoJSON(context.Background(), http.MethodPost, "/api/posts", map[string]string{"title": "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"hello"}`, out["body"])

	bodies := env.srv.Bodies("api")
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
}

func TestClient_StreamingBodyReplay(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.srv.RevokeAccess("T1")

	body := io.NopCloser(strings.NewReader("report text"))
	req, err := http.NewRequest(http.MethodPost, env.client.URL("/api/reports"), body)
	require.NoError(t, err)

	resp, err := env.client.HTTPClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"report text", "report text"}, env.srv.Bodies("api"))
}

func TestClient_APIErrorsPassThrough(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	err := env.client.DoJSON(context.Background(), http.MethodGet, "/nowhere", nil, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, KindAPI, KindOf(err))
	assert.True(t, env.client.Session().IsAuthenticated())
}

func TestClient_URL(t *testing.T) {
	c := NewClient("https://api.example.com/", stores.NewMemoryTokenStore())
	assert.Equal(t, "https://api.example.com", c.BaseURL())
	assert.Equal(t, "https://api.example.com/auth/me", c.URL("/auth/me"))
	assert.Equal(t, "https://api.example.com/auth/me", c.URL("auth/me"))
	assert.Equal(t, "https://other.example.com/x", c.URL("https://other.example.com/x"))
}
