package scsstore

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	manager := scs.New()
	manager.Store = memstore.New()

	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		NewTokenStore(manager, r.Context()).Set(r.URL.Query().Get("token"))
		NewNonceStore(manager, r.Context()).Put(r.URL.Query().Get("nonce"))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		token, ok := NewTokenStore(manager, r.Context()).Get()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, token)
	})
	mux.HandleFunc("/nonce", func(w http.ResponseWriter, r *http.Request) {
		nonce, ok := NewNonceStore(manager, r.Context()).Take()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, nonce)
	})
	mux.HandleFunc("/clear", func(w http.ResponseWriter, r *http.Request) {
		NewTokenStore(manager, r.Context()).Clear()
	})

	server := httptest.NewServer(manager.LoadAndSave(mux))
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return server, &http.Client{Jar: jar}
}

func get(t *testing.T, c *http.Client, url string) (int, string) {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestTokenStore_PerBrowserSession(t *testing.T) {
	server, browser := newTestServer(t)

	status, _ := get(t, browser, server.URL+"/token")
	assert.Equal(t, http.StatusNotFound, status)

	get(t, browser, server.URL+"/set?token=T1&nonce=n1")
	status, body := get(t, browser, server.URL+"/token")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "T1", body)

	// a different browser has its own session
	other := &http.Client{}
	status, _ = get(t, other, server.URL+"/token")
	assert.Equal(t, http.StatusNotFound, status)

	get(t, browser, server.URL+"/clear")
	status, _ = get(t, browser, server.URL+"/token")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNonceStore_SingleUse(t *testing.T) {
	server, browser := newTestServer(t)

	get(t, browser, server.URL+"/set?token=T1&nonce=n1")

	status, body := get(t, browser, server.URL+"/nonce")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "n1", body)

	status, _ = get(t, browser, server.URL+"/nonce")
	assert.Equal(t, http.StatusNotFound, status)
}
