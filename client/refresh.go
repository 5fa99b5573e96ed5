package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Refresher exchanges the implicit long-lived credential for a new access
// credential. It does not store the result; the Gateway does.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RefresherFunc adapts a function to the Refresher interface
type RefresherFunc func(ctx context.Context) (string, error)

func (f RefresherFunc) Refresh(ctx context.Context) (string, error) {
	return f(ctx)
}

// tokenResponse is the body returned by the login, refresh and OAuth endpoints
type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type,omitempty"`
	ExpiresIn   int64           `json:"expires_in,omitempty"`
	User        json.RawMessage `json:"user,omitempty"`
}

// HTTPRefresher calls POST /auth/refresh with no body. The refresh credential
// travels as a cookie, so the HTTP client must carry the cookie jar that
// received it at login.
type HTTPRefresher struct {
	URL        string
	HTTPClient *http.Client
}

// NewHTTPRefresher creates a refresher for baseURL + RefreshPath
func NewHTTPRefresher(baseURL string, httpClient *http.Client) *HTTPRefresher {
	return &HTTPRefresher{URL: baseURL + RefreshPath, HTTPClient: httpClient}
}

// Refresh fails with ErrRefreshRejected for any response other than a 2xx
// carrying an access token, and when ctx expires before a response arrives.
// Connectivity failures are reported as ErrNetworkUnavailable.
func (r *HTTPRefresher) Refresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: refresh timed out", ErrRefreshRejected)
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read refresh response: %v", ErrRefreshRejected, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %v", ErrRefreshRejected, newAPIError(resp.StatusCode, body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("%w: response carried no access token", ErrRefreshRejected)
	}
	return tr.AccessToken, nil
}
