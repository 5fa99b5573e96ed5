package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Endpoint paths relative to the API base URL
const (
	LoginPath          = "/auth/login"
	RefreshPath        = "/auth/refresh"
	LogoutPath         = "/auth/logout"
	MePath             = "/auth/me"
	GoogleLoginPath    = "/login/google"
	GoogleCallbackPath = "/auth/google/callback"
)

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// newJSONRequest builds a request with an optional JSON body
func (c *Client) newJSONRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doRaw sends a request through the gateway and returns the body of a 2xx
// response. Other statuses become *APIError.
func (c *Client) doRaw(ctx context.Context, method, path string, in any) ([]byte, error) {
	req, err := c.newJSONRequest(ctx, method, path, in)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unwrapURLError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrNetworkUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// DoJSON sends an authenticated JSON request to path and decodes a 2xx
// response into out, which may be nil. Application calls (posts, reviews,
// reports, messages) go through here or through HTTPClient.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := c.doRaw(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// IssueToken posts a credential-issuing request (login, OAuth exchange).
// A 401 or 400 is reported as ErrInvalidCredentials and never triggers a
// refresh. It returns the access credential and the raw user object, if the
// response carried one. Nothing is stored.
func (c *Client) IssueToken(ctx context.Context, path string, in any) (string, json.RawMessage, error) {
	body, err := c.doRaw(WithoutRefresh(ctx), http.MethodPost, path, in)
	if err != nil {
		return "", nil, issueError(err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", nil, fmt.Errorf("invalid response from server: %w", err)
	}
	if tr.AccessToken == "" {
		return "", nil, fmt.Errorf("invalid response from server: missing access_token")
	}
	return tr.AccessToken, tr.User, nil
}

// issueError reports a rejected credential request as ErrInvalidCredentials.
// The gateway already maps a 401; a 400 arrives as an *APIError.
func issueError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, apiErr)
	}
	return err
}
