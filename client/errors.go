package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Session error taxonomy. Callers match with errors.Is; the errors survive
// wrapping by http.Client in *url.Error.
var (
	// ErrInvalidCredentials means the login call itself was rejected
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired means an authenticated call could not be recovered and
	// the session was reset to anonymous
	ErrSessionExpired = errors.New("session expired")

	// ErrRefreshRejected means the refresh endpoint rejected the implicit
	// refresh credential. The gateway always escalates it to ErrSessionExpired.
	ErrRefreshRejected = errors.New("refresh rejected")

	// ErrNetworkUnavailable means no response was received at all
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrOAuthExchangeFailed means the OAuth callback flow failed at some step
	ErrOAuthExchangeFailed = errors.New("oauth exchange failed")
)

// ErrorKind names a failure class for display and for SessionState.LastError
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindInvalidCredentials  ErrorKind = "InvalidCredentials"
	KindSessionExpired      ErrorKind = "SessionExpired"
	KindRefreshRejected     ErrorKind = "RefreshRejected"
	KindNetworkUnavailable  ErrorKind = "NetworkUnavailable"
	KindOAuthExchangeFailed ErrorKind = "OAuthExchangeFailed"
	KindAPI                 ErrorKind = "APIError"
	KindUnknown             ErrorKind = "Unknown"
)

// KindOf classifies an error. SessionExpired wins over RefreshRejected since
// a rejected refresh always ends the session.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrSessionExpired):
		return KindSessionExpired
	case errors.Is(err, ErrRefreshRejected):
		return KindRefreshRejected
	case errors.Is(err, ErrNetworkUnavailable):
		return KindNetworkUnavailable
	case errors.Is(err, ErrOAuthExchangeFailed):
		return KindOAuthExchangeFailed
	case errors.As(err, &apiErr):
		return KindAPI
	default:
		return KindUnknown
	}
}

// APIError is a non-2xx response that the session layer does not recover from
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("api error (HTTP %d): %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("api error (HTTP %d): %s", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("api error: HTTP %d", e.StatusCode)
	}
}

// errorBody covers the OAuth style {error, error_description} and the plain
// {message} shapes
type errorBody struct {
	Error     string `json:"error"`
	ErrorDesc string `json:"error_description"`
	Message   string `json:"message"`
}

// newAPIError builds an APIError from a response body, tolerating bodies that
// are not JSON
func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		apiErr.Code = eb.Error
		apiErr.Message = eb.ErrorDesc
		if apiErr.Message == "" {
			apiErr.Message = eb.Message
		}
	}
	if apiErr.Message == "" && apiErr.Code == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}
