package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeLoginFailed       = "LOGIN_FAILED"
	TextCodeNoRefreshToken    = "NO_REFRESH_TOKEN"
	TextCodeRefreshFailed     = "TOKEN_REFRESH_FAILED"
	TextCodeAdminCheckFailed  = "ADMIN_CHECK_FAILED"
	TextCodeNotAdmin          = "ADMIN_REQUIRED"
	TextCodeInvalidCredential = "INVALID_CREDENTIALS_PAYLOAD"
	TextCodeStoreFailure      = "TOKEN_STORE_FAILURE"
)

const (
	MsgLoginFailed      = "Login failed"
	MsgNoRefreshToken   = "No refresh token available"
	MsgRefreshFailed    = "Token refresh failed"
	MsgAdminCheckFailed = "Admin check failed"
	MsgNotAdmin         = "Access denied. Admin privileges required."
)

// NewAuthError builds a domain level authentication error. The message is
// meant to be shown to the user as is.
func NewAuthError(message, textCode string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithTextCode(textCode).
		WithCode(goerrors.CodeUnauthorized)
}

// IsAuthError reports whether err carries an authentication category error
func IsAuthError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryAuth || richErr.Category == goerrors.CategoryAuthz
}

// HasTextCode reports whether err is a rich error with the given text code
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

// ErrorMessage returns the human readable message of err, preferring the
// message of a rich error over its formatted chain.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if detail := httpErr.Detail(); detail != "" {
			return detail
		}
	}
	return err.Error()
}

// NetworkError is returned when a request never reached the server or the
// response never arrived. There is no status code.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s %s: request timed out: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: no response received: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the bounded wait was exceeded
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) {
		return t.Timeout()
	}
	return false
}

// HTTPError is returned when the server answered outside the 2xx range
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	// Payload is the decoded JSON body, nil if the body was not a JSON object
	Payload map[string]any
}

func (e *HTTPError) Error() string {
	if detail := e.Detail(); detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// Detail returns the backend supplied "detail" message, if any
func (e *HTTPError) Detail() string {
	if e.Payload == nil {
		return ""
	}
	if d, ok := e.Payload["detail"].(string); ok {
		return d
	}
	return ""
}

// RequestError is returned when the request could not be built. Nothing was
// sent.
type RequestError struct {
	Method string
	Path   string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: request construction failed: %v", e.Method, e.Path, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// SessionExpiredError wraps the refresh failure that ended a session. The
// token store has been cleared by the time callers see it.
type SessionExpiredError struct {
	Err error
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session expired: %v", e.Err)
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is an HTTP 401
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// StatusCode returns the HTTP status carried by err or 0
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsNetworkError reports whether no response was received
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsTimeout reports whether the bounded wait was exceeded
func IsTimeout(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IsSessionExpired reports whether err ended the session
func IsSessionExpired(err error) bool {
	var expired *SessionExpiredError
	return errors.As(err, &expired)
}
