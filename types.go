package authclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Credentials holds a single login attempt. They are never persisted.
type Credentials struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Validate will validate the credentials before they hit the network
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Username, validation.Required, validation.Length(1, 150)),
		validation.Field(&c.Password, validation.Required, validation.Length(1, 128)),
	)
}

// TokenPair is what the token endpoint issues on a successful login
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// AdminProfile is the cached admin user. It is advisory only, the backend
// validates privileges on every protected call.
type AdminProfile struct {
	Username  string    `json:"username"`
	IsStaff   bool      `json:"isStaff"`
	LoginTime time.Time `json:"loginTime"`
}

// AdminCheckResult is the payload returned by the admin check endpoint
type AdminCheckResult struct {
	IsAdmin  bool   `json:"is_admin"`
	Username string `json:"username"`
	IsStaff  bool   `json:"is_staff"`
}

// Config holds client options
type Config interface {
	GetBaseURL() string
	GetTimeout() time.Duration
	GetUserAgent() string
	GetTokenPath() string
	GetRefreshPath() string
	GetAdminCheckPath() string
	GetLoginRoute() string
}

// Navigator moves the client to another entry point. Replace drops the
// current navigation entry so the user can not go back into a protected view.
type Navigator interface {
	Replace(ctx context.Context, route string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(ctx context.Context, route string)

// Replace implements Navigator.
func (f NavigatorFunc) Replace(ctx context.Context, route string) {
	if f == nil {
		return
	}
	f(ctx, route)
}

type noopNavigator struct{}

func (noopNavigator) Replace(context.Context, string) {}

func normalizeNavigator(n Navigator) Navigator {
	if n == nil {
		return noopNavigator{}
	}
	return n
}

// defLogger prints info and above to stdout. Debug output needs an
// injected logger.
type defLogger struct {
	out io.Writer
}

func (d defLogger) Error(msg string, args ...any) {
	d.print("ERR", msg, args)
}

func (d defLogger) Warn(msg string, args ...any) {
	d.print("WRN", msg, args)
}

func (d defLogger) Info(msg string, args ...any) {
	d.print("INF", msg, args)
}

func (d defLogger) Debug(string, ...any) {}

func (d defLogger) print(level, msg string, args []any) {
	out := d.out
	if out == nil {
		out = os.Stdout
	}

	var b strings.Builder
	b.WriteString("[" + level + "] AUTHCLIENT " + strings.TrimRight(msg, "\n"))
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(out, b.String())
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger returns a Logger that discards everything
func NopLogger() Logger {
	return nopLogger{}
}
