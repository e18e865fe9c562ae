// Package guardware is the fiber form of the route guard. It evaluates the
// session for every request to a protected route and sends anonymous or
// unprivileged users to the login page.
package guardware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	authclient "github.com/goliatone/go-auth-client"
)

const (
	DefaultRejectedRouteKey = "login_redirect"
	DefaultSessionKey       = "auth_session"
	DefaultDecisionKey      = "guard_decision"
)

// SessionFactory builds the session for one request, usually over a cookie
// store bound to c.
type SessionFactory func(c *fiber.Ctx) *authclient.Session

// Config defines the middleware configuration
type Config struct {
	// Next skips the middleware when it returns true
	Next func(c *fiber.Ctx) bool
	// Session is required
	Session SessionFactory
	// RequireAdmin asks the backend for admin privileges on every request
	RequireAdmin bool
	// LoginRoute defaults to authclient.DefaultLoginRoute
	LoginRoute string
	// RejectedRouteKey is the cookie that remembers where the user was going
	RejectedRouteKey string
	// SecureCookie marks the rejected route cookie as Secure
	SecureCookie bool
	SessionKey   string
	DecisionKey  string
	Logger       authclient.Logger
}

func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Session == nil {
		panic("AUTHCLIENT: guard middleware requires a Session factory")
	}
	if cfg.LoginRoute == "" {
		cfg.LoginRoute = authclient.DefaultLoginRoute
	}
	if cfg.RejectedRouteKey == "" {
		cfg.RejectedRouteKey = DefaultRejectedRouteKey
	}
	if cfg.SessionKey == "" {
		cfg.SessionKey = DefaultSessionKey
	}
	if cfg.DecisionKey == "" {
		cfg.DecisionKey = DefaultDecisionKey
	}
	if cfg.Logger == nil {
		cfg.Logger = authclient.NopLogger()
	}
	return cfg
}

// New returns the guard middleware
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}

		session := cfg.Session(c)
		decision := session.Guard.Evaluate(c.UserContext(), cfg.RequireAdmin)
		if !decision.Allowed() {
			cfg.Logger.Info("guard rejected request", "path", c.OriginalURL(), "reason", decision.Reason)
			return Reject(c, cfg)
		}

		c.Locals(cfg.SessionKey, session)
		c.Locals(cfg.DecisionKey, decision)

		err := c.Next()
		if err != nil && authclient.IsSessionExpired(err) {
			cfg.Logger.Info("session expired during request", "path", c.OriginalURL())
			return Reject(c, cfg)
		}
		return err
	}
}

// Reject remembers the current route and redirects to the login route. The
// redirect replaces the current entry: 302 for GET, 303 for anything else.
func Reject(c *fiber.Ctx, cfg Config) error {
	c.Cookie(&fiber.Cookie{
		Name:     cfg.RejectedRouteKey,
		Value:    c.OriginalURL(),
		Path:     "/",
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	statusCode := http.StatusSeeOther
	if c.Method() == fiber.MethodGet {
		statusCode = http.StatusFound
	}
	return c.Redirect(cfg.LoginRoute, statusCode)
}

// PopRedirect returns the remembered route, or def, and clears the cookie
func PopRedirect(c *fiber.Ctx, key, def string) string {
	if key == "" {
		key = DefaultRejectedRouteKey
	}

	r := c.Cookies(key)
	if r == "" {
		return def
	}
	if !strings.HasPrefix(r, "/") || strings.HasPrefix(r, "//") {
		r = def
	}

	c.Cookie(&fiber.Cookie{
		Name:     key,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return r
}

// SessionFrom returns the session stored by the middleware
func SessionFrom(c *fiber.Ctx, key ...string) *authclient.Session {
	k := DefaultSessionKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	s, _ := c.Locals(k).(*authclient.Session)
	return s
}

// DecisionFrom returns the guard decision stored by the middleware
func DecisionFrom(c *fiber.Ctx, key ...string) authclient.GuardDecision {
	k := DefaultDecisionKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	d, _ := c.Locals(k).(authclient.GuardDecision)
	return d
}
