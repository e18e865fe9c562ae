// Package console is the brokerage admin web console. It renders the login
// form, keeps each browser session in cookies or redis and guards the admin
// pages with the guard middleware.
package console

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/django/v3"
	"github.com/google/uuid"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/activitymap"
	"github.com/goliatone/go-auth-client/internal/config"
	"github.com/goliatone/go-auth-client/middleware/guardware"
	"github.com/goliatone/go-auth-client/storage/cookiestore"
	"github.com/goliatone/go-auth-client/storage/redisstore"
)

//go:embed views
var viewsFS embed.FS

const (
	csrfContextKey   = "csrf"
	sessionIDCookie  = "sid"
	redisScopePrefix = "console:session:"

	DefaultAdminRoute   = "/admin"
	DefaultListingsPath = "/api/properties/"
)

// Server is the console fiber app and its session wiring
type Server struct {
	cfg    *config.Config
	logger authclient.Logger
	app    *fiber.App

	redis      *redisstore.Store
	httpClient *http.Client
	controller *Controller
}

// Option customizes New
type Option func(*Server)

// WithLogger sets the logger used by the console and every session
func WithLogger(logger authclient.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRedisStore backs sessions with redis. It is required when the
// console session store is "redis".
func WithRedisStore(store *redisstore.Store) Option {
	return func(s *Server) {
		s.redis = store
	}
}

// WithHTTPClient sets the client used to reach the backend
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) {
		s.httpClient = hc
	}
}

// New builds the console app
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("console: missing config")
	}

	s := &Server{cfg: cfg, logger: authclient.NopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	switch cfg.Console.SessionStore {
	case "", "cookie":
	case "redis":
		if s.redis == nil {
			return nil, errors.New("console: redis session store requested without a redis connection")
		}
	default:
		return nil, errors.New("console: unknown session store " + cfg.Console.SessionStore)
	}

	engine := django.NewPathForwardingFileSystem(http.FS(viewsFS), "/views", ".html")

	s.app = fiber.New(fiber.Config{
		UnescapePath:          true,
		StrictRouting:         false,
		DisableStartupMessage: true,
		Views:                 engine,
		ErrorHandler:          s.errorHandler,
	})

	s.controller = &Controller{
		Views:        DefaultViews,
		Sessions:     s.Session,
		LoginRoute:   cfg.Options().GetLoginRoute(),
		AdminRoute:   DefaultAdminRoute,
		ListingsPath: DefaultListingsPath,
		Debug:        cfg.Log.Level == "debug",
		Logger:       s.logger,
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	loginRoute := s.controller.LoginRoute

	s.app.Use(recover.New())
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:_csrf",
		CookieName:     s.cookiePrefix() + "csrf",
		CookieSameSite: fiber.CookieSameSiteLaxMode,
		CookieSecure:   s.cfg.Console.SecureCookies,
		CookieHTTPOnly: true,
		Expiration:     time.Hour,
		ContextKey:     csrfContextKey,
	}))

	s.app.Get(loginRoute, s.controller.LoginShow)
	s.app.Post(loginRoute, s.controller.LoginPost)
	s.app.Get("/logout", s.controller.Logout)
	s.app.Post("/logout", s.controller.Logout)

	guard := guardware.Config{
		Session:      s.Session,
		LoginRoute:   loginRoute,
		SecureCookie: s.cfg.Console.SecureCookies,
		Logger:       s.logger,
	}

	admin := guard
	admin.RequireAdmin = true
	s.app.Get(DefaultAdminRoute, guardware.New(admin), s.controller.Admin)
	s.app.Get("/account", guardware.New(guard), s.controller.Account)

	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect(DefaultAdminRoute, fiber.StatusFound)
	})
}

// App returns the fiber app, mostly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on the configured address until Shutdown
func (s *Server) Listen() error {
	s.logger.Info("console listening", "addr", s.cfg.Console.Addr, "api", s.cfg.API.BaseURL)
	return s.app.Listen(s.cfg.Console.Addr)
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// Session builds the auth session for the current request over the
// configured store
func (s *Server) Session(c *fiber.Ctx) *authclient.Session {
	opts := []authclient.SessionOption{
		authclient.WithLogger(s.logger),
		authclient.WithActivitySink(activitymap.LogSink(s.logger, activitymap.WithDefaultChannel("console"))),
	}
	if s.httpClient != nil {
		opts = append(opts, authclient.WithSessionHTTPClient(s.httpClient))
	}
	if s.cfg.API.SingleFlight {
		opts = append(opts, authclient.WithSingleFlightRefresh())
	}
	return authclient.NewSession(s.cfg.Options(), s.storage(c), opts...)
}

func (s *Server) storage(c *fiber.Ctx) authclient.Storage {
	if s.cfg.Console.SessionStore == "redis" {
		return s.redis.Scoped(redisScopePrefix + s.sessionID(c))
	}

	return cookiestore.New(c, cookiestore.Config{
		Prefix:   s.cookiePrefix(),
		Duration: s.cfg.Console.CookieDuration,
		Secure:   s.cfg.Console.SecureCookies,
	})
}

// sessionID returns the browser session id, issuing one when missing
func (s *Server) sessionID(c *fiber.Ctx) string {
	name := s.cookiePrefix() + sessionIDCookie
	if sid, ok := c.Locals(name).(string); ok {
		return sid
	}

	sid := c.Cookies(name)
	if _, err := uuid.Parse(sid); err != nil {
		sid = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    sid,
			Path:     "/",
			Expires:  time.Now().Add(s.cfg.Console.CookieDuration),
			HTTPOnly: true,
			Secure:   s.cfg.Console.SecureCookies,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	c.Locals(name, sid)
	return sid
}

func (s *Server) cookiePrefix() string {
	if s.cfg.Console.CookiePrefix == "" {
		return cookiestore.DefaultPrefix
	}
	return s.cfg.Console.CookiePrefix
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		message = fe.Message
	case authclient.IsNetworkError(err):
		code = fiber.StatusBadGateway
		message = "Backend unavailable"
	case authclient.StatusCode(err) == fiber.StatusForbidden:
		code = fiber.StatusForbidden
		message = authclient.ErrorMessage(err)
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("console request failed", "path", c.OriginalURL(), "status", code, "error", err)
	}
	return c.Status(code).SendString(message)
}
