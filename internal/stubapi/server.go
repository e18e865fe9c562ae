// Package stubapi is an in-process stand-in for the brokerage REST backend.
// It issues SimpleJWT style token pairs, answers the admin check and serves a
// small protected listings endpoint. Tests and local runs of the console use
// it instead of the real API.
package stubapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"golang.org/x/crypto/bcrypt"
)

const (
	DetailBadCredentials = "No active account found with the given credentials"
	DetailTokenInvalid   = "Given token not valid for any token type"
	DetailRefreshInvalid = "Token is invalid or expired"
	DetailNoCredentials  = "Authentication credentials were not provided."
	DetailForbidden      = "You do not have permission to perform this action."
)

// Listing is a property returned by the protected listings endpoint
type Listing struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	District string `json:"district"`
	Price    int    `json:"price"`
}

// Stats counts calls per endpoint
type Stats struct {
	Logins      int
	Refreshes   int
	AdminChecks int
	Listings    int
}

// Options configures a Server
type Options struct {
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

// Server is the stub backend
type Server struct {
	app    *fiber.App
	tokens *tokenIssuer
	cost   int

	mu           sync.Mutex
	users        map[string]User
	listings     []Listing
	generation   int
	rejectAll    bool
	rejectCheck  bool
	refreshDelay time.Duration
	stats        Stats
}

// New returns a Server with no users
func New(opts Options) *Server {
	if len(opts.SigningKey) == 0 {
		opts.SigningKey = []byte("stubapi-signing-key")
	}
	if opts.Issuer == "" {
		opts.Issuer = "stubapi"
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 5 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.MinCost
	}

	s := &Server{
		tokens: newTokenIssuer(opts.SigningKey, opts.Issuer, opts.AccessTTL, opts.RefreshTTL),
		cost:   opts.BcryptCost,
		users:  make(map[string]User),
		listings: []Listing{
			{ID: 1, Title: "Riverside apartment", District: "Chamkarmon", Price: 185000},
			{ID: 2, Title: "Shophouse near market", District: "Daun Penh", Price: 320000},
			{ID: 3, Title: "Land plot 20x40", District: "Sen Sok", Price: 96000},
		},
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.app.Group("/api")
	api.Post("/token/", s.handleToken)
	api.Post("/token/refresh/", s.handleRefresh)
	api.Get("/check-admin/", s.requireAccess, s.handleCheckAdmin)
	api.Get("/properties/", s.requireAccess, s.handleListings)
	api.Get("/admin/stats/", s.requireAccess, s.requireAdmin, s.handleAdminStats)
}

// App returns the fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Handler exposes the app as a net/http handler
func (s *Server) Handler() http.Handler {
	return adaptor.FiberApp(s.app)
}

// Start serves the stub on a loopback listener. Close the returned server
// when done.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.Handler())
}

// AddUser registers an account
func (s *Server) AddUser(username, password string, admin bool) error {
	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = User{
		Username:     username,
		PasswordHash: hash,
		IsStaff:      admin,
		IsAdmin:      admin,
	}
	return nil
}

// ExpireAccessTokens makes every access token issued so far answer 401.
// Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// RejectRefresh makes the refresh endpoint answer 401
func (s *Server) RejectRefresh(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAll = reject
}

// FailAdminCheck makes the admin check answer 500
func (s *Server) FailAdminCheck(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectCheck = fail
}

// SetRefreshDelay slows the refresh endpoint down
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// Stats returns a snapshot of the call counters
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

type tokenPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshPayload struct {
	Refresh string `json:"refresh"`
}

func (s *Server) handleToken(c *fiber.Ctx) error {
	payload := tokenPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return detail(c, fiber.StatusBadRequest, "JSON parse error")
	}

	fields := fiber.Map{}
	if payload.Username == "" {
		fields["username"] = []string{"This field is required."}
	}
	if payload.Password == "" {
		fields["password"] = []string{"This field is required."}
	}
	if len(fields) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fields)
	}

	s.mu.Lock()
	s.stats.Logins++
	user, ok := s.users[payload.Username]
	gen := s.generation
	s.mu.Unlock()

	if !ok || comparePassword(payload.Password, user.PasswordHash) != nil {
		return detail(c, fiber.StatusUnauthorized, DetailBadCredentials)
	}

	access, err := s.tokens.access(user.Username, gen)
	if err != nil {
		return detail(c, fiber.StatusInternalServerError, err.Error())
	}
	refresh, err := s.tokens.refresh(user.Username)
	if err != nil {
		return detail(c, fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{"access": access, "refresh": refresh})
}

func (s *Server) handleRefresh(c *fiber.Ctx) error {
	payload := refreshPayload{}
	if err := c.BodyParser(&payload); err != nil || payload.Refresh == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"refresh": []string{"This field is required."},
		})
	}

	s.mu.Lock()
	s.stats.Refreshes++
	reject := s.rejectAll
	delay := s.refreshDelay
	gen := s.generation
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if reject {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": DetailRefreshInvalid,
			"code":   "token_not_valid",
		})
	}

	claims, err := s.tokens.parse(payload.Refresh, tokenTypeRefresh)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": DetailRefreshInvalid,
			"code":   "token_not_valid",
		})
	}

	access, err := s.tokens.access(claims.Username, gen)
	if err != nil {
		return detail(c, fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{"access": access})
}

func (s *Server) requireAccess(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return detail(c, fiber.StatusUnauthorized, DetailNoCredentials)
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return detail(c, fiber.StatusUnauthorized, DetailTokenInvalid)
	}

	claims, err := s.tokens.parse(raw, tokenTypeAccess)
	if err != nil {
		return detail(c, fiber.StatusUnauthorized, DetailTokenInvalid)
	}

	s.mu.Lock()
	user, known := s.users[claims.Username]
	stale := claims.Generation < s.generation
	s.mu.Unlock()

	if !known || stale {
		return detail(c, fiber.StatusUnauthorized, DetailTokenInvalid)
	}

	c.Locals("user", user)
	return c.Next()
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	user, _ := c.Locals("user").(User)
	if !user.IsAdmin {
		return detail(c, fiber.StatusForbidden, DetailForbidden)
	}
	return c.Next()
}

func (s *Server) handleCheckAdmin(c *fiber.Ctx) error {
	s.mu.Lock()
	s.stats.AdminChecks++
	fail := s.rejectCheck
	s.mu.Unlock()

	if fail {
		return detail(c, fiber.StatusInternalServerError, "A server error occurred.")
	}

	user, _ := c.Locals("user").(User)
	return c.JSON(fiber.Map{
		"is_admin": user.IsAdmin,
		"username": user.Username,
		"is_staff": user.IsStaff,
	})
}

func (s *Server) handleListings(c *fiber.Ctx) error {
	s.mu.Lock()
	s.stats.Listings++
	listings := append([]Listing(nil), s.listings...)
	s.mu.Unlock()

	return c.JSON(fiber.Map{
		"count":   len(listings),
		"results": listings,
	})
}

func (s *Server) handleAdminStats(c *fiber.Ctx) error {
	stats := s.Stats()
	return c.JSON(fiber.Map{
		"logins":       stats.Logins,
		"refreshes":    stats.Refreshes,
		"admin_checks": stats.AdminChecks,
		"listings":     stats.Listings,
	})
}

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"detail": msg})
}
