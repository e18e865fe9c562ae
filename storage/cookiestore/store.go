// Package cookiestore keeps client storage in browser cookies through a
// fiber request. A Store lives for one request: writes go out as Set-Cookie
// headers and are also kept in an overlay so later reads in the same
// request see them.
package cookiestore

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	authclient "github.com/goliatone/go-auth-client"
)

var (
	_ authclient.Storage     = (*Store)(nil)
	_ authclient.MultiSetter = (*Store)(nil)
)

const (
	DefaultPrefix   = "bk_"
	DefaultDuration = 7 * 24 * time.Hour
)

// Config controls the cookies written by a Store
type Config struct {
	Prefix   string
	Path     string
	Domain   string
	Duration time.Duration
	Secure   bool
	SameSite string
}

// DefaultConfig matches what the console uses in production
func DefaultConfig() Config {
	return Config{
		Prefix:   DefaultPrefix,
		Path:     "/",
		Duration: DefaultDuration,
		Secure:   true,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.Duration <= 0 {
		c.Duration = def.Duration
	}
	if c.SameSite == "" {
		c.SameSite = def.SameSite
	}
	return c
}

type overlayValue struct {
	value   string
	deleted bool
}

// Store is a per request authclient.Storage over fiber cookies
type Store struct {
	c   *fiber.Ctx
	cfg Config

	mu      sync.Mutex
	overlay map[string]overlayValue
}

// New returns a Store bound to c
func New(c *fiber.Ctx, cfg Config) *Store {
	return &Store{
		c:       c,
		cfg:     cfg.normalize(),
		overlay: make(map[string]overlayValue),
	}
}

// CookieName returns the cookie a key is stored under
func (s *Store) CookieName(key string) string {
	return s.cfg.Prefix + key
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	ov, ok := s.overlay[key]
	s.mu.Unlock()
	if ok {
		if ov.deleted {
			return "", false, nil
		}
		return ov.value, true, nil
	}

	raw := s.c.Cookies(s.CookieName(key))
	if raw == "" {
		return "", false, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// a value we did not write is treated as absent
		return "", false, nil
	}
	return string(decoded), true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

func (s *Store) SetMany(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires := time.Now().Add(s.cfg.Duration)
	for k, v := range values {
		s.overlay[k] = overlayValue{value: v}
		s.c.Cookie(s.cookie(k, base64.RawURLEncoding.EncodeToString([]byte(v)), expires))
	}
	return nil
}

// Delete expires every key on the same response
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := time.Now().Add(-time.Hour * (24 * 365))
	for _, k := range keys {
		s.overlay[k] = overlayValue{deleted: true}
		s.c.Cookie(s.cookie(k, "", expired))
	}
	return nil
}

func (s *Store) cookie(key, value string, expires time.Time) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     s.CookieName(key),
		Value:    value,
		Path:     s.cfg.Path,
		Domain:   s.cfg.Domain,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: s.cfg.SameSite,
	}
}
