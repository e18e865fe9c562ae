package authclient

import (
	"context"
	"encoding/json"
	"time"
)

// Storage keys shared with the browser client
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyAdminUser    = "adminUser"
	KeyLanguage     = "language"
)

// MultiSetter is implemented by storages that can write several keys at once
type MultiSetter interface {
	SetMany(ctx context.Context, values map[string]string) error
}

// TokenStore persists the token pair and the cached admin profile. It does
// no network calls. An empty string means the token is absent.
type TokenStore struct {
	storage Storage
	logger  Logger
}

// NewTokenStore wraps storage. A nil storage falls back to memory.
func NewTokenStore(storage Storage) *TokenStore {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &TokenStore{
		storage: storage,
		logger:  defLogger{},
	}
}

func (s *TokenStore) WithLogger(logger Logger) *TokenStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Storage returns the underlying storage
func (s *TokenStore) Storage() Storage {
	return s.storage
}

func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyAccessToken)
}

func (s *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyRefreshToken)
}

// SetTokens overwrites both tokens
func (s *TokenStore) SetTokens(ctx context.Context, access, refresh string) error {
	if ms, ok := s.storage.(MultiSetter); ok {
		return ms.SetMany(ctx, map[string]string{
			KeyAccessToken:  access,
			KeyRefreshToken: refresh,
		})
	}
	if err := s.storage.Set(ctx, KeyAccessToken, access); err != nil {
		return err
	}
	return s.storage.Set(ctx, KeyRefreshToken, refresh)
}

// SetAccessToken replaces the access token and keeps the refresh token
func (s *TokenStore) SetAccessToken(ctx context.Context, access string) error {
	return s.storage.Set(ctx, KeyAccessToken, access)
}

// ClearTokens removes both tokens and the admin profile in one operation
func (s *TokenStore) ClearTokens(ctx context.Context) error {
	return s.storage.Delete(ctx, KeyAccessToken, KeyRefreshToken, KeyAdminUser)
}

// AdminUser returns nil when the profile is missing or can not be decoded
func (s *TokenStore) AdminUser(ctx context.Context) (*AdminProfile, error) {
	raw, err := s.get(ctx, KeyAdminUser)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	profile := &AdminProfile{}
	if err := json.Unmarshal([]byte(raw), profile); err != nil {
		s.logger.Warn("ignoring malformed admin profile", "error", err)
		return nil, nil
	}
	return profile, nil
}

func (s *TokenStore) SetAdminUser(ctx context.Context, profile AdminProfile) error {
	if profile.LoginTime.IsZero() {
		profile.LoginTime = time.Now().UTC()
	}
	b, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, KeyAdminUser, string(b))
}

// Language returns the stored UI language preference
func (s *TokenStore) Language(ctx context.Context) (string, error) {
	return s.get(ctx, KeyLanguage)
}

func (s *TokenStore) SetLanguage(ctx context.Context, lang string) error {
	return s.storage.Set(ctx, KeyLanguage, lang)
}

func (s *TokenStore) get(ctx context.Context, key string) (string, error) {
	v, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return v, nil
}
