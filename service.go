package authclient

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Service implements the session operations on top of the client core and
// the token store. It never swallows an error: every failure path returns a
// rich auth error carrying a message fit for the user.
type Service struct {
	client    *Client
	store     *TokenStore
	refresher Refresher
	logger    Logger
	sink      ActivitySink
	now       func() time.Time
}

// ServiceOption customizes a Service
type ServiceOption func(*Service)

// WithServiceLogger sets the logger
func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceActivitySink sets the sink for session events
func WithServiceActivitySink(sink ActivitySink) ServiceOption {
	return func(s *Service) {
		s.sink = normalizeActivitySink(sink)
	}
}

// WithServiceRefresher replaces the default TokenRefresher
func WithServiceRefresher(r Refresher) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.refresher = r
		}
	}
}

// WithServiceClock injects a custom clock (useful for tests).
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewService uses client.Bare() for its own calls: login and admin check
// carry explicit credentials and must not go through the auth interceptor.
func NewService(client *Client, store *TokenStore, opts ...ServiceOption) *Service {
	s := &Service{
		client:    client.Bare(),
		store:     store,
		refresher: NewTokenRefresher(client),
		logger:    defLogger{},
		sink:      noopActivitySink{},
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Store returns the token store
func (s *Service) Store() *TokenStore {
	return s.store
}

// Login exchanges credentials for a token pair. Persisting the pair is the
// caller's job.
func (s *Service) Login(ctx context.Context, creds Credentials) (*TokenPair, error) {
	if err := creds.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "Username and password are required").
			WithTextCode(TextCodeInvalidCredential).
			WithCode(goerrors.CodeBadRequest)
	}

	resp, err := s.client.Post(ctx, s.client.Config().GetTokenPath(), creds)
	if err != nil {
		s.logger.Error("login request failed", "username", creds.Username, "error", err)
		emitActivity(ctx, s.sink, s.logger, ActivityEventLoginFailure, creds.Username, map[string]any{
			"error":  err.Error(),
			"status": StatusCode(err),
		})
		return nil, authFailure(err, MsgLoginFailed, TextCodeLoginFailed)
	}

	pair := &TokenPair{}
	if err := resp.Decode(pair); err != nil || pair.Access == "" {
		s.logger.Error("login response did not carry an access token", "username", creds.Username)
		return nil, NewAuthError(MsgLoginFailed, TextCodeLoginFailed)
	}

	emitActivity(ctx, s.sink, s.logger, ActivityEventLoginSuccess, creds.Username, nil)
	return pair, nil
}

// CheckAdmin asks the backend whether accessToken has elevated privileges.
// The bearer is explicit since it can run before tokens are persisted.
func (s *Service) CheckAdmin(ctx context.Context, accessToken string) (*AdminCheckResult, error) {
	resp, err := s.client.Get(ctx, s.client.Config().GetAdminCheckPath(), WithBearer(accessToken))
	if err != nil {
		s.logger.Error("admin check failed", "error", err)
		return nil, authFailure(err, MsgAdminCheckFailed, TextCodeAdminCheckFailed)
	}

	result := &AdminCheckResult{}
	if err := resp.Decode(result); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, MsgAdminCheckFailed).
			WithTextCode(TextCodeAdminCheckFailed).
			WithCode(goerrors.CodeUnauthorized)
	}
	return result, nil
}

// RefreshToken mints a new access token with the stored refresh token and
// persists it. A rejected refresh clears the whole session.
func (s *Service) RefreshToken(ctx context.Context) (string, error) {
	refresh, err := s.store.RefreshToken(ctx)
	if err != nil {
		return "", storeFailure(err)
	}
	if refresh == "" {
		return "", NewAuthError(MsgNoRefreshToken, TextCodeNoRefreshToken)
	}

	access, err := s.refresher.Refresh(ctx, refresh)
	if err != nil {
		if cerr := s.store.ClearTokens(ctx); cerr != nil {
			s.logger.Error("failed to clear tokens after refresh failure", "error", cerr)
		}
		emitActivity(ctx, s.sink, s.logger, ActivityEventRefreshFailure, "", map[string]any{
			"error": err.Error(),
		})
		return "", goerrors.Wrap(err, goerrors.CategoryAuth, MsgRefreshFailed).
			WithTextCode(TextCodeRefreshFailed).
			WithCode(goerrors.CodeUnauthorized)
	}

	if err := s.store.SetAccessToken(ctx, access); err != nil {
		return "", storeFailure(err)
	}

	emitActivity(ctx, s.sink, s.logger, ActivityEventRefreshSuccess, "", nil)
	return access, nil
}

// Logout clears the session locally. It is safe to call when already
// logged out. No revocation call is made to the backend.
func (s *Service) Logout(ctx context.Context) error {
	profile, err := s.store.AdminUser(ctx)
	if err != nil {
		s.logger.Warn("logout could not read admin profile", "error", err)
	}

	if err := s.store.ClearTokens(ctx); err != nil {
		return storeFailure(err)
	}

	username := ""
	if profile != nil {
		username = profile.Username
	}
	emitActivity(ctx, s.sink, s.logger, ActivityEventLogout, username, nil)
	return nil
}

// IsAuthenticated is a presence check on the access token. Expiry is found
// out by the first protected call. A store read error counts as not
// authenticated.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	token, err := s.store.AccessToken(ctx)
	if err != nil {
		s.logger.Error("token store read failed", "error", err)
		return false
	}
	return token != ""
}

// SignIn is the admin console login flow: authenticate, confirm admin
// privileges with the fresh token, then persist the session. Nothing is
// stored when the account is not an admin.
func (s *Service) SignIn(ctx context.Context, creds Credentials) (*AdminProfile, error) {
	pair, err := s.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	check, err := s.CheckAdmin(ctx, pair.Access)
	if err != nil {
		return nil, err
	}

	if !check.IsAdmin {
		emitActivity(ctx, s.sink, s.logger, ActivityEventLoginFailure, creds.Username, map[string]any{
			"error": MsgNotAdmin,
		})
		return nil, NewAuthError(MsgNotAdmin, TextCodeNotAdmin).WithCode(goerrors.CodeForbidden)
	}

	if err := s.store.SetTokens(ctx, pair.Access, pair.Refresh); err != nil {
		return nil, storeFailure(err)
	}

	username := check.Username
	if username == "" {
		username = creds.Username
	}

	profile := AdminProfile{
		Username:  username,
		IsStaff:   check.IsStaff,
		LoginTime: s.now().UTC(),
	}
	if err := s.store.SetAdminUser(ctx, profile); err != nil {
		return nil, storeFailure(err)
	}

	return &profile, nil
}

// AccessToken returns the stored access token, empty if absent
func (s *Service) AccessToken(ctx context.Context) (string, error) {
	return s.store.AccessToken(ctx)
}

// AdminUser returns the cached admin profile, nil if there is none
func (s *Service) AdminUser(ctx context.Context) (*AdminProfile, error) {
	return s.store.AdminUser(ctx)
}

// AccessTokenExpiry decodes the exp claim of the stored access token. The
// signature is not checked, use it for display only.
func (s *Service) AccessTokenExpiry(ctx context.Context) (time.Time, bool, error) {
	token, err := s.store.AccessToken(ctx)
	if err != nil {
		return time.Time{}, false, storeFailure(err)
	}
	exp, ok := TokenExpiry(token)
	return exp, ok, nil
}

// authFailure prefers the backend detail over the fallback message
func authFailure(err error, fallback, textCode string) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		msg := httpErr.Detail()
		if msg == "" {
			msg = fallback
		}
		return NewAuthError(msg, textCode).WithMetadata(map[string]any{
			"status": httpErr.StatusCode,
		})
	}

	return goerrors.Wrap(err, goerrors.CategoryAuth, fallback).
		WithTextCode(textCode).
		WithCode(goerrors.CodeUnauthorized)
}

func storeFailure(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "token store failure").
		WithTextCode(TextCodeStoreFailure).
		WithCode(goerrors.CodeInternal)
}
