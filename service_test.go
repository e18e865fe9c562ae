package authclient_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/internal/logging"
	"github.com/goliatone/go-auth-client/internal/stubapi"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubFixture struct {
	api     *stubapi.Server
	session *authclient.Session
	sink    *recordingSink
	nav     *recordingNavigator
}

func newStubFixture(t *testing.T, opts ...authclient.SessionOption) *stubFixture {
	t.Helper()

	api := stubapi.New(stubapi.Options{})
	require.NoError(t, api.AddUser("admin", "secret", true))
	require.NoError(t, api.AddUser("agent", "secret", false))

	srv := api.Start()
	t.Cleanup(srv.Close)

	sink := &recordingSink{}
	nav := &recordingNavigator{}
	opts = append([]authclient.SessionOption{
		authclient.WithLogger(authclient.NopLogger()),
		authclient.WithActivitySink(sink),
		authclient.WithSessionNavigator(nav),
	}, opts...)

	session := authclient.NewSession(authclient.Options{BaseURL: srv.URL, Timeout: 2 * time.Second}, authclient.NewMemoryStorage(), opts...)

	return &stubFixture{api: api, session: session, sink: sink, nav: nav}
}

func TestService_LoginReturnsPair(t *testing.T) {
	f := newStubFixture(t)

	pair, err := f.session.Service.Login(context.Background(), authclient.Credentials{Username: "admin", Password: "secret"})

	require.NoError(t, err)
	assert.NotEmpty(t, pair.Access)
	assert.NotEmpty(t, pair.Refresh)
	assert.False(t, f.session.Service.IsAuthenticated(context.Background()))
	assert.Contains(t, f.sink.Types(), authclient.ActivityEventLoginSuccess)
}

func TestService_LoginUsesBackendDetail(t *testing.T) {
	f := newStubFixture(t)

	_, err := f.session.Service.Login(context.Background(), authclient.Credentials{Username: "admin", Password: "wrong"})

	require.Error(t, err)
	assert.True(t, authclient.IsAuthError(err))
	assert.True(t, authclient.HasTextCode(err, authclient.TextCodeLoginFailed))
	assert.Equal(t, stubapi.DetailBadCredentials, authclient.ErrorMessage(err))
	assert.Contains(t, f.sink.Types(), authclient.ActivityEventLoginFailure)
}

func TestService_LoginFallsBackToGenericMessage(t *testing.T) {
	session := authclient.NewSession(authclient.Options{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, nil,
		authclient.WithLogger(authclient.NopLogger()),
	)

	_, err := session.Service.Login(context.Background(), authclient.Credentials{Username: "admin", Password: "secret"})

	require.Error(t, err)
	assert.Equal(t, authclient.MsgLoginFailed, authclient.ErrorMessage(err))
	assert.True(t, authclient.IsNetworkError(err))
}

func TestService_LoginValidatesCredentials(t *testing.T) {
	f := newStubFixture(t)

	_, err := f.session.Service.Login(context.Background(), authclient.Credentials{Username: "admin"})

	require.Error(t, err)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
	assert.Equal(t, 0, f.api.Stats().Logins)
}

func TestService_SignInPersistsAdminSession(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()

	profile, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})

	require.NoError(t, err)
	assert.Equal(t, "admin", profile.Username)
	assert.True(t, profile.IsStaff)
	assert.False(t, profile.LoginTime.IsZero())

	assert.True(t, f.session.Service.IsAuthenticated(ctx))
	refresh, _ := f.session.Store.RefreshToken(ctx)
	assert.NotEmpty(t, refresh)

	cached, err := f.session.Service.AdminUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", cached.Username)

	resp, err := f.session.Client.Get(ctx, "/api/properties/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestService_SignInRejectsNonAdmin(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()

	profile, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "agent", Password: "secret"})

	require.Error(t, err)
	assert.Nil(t, profile)
	assert.Equal(t, authclient.MsgNotAdmin, authclient.ErrorMessage(err))
	assert.True(t, authclient.HasTextCode(err, authclient.TextCodeNotAdmin))

	assert.False(t, f.session.Service.IsAuthenticated(ctx))
	refresh, _ := f.session.Store.RefreshToken(ctx)
	assert.Empty(t, refresh)
}

func TestService_CheckAdminFailure(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()
	pair, err := f.session.Service.Login(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	f.api.FailAdminCheck(true)
	_, err = f.session.Service.CheckAdmin(ctx, pair.Access)

	require.Error(t, err)
	assert.True(t, authclient.HasTextCode(err, authclient.TextCodeAdminCheckFailed))
	assert.Equal(t, "A server error occurred.", authclient.ErrorMessage(err))
}

func TestService_CheckAdminDoesNotRefresh(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()

	_, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	access, _ := f.session.Store.AccessToken(ctx)

	f.api.ExpireAccessTokens()
	_, err = f.session.Service.CheckAdmin(ctx, access)

	require.Error(t, err)
	assert.Equal(t, stubapi.DetailTokenInvalid, authclient.ErrorMessage(err))
	assert.Equal(t, 0, f.api.Stats().Refreshes)
}

func TestService_RefreshTokenWithoutToken(t *testing.T) {
	f := newStubFixture(t)

	_, err := f.session.Service.RefreshToken(context.Background())

	require.Error(t, err)
	assert.Equal(t, authclient.MsgNoRefreshToken, authclient.ErrorMessage(err))
	assert.Equal(t, 0, f.api.Stats().Refreshes)
}

func TestService_RefreshTokenStoresNewAccess(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()
	_, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	before, _ := f.session.Store.AccessToken(ctx)

	f.api.ExpireAccessTokens()
	access, err := f.session.Service.RefreshToken(ctx)

	require.NoError(t, err)
	assert.NotEqual(t, before, access)
	stored, _ := f.session.Store.AccessToken(ctx)
	assert.Equal(t, access, stored)
}

func TestService_RefreshTokenFailureClearsSession(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()
	_, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	f.api.RejectRefresh(true)
	_, err = f.session.Service.RefreshToken(ctx)

	require.Error(t, err)
	assert.Equal(t, authclient.MsgRefreshFailed, authclient.ErrorMessage(err))
	assert.False(t, f.session.Service.IsAuthenticated(ctx))
	profile, _ := f.session.Service.AdminUser(ctx)
	assert.Nil(t, profile)
}

func TestService_LogoutIsIdempotent(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()
	_, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	require.NoError(t, f.session.Service.Logout(ctx))
	require.NoError(t, f.session.Service.Logout(ctx))

	assert.False(t, f.session.Service.IsAuthenticated(ctx))
	assert.Contains(t, f.sink.Types(), authclient.ActivityEventLogout)
}

func TestService_LogoutLogsProfileReadError(t *testing.T) {
	ctx := context.Background()
	storage := new(MockStorage)
	storage.On("Get", ctx, authclient.KeyAdminUser).Return("", false, errors.New("locked"))
	storage.On("Delete", ctx, []string{authclient.KeyAccessToken, authclient.KeyRefreshToken, authclient.KeyAdminUser}).Return(nil)

	core, logs := observer.New(zap.WarnLevel)
	service := authclient.NewService(
		authclient.NewClient(authclient.Options{}),
		authclient.NewTokenStore(storage),
		authclient.WithServiceLogger(logging.Wrap(zap.New(core))),
	)

	require.NoError(t, service.Logout(ctx))

	storage.AssertExpectations(t)
	entries := logs.FilterMessage("logout could not read admin profile").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "locked")
}

func TestService_IsAuthenticatedOnStoreError(t *testing.T) {
	storage := new(MockStorage)
	storage.On("Get", context.Background(), authclient.KeyAccessToken).Return("", false, errors.New("locked"))

	service := authclient.NewService(
		authclient.NewClient(authclient.Options{}),
		authclient.NewTokenStore(storage),
		authclient.WithServiceLogger(authclient.NopLogger()),
	)

	assert.False(t, service.IsAuthenticated(context.Background()))
}

func TestService_AccessTokenExpiry(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()

	_, ok, err := f.session.Service.AccessTokenExpiry(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	exp, ok, err := f.session.Service.AccessTokenExpiry(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), exp, time.Minute)
}

// Scenario: the access token expires while the refresh token is still good;
// the next protected call recovers transparently.
func TestSession_TransparentRefresh(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()
	_, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	f.api.ExpireAccessTokens()

	resp, err := f.session.Client.Get(ctx, "/api/properties/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.api.Stats().Refreshes)
	assert.Equal(t, 1, f.api.Stats().Listings)
	assert.Empty(t, f.nav.Routes())
}

// Scenario: both tokens are rejected; the session ends and the client is
// sent to the login route.
func TestSession_ExpiredSessionRedirects(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()
	_, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	f.api.ExpireAccessTokens()
	f.api.RejectRefresh(true)

	_, err = f.session.Client.Get(ctx, "/api/properties/")

	require.Error(t, err)
	assert.True(t, authclient.IsSessionExpired(err))
	assert.False(t, f.session.Service.IsAuthenticated(ctx))
	assert.Equal(t, []string{authclient.DefaultLoginRoute}, f.nav.Routes())
}
