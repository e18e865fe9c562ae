package authclient_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newGuard(auth authclient.SessionAuthority, sink authclient.ActivitySink) *authclient.Guard {
	return authclient.NewGuard(auth,
		authclient.WithGuardLogger(authclient.NopLogger()),
		authclient.WithGuardActivitySink(sink),
	)
}

func TestGuard_AnonymousIsDeniedWithoutLogout(t *testing.T) {
	auth := new(MockAuthority)
	auth.On("IsAuthenticated", mock.Anything).Return(false)
	sink := &recordingSink{}

	decision := newGuard(auth, sink).Evaluate(context.Background(), true)

	assert.Equal(t, authclient.GuardDenied, decision.State)
	assert.False(t, decision.Allowed())
	auth.AssertNotCalled(t, "CheckAdmin", mock.Anything, mock.Anything)
	auth.AssertNotCalled(t, "Logout", mock.Anything)
	assert.Equal(t, []authclient.ActivityEventType{authclient.ActivityEventGuardDenied}, sink.Types())
}

func TestGuard_AuthenticatedWithoutAdminRequirement(t *testing.T) {
	auth := new(MockAuthority)
	auth.On("IsAuthenticated", mock.Anything).Return(true)

	decision := newGuard(auth, nil).Evaluate(context.Background(), false)

	assert.Equal(t, authclient.GuardAuthorized, decision.State)
	auth.AssertNotCalled(t, "CheckAdmin", mock.Anything, mock.Anything)
}

func TestGuard_AdminIsAuthorized(t *testing.T) {
	auth := new(MockAuthority)
	auth.On("IsAuthenticated", mock.Anything).Return(true)
	auth.On("AccessToken", mock.Anything).Return("A1", nil)
	auth.On("CheckAdmin", mock.Anything, "A1").Return(&authclient.AdminCheckResult{IsAdmin: true, Username: "admin"}, nil)

	decision := newGuard(auth, nil).Evaluate(context.Background(), true)

	assert.Equal(t, authclient.GuardAuthorized, decision.State)
	assert.Equal(t, "admin", decision.Username)
	auth.AssertNotCalled(t, "Logout", mock.Anything)
}

func TestGuard_NonAdminIsDeniedAndLoggedOut(t *testing.T) {
	auth := new(MockAuthority)
	auth.On("IsAuthenticated", mock.Anything).Return(true)
	auth.On("AccessToken", mock.Anything).Return("A1", nil)
	auth.On("CheckAdmin", mock.Anything, "A1").Return(&authclient.AdminCheckResult{IsAdmin: false, Username: "agent"}, nil)
	auth.On("Logout", mock.Anything).Return(nil).Once()

	decision := newGuard(auth, nil).Evaluate(context.Background(), true)

	assert.Equal(t, authclient.GuardDenied, decision.State)
	auth.AssertExpectations(t)
}

func TestGuard_FailsClosedOnAdminCheckError(t *testing.T) {
	checkErr := errors.New("network down")
	auth := new(MockAuthority)
	auth.On("IsAuthenticated", mock.Anything).Return(true)
	auth.On("AccessToken", mock.Anything).Return("A1", nil)
	auth.On("CheckAdmin", mock.Anything, "A1").Return(nil, checkErr)
	auth.On("Logout", mock.Anything).Return(nil).Once()

	decision := newGuard(auth, nil).Evaluate(context.Background(), true)

	assert.Equal(t, authclient.GuardDenied, decision.State)
	assert.ErrorIs(t, decision.Err, checkErr)
	auth.AssertExpectations(t)
}

func TestGuard_LogoutErrorStillDenies(t *testing.T) {
	auth := new(MockAuthority)
	auth.On("IsAuthenticated", mock.Anything).Return(true)
	auth.On("AccessToken", mock.Anything).Return("A1", nil)
	auth.On("CheckAdmin", mock.Anything, "A1").Return(nil, errors.New("timeout"))
	auth.On("Logout", mock.Anything).Return(errors.New("storage locked"))

	decision := newGuard(auth, nil).Evaluate(context.Background(), true)

	assert.Equal(t, authclient.GuardDenied, decision.State)
}

// blockingAuthority holds CheckAdmin until released
type blockingAuthority struct {
	release chan struct{}
	admin   bool

	mu      sync.Mutex
	logouts int
}

func (b *blockingAuthority) IsAuthenticated(context.Context) bool { return true }

func (b *blockingAuthority) AccessToken(context.Context) (string, error) { return "A1", nil }

func (b *blockingAuthority) CheckAdmin(ctx context.Context, _ string) (*authclient.AdminCheckResult, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &authclient.AdminCheckResult{IsAdmin: b.admin, Username: "admin"}, nil
}

func (b *blockingAuthority) Logout(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logouts++
	return nil
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGate_LoadingThenAuthorized(t *testing.T) {
	auth := &blockingAuthority{release: make(chan struct{}), admin: true}
	var states []authclient.GuardState
	gate := authclient.NewGate(newGuard(auth, nil), authclient.WithGateOnChange(func(s authclient.GuardState) {
		states = append(states, s)
	}))

	require.NoError(t, gate.Mount(context.Background(), true))
	assert.Equal(t, authclient.GuardLoading, gate.State())

	var rendered []string
	gate.Render(func() { rendered = append(rendered, "content") }, func() { rendered = append(rendered, "placeholder") })
	assert.Equal(t, []string{"placeholder"}, rendered)

	close(auth.release)
	assert.Equal(t, authclient.GuardAuthorized, gate.Wait(waitCtx(t)))

	rendered = nil
	gate.Render(func() { rendered = append(rendered, "content") }, func() { rendered = append(rendered, "placeholder") })
	assert.Equal(t, []string{"content"}, rendered)
	assert.Equal(t, []authclient.GuardState{authclient.GuardAuthorized}, states)
}

func TestGate_DeniedNavigatesToLogin(t *testing.T) {
	auth := new(MockAuthority)
	auth.On("IsAuthenticated", mock.Anything).Return(false)
	nav := &recordingNavigator{}

	gate := authclient.NewGate(newGuard(auth, nil),
		authclient.WithGateNavigator(nav),
		authclient.WithGateLoginRoute("/admin/login"),
	)

	require.NoError(t, gate.Mount(context.Background(), true))
	assert.Equal(t, authclient.GuardDenied, gate.Wait(waitCtx(t)))

	rendered := false
	gate.Render(func() { rendered = true }, func() { rendered = true })
	assert.False(t, rendered)
	assert.Equal(t, []string{"/admin/login"}, nav.Routes())
	assert.Equal(t, "not authenticated", gate.Decision().Reason)
}

func TestGate_UnmountDropsLateResult(t *testing.T) {
	auth := &blockingAuthority{release: make(chan struct{}), admin: false}
	nav := &recordingNavigator{}
	changed := make(chan authclient.GuardState, 1)

	gate := authclient.NewGate(newGuard(auth, nil),
		authclient.WithGateNavigator(nav),
		authclient.WithGateOnChange(func(s authclient.GuardState) { changed <- s }),
	)

	require.NoError(t, gate.Mount(context.Background(), true))
	gate.Unmount()
	assert.Equal(t, authclient.GuardIdle, gate.Wait(waitCtx(t)))

	close(auth.release)

	select {
	case s := <-changed:
		t.Fatalf("unexpected state change after unmount: %s", s)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, authclient.GuardIdle, gate.State())
	assert.Empty(t, nav.Routes())
}

func TestGate_RequirementChangeReevaluates(t *testing.T) {
	auth := new(MockAuthority)
	auth.On("IsAuthenticated", mock.Anything).Return(true)
	auth.On("AccessToken", mock.Anything).Return("A1", nil)
	auth.On("CheckAdmin", mock.Anything, "A1").Return(&authclient.AdminCheckResult{IsAdmin: false}, nil)
	auth.On("Logout", mock.Anything).Return(nil)

	gate := authclient.NewGate(newGuard(auth, nil))
	ctx := waitCtx(t)

	require.NoError(t, gate.Mount(ctx, false))
	assert.Equal(t, authclient.GuardAuthorized, gate.Wait(ctx))
	auth.AssertNotCalled(t, "CheckAdmin", mock.Anything, mock.Anything)

	require.NoError(t, gate.SetRequireAdmin(ctx, false))
	assert.Equal(t, authclient.GuardAuthorized, gate.State())

	require.NoError(t, gate.SetRequireAdmin(ctx, true))
	assert.Equal(t, authclient.GuardDenied, gate.Wait(ctx))
	auth.AssertCalled(t, "CheckAdmin", mock.Anything, "A1")
	auth.AssertCalled(t, "Logout", mock.Anything)
}

func TestGate_SetRequireAdminBeforeMountIsNoop(t *testing.T) {
	auth := new(MockAuthority)
	gate := authclient.NewGate(newGuard(auth, nil))

	require.NoError(t, gate.SetRequireAdmin(context.Background(), true))

	assert.Equal(t, authclient.GuardIdle, gate.State())
	auth.AssertNotCalled(t, "IsAuthenticated", mock.Anything)
}

// Scenario: a stored session whose admin check can not complete is denied
// and logged out.
func TestSession_GuardFailsClosed(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()
	_, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	f.api.FailAdminCheck(true)
	gate := f.session.NewGate(authclient.WithGateNavigator(f.nav))
	require.NoError(t, gate.Mount(ctx, true))

	assert.Equal(t, authclient.GuardDenied, gate.Wait(waitCtx(t)))
	assert.False(t, f.session.Service.IsAuthenticated(ctx))
	assert.Equal(t, []string{authclient.DefaultLoginRoute}, f.nav.Routes())
}

// Scenario: an admin with a valid session sees the protected view.
func TestSession_GuardAuthorizesAdmin(t *testing.T) {
	f := newStubFixture(t)
	ctx := context.Background()
	_, err := f.session.Service.SignIn(ctx, authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	decision := f.session.Guard.Evaluate(ctx, true)

	assert.True(t, decision.Allowed())
	assert.Equal(t, "admin", decision.Username)
}
