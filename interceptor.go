package authclient

import (
	"context"
	"errors"
	"net/http"

	"github.com/goliatone/go-print"
)

// BearerPrefix is the Authorization scheme for access tokens
const BearerPrefix = "Bearer "

// refreshState tracks one logical request through 401 recovery
type refreshState string

const (
	stateInitial    refreshState = "initial"
	stateRefreshing refreshState = "refreshing"
	stateRetry      refreshState = "retry"
	stateFailed     refreshState = "failed"
)

// AuthInterceptor attaches the stored access token to every request and
// recovers from a single 401 by refreshing the token and re-issuing the
// request once. There is no shared lock: concurrent 401s refresh
// independently unless the Refresher coalesces them.
type AuthInterceptor struct {
	store      *TokenStore
	refresher  Refresher
	navigator  Navigator
	loginRoute string
	logger     Logger
	sink       ActivitySink
}

// InterceptorOption customizes an AuthInterceptor
type InterceptorOption func(*AuthInterceptor)

// WithNavigator sets where the client is sent when the session ends
func WithNavigator(n Navigator) InterceptorOption {
	return func(a *AuthInterceptor) {
		a.navigator = normalizeNavigator(n)
	}
}

// WithLoginRoute overrides the login entry point
func WithLoginRoute(route string) InterceptorOption {
	return func(a *AuthInterceptor) {
		if route != "" {
			a.loginRoute = route
		}
	}
}

// WithInterceptorLogger sets the logger
func WithInterceptorLogger(logger Logger) InterceptorOption {
	return func(a *AuthInterceptor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithInterceptorActivitySink sets the sink for refresh events
func WithInterceptorActivitySink(sink ActivitySink) InterceptorOption {
	return func(a *AuthInterceptor) {
		a.sink = normalizeActivitySink(sink)
	}
}

// NewAuthInterceptor returns an interceptor reading and writing store
func NewAuthInterceptor(store *TokenStore, refresher Refresher, opts ...InterceptorOption) *AuthInterceptor {
	a := &AuthInterceptor{
		store:      store,
		refresher:  refresher,
		navigator:  noopNavigator{},
		loginRoute: DefaultLoginRoute,
		logger:     defLogger{},
		sink:       noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Intercept implements Interceptor
func (a *AuthInterceptor) Intercept(next Handler) Handler {
	return func(ctx context.Context, req *Request) (*Response, error) {
		out, err := a.authorize(ctx, req)
		if err != nil {
			a.logger.Error("token store read failed, request not sent", "method", req.Method, "path", req.Path, "error", err)
			return nil, err
		}

		resp, err := next(ctx, out)
		if err == nil {
			return resp, nil
		}

		if !IsUnauthorized(err) {
			a.diagnose(req, err)
			return nil, err
		}

		if req.Attempt > 1 {
			a.transition(req, stateRetry, stateFailed)
			return nil, err
		}

		return a.recover(ctx, next, req, err)
	}
}

func (a *AuthInterceptor) authorize(ctx context.Context, req *Request) (*Request, error) {
	token, err := a.store.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	out := req.clone()
	if token != "" {
		setBearer(out, token)
	}
	return out, nil
}

func (a *AuthInterceptor) recover(ctx context.Context, next Handler, req *Request, original error) (*Response, error) {
	a.transition(req, stateInitial, stateRefreshing)

	refresh, err := a.store.RefreshToken(ctx)
	if err != nil {
		a.transition(req, stateRefreshing, stateFailed)
		return nil, err
	}

	if refresh == "" {
		a.logger.Debug("no refresh token, keeping original error", "path", req.Path)
		a.transition(req, stateRefreshing, stateFailed)
		return nil, original
	}

	access, err := a.refresher.Refresh(ctx, refresh)
	if err != nil {
		a.transition(req, stateRefreshing, stateFailed)
		a.endSession(ctx, req, err)
		return nil, &SessionExpiredError{Err: err}
	}

	if err := a.store.SetAccessToken(ctx, access); err != nil {
		a.transition(req, stateRefreshing, stateFailed)
		return nil, err
	}

	emitActivity(ctx, a.sink, a.logger, ActivityEventRefreshSuccess, "", map[string]any{
		"path": req.Path,
	})

	a.transition(req, stateRefreshing, stateRetry)

	retry := req.retry()
	setBearer(retry, access)
	return next(ctx, retry)
}

func (a *AuthInterceptor) endSession(ctx context.Context, req *Request, cause error) {
	if err := a.store.ClearTokens(ctx); err != nil {
		a.logger.Error("failed to clear tokens after refresh failure", "error", err)
	}

	emitActivity(ctx, a.sink, a.logger, ActivityEventRefreshFailure, "", map[string]any{
		"path":  req.Path,
		"error": cause.Error(),
	})

	a.logger.Info("token refresh failed, redirecting to login", "path", req.Path, "route", a.loginRoute)
	a.navigator.Replace(ctx, a.loginRoute)
}

func (a *AuthInterceptor) diagnose(req *Request, err error) {
	var httpErr *HTTPError
	var netErr *NetworkError
	var reqErr *RequestError

	switch {
	case errors.As(err, &httpErr):
		a.logger.Error("server responded with error body",
			"method", req.Method,
			"path", req.Path,
			"status", httpErr.StatusCode,
			"body", print.MaybePrettyJSON(httpErr.Payload),
		)
	case errors.As(err, &netErr):
		a.logger.Error("no response received",
			"method", req.Method,
			"path", req.Path,
			"timeout", netErr.Timeout(),
			"error", netErr.Err,
		)
	case errors.As(err, &reqErr):
		a.logger.Error("request construction failed",
			"method", req.Method,
			"path", req.Path,
			"error", reqErr.Err,
		)
	default:
		a.logger.Error("request failed", "method", req.Method, "path", req.Path, "error", err)
	}
}

func (a *AuthInterceptor) transition(req *Request, from, to refreshState) {
	a.logger.Debug("auth interceptor transition",
		"path", req.Path,
		"attempt", req.Attempt,
		"from", from,
		"to", to,
	)
}

func setBearer(req *Request, token string) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set(HeaderAuthorization, BearerPrefix+token)
}
