package authclient

import "net/http"

// Session wires the store, client, interceptor, service and guard over a
// single storage.
type Session struct {
	Store       *TokenStore
	Client      *Client
	Interceptor *AuthInterceptor
	Service     *Service
	Guard       *Guard

	navigator  Navigator
	loginRoute string
}

type sessionOptions struct {
	logger       Logger
	sink         ActivitySink
	navigator    Navigator
	httpClient   *http.Client
	singleFlight bool
	refresher    Refresher
}

// SessionOption customizes NewSession
type SessionOption func(*sessionOptions)

// WithLogger sets the logger for every component
func WithLogger(logger Logger) SessionOption {
	return func(o *sessionOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithActivitySink sets the sink for every component
func WithActivitySink(sink ActivitySink) SessionOption {
	return func(o *sessionOptions) {
		o.sink = sink
	}
}

// WithSessionNavigator sets the navigator used when a refresh fails
func WithSessionNavigator(n Navigator) SessionOption {
	return func(o *sessionOptions) {
		o.navigator = n
	}
}

// WithSessionHTTPClient replaces the underlying http.Client
func WithSessionHTTPClient(hc *http.Client) SessionOption {
	return func(o *sessionOptions) {
		o.httpClient = hc
	}
}

// WithSingleFlightRefresh coalesces concurrent refreshes
func WithSingleFlightRefresh() SessionOption {
	return func(o *sessionOptions) {
		o.singleFlight = true
	}
}

// WithRefresher replaces the default refresher
func WithRefresher(r Refresher) SessionOption {
	return func(o *sessionOptions) {
		o.refresher = r
	}
}

// NewSession returns a ready to use Session
func NewSession(cfg Config, storage Storage, opts ...SessionOption) *Session {
	if cfg == nil {
		cfg = Options{}
	}

	o := &sessionOptions{logger: defLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	store := NewTokenStore(storage).WithLogger(o.logger)
	client := NewClient(cfg, WithHTTPClient(o.httpClient), WithClientLogger(o.logger))

	refresher := o.refresher
	if refresher == nil {
		tr := NewTokenRefresher(client)
		if o.singleFlight {
			tr.WithSingleFlight()
		}
		refresher = tr
	}

	interceptor := NewAuthInterceptor(store, refresher,
		WithNavigator(o.navigator),
		WithLoginRoute(cfg.GetLoginRoute()),
		WithInterceptorLogger(o.logger),
		WithInterceptorActivitySink(o.sink),
	)

	service := NewService(client, store,
		WithServiceRefresher(refresher),
		WithServiceLogger(o.logger),
		WithServiceActivitySink(o.sink),
	)

	client.Use(interceptor.Intercept)

	return &Session{
		Store:       store,
		Client:      client,
		Interceptor: interceptor,
		Service:     service,
		Guard:       NewGuard(service, WithGuardLogger(o.logger), WithGuardActivitySink(o.sink)),
		navigator:   o.navigator,
		loginRoute:  cfg.GetLoginRoute(),
	}
}

// NewGate returns a gate over the session guard. It navigates like the
// interceptor unless opts say otherwise.
func (s *Session) NewGate(opts ...GateOption) *Gate {
	base := []GateOption{
		WithGateNavigator(s.navigator),
		WithGateLoginRoute(s.loginRoute),
	}
	return NewGate(s.Guard, append(base, opts...)...)
}
