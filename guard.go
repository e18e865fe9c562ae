package authclient

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// GuardState is the render state of a protected view
type GuardState string

const (
	GuardIdle       GuardState = ""
	GuardLoading    GuardState = "loading"
	GuardAuthorized GuardState = "authorized"
	GuardDenied     GuardState = "denied"
)

// ErrInvalidGuardTransition is returned when a gate is moved along an edge
// that is not part of the guard graph.
var ErrInvalidGuardTransition = goerrors.New("invalid guard state transition", goerrors.CategoryInternal).
	WithTextCode("INVALID_GUARD_TRANSITION").
	WithCode(goerrors.CodeInternal)

var guardTransitions = map[GuardState]map[GuardState]struct{}{
	GuardIdle: {
		GuardLoading: {},
	},
	GuardLoading: {
		GuardAuthorized: {},
		GuardDenied:     {},
		GuardIdle:       {},
	},
	GuardAuthorized: {
		GuardLoading: {},
		GuardIdle:    {},
	},
	GuardDenied: {
		GuardLoading: {},
		GuardIdle:    {},
	},
}

func canTransition(from, to GuardState) bool {
	next, ok := guardTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// SessionAuthority is what the guard consults. *Service implements it.
type SessionAuthority interface {
	IsAuthenticated(ctx context.Context) bool
	AccessToken(ctx context.Context) (string, error)
	CheckAdmin(ctx context.Context, accessToken string) (*AdminCheckResult, error)
	Logout(ctx context.Context) error
}

var _ SessionAuthority = (*Service)(nil)

// GuardDecision is the outcome of one evaluation
type GuardDecision struct {
	State    GuardState
	Username string
	Reason   string
	Err      error
}

// Allowed reports whether protected content may render
func (d GuardDecision) Allowed() bool {
	return d.State == GuardAuthorized
}

// Guard decides whether a protected view may render. It fails closed: any
// error while checking admin privileges logs the user out.
type Guard struct {
	auth   SessionAuthority
	logger Logger
	sink   ActivitySink
}

// GuardOption customizes a Guard
type GuardOption func(*Guard)

// WithGuardLogger sets the logger
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardActivitySink sets the sink for denied events
func WithGuardActivitySink(sink ActivitySink) GuardOption {
	return func(g *Guard) {
		g.sink = normalizeActivitySink(sink)
	}
}

// NewGuard returns a Guard backed by auth
func NewGuard(auth SessionAuthority, opts ...GuardOption) *Guard {
	g := &Guard{
		auth:   auth,
		logger: defLogger{},
		sink:   noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Evaluate resolves a LOADING view to AUTHORIZED or DENIED
func (g *Guard) Evaluate(ctx context.Context, requireAdmin bool) GuardDecision {
	if !g.auth.IsAuthenticated(ctx) {
		return g.deny(ctx, "not authenticated", nil, false)
	}

	if !requireAdmin {
		return GuardDecision{State: GuardAuthorized}
	}

	token, err := g.auth.AccessToken(ctx)
	if err != nil {
		return g.deny(ctx, "token store read failed", err, true)
	}

	result, err := g.auth.CheckAdmin(ctx, token)
	if err != nil {
		return g.deny(ctx, "admin check failed", err, true)
	}

	if !result.IsAdmin {
		return g.deny(ctx, "admin privileges required", nil, true)
	}

	return GuardDecision{State: GuardAuthorized, Username: result.Username}
}

func (g *Guard) deny(ctx context.Context, reason string, cause error, logout bool) GuardDecision {
	if logout {
		if err := g.auth.Logout(ctx); err != nil {
			g.logger.Error("guard logout failed", "error", err)
		}
	}

	meta := map[string]any{"reason": reason}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	g.logger.Info("guard denied access", "reason", reason, "error", cause)
	emitActivity(ctx, g.sink, g.logger, ActivityEventGuardDenied, "", meta)

	return GuardDecision{State: GuardDenied, Reason: reason, Err: cause}
}

// Gate is a mounted protected view. Evaluation runs in the background;
// results that arrive after Unmount or after a newer evaluation started
// are dropped.
type Gate struct {
	guard      *Guard
	navigator  Navigator
	loginRoute string
	onChange   func(GuardState)

	mu           sync.Mutex
	state        GuardState
	decision     GuardDecision
	requireAdmin bool
	mounted      bool
	generation   uint64
	settled      chan struct{}
	settle       func()
}

// GateOption customizes a Gate
type GateOption func(*Gate)

// WithGateNavigator sets where a denied gate sends the user
func WithGateNavigator(n Navigator) GateOption {
	return func(g *Gate) {
		g.navigator = normalizeNavigator(n)
	}
}

// WithGateLoginRoute overrides the login entry point
func WithGateLoginRoute(route string) GateOption {
	return func(g *Gate) {
		if route != "" {
			g.loginRoute = route
		}
	}
}

// WithGateOnChange registers a callback for settled states
func WithGateOnChange(fn func(GuardState)) GateOption {
	return func(g *Gate) {
		g.onChange = fn
	}
}

// NewGate returns an unmounted gate
func NewGate(guard *Guard, opts ...GateOption) *Gate {
	g := &Gate{
		guard:      guard,
		navigator:  noopNavigator{},
		loginRoute: DefaultLoginRoute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Mount starts an evaluation
func (g *Gate) Mount(ctx context.Context, requireAdmin bool) error {
	g.mu.Lock()
	g.mounted = true
	g.mu.Unlock()
	return g.evaluate(ctx, requireAdmin)
}

// SetRequireAdmin re-evaluates when the requirement changes
func (g *Gate) SetRequireAdmin(ctx context.Context, requireAdmin bool) error {
	g.mu.Lock()
	mounted := g.mounted
	same := g.requireAdmin == requireAdmin && g.state != GuardIdle
	g.mu.Unlock()

	if !mounted || same {
		return nil
	}
	return g.evaluate(ctx, requireAdmin)
}

// Unmount drops any pending evaluation
func (g *Gate) Unmount() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.mounted = false
	g.generation++
	g.state = GuardIdle
	if g.settle != nil {
		g.settle()
	}
}

// State returns the current state
func (g *Gate) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Decision returns the last settled decision
func (g *Gate) Decision() GuardDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}

// Wait blocks until the pending evaluation settles or ctx is done
func (g *Gate) Wait(ctx context.Context) GuardState {
	g.mu.Lock()
	ch := g.settled
	g.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}
	return g.State()
}

// Render calls placeholder while loading and content once authorized.
// A denied gate renders nothing, the user has been redirected.
func (g *Gate) Render(content, placeholder func()) {
	switch g.State() {
	case GuardLoading:
		if placeholder != nil {
			placeholder()
		}
	case GuardAuthorized:
		if content != nil {
			content()
		}
	}
}

func (g *Gate) evaluate(ctx context.Context, requireAdmin bool) error {
	g.mu.Lock()
	if err := g.setLocked(GuardLoading); err != nil {
		g.mu.Unlock()
		return err
	}
	if g.settle != nil {
		g.settle()
	}
	g.generation++
	gen := g.generation
	g.requireAdmin = requireAdmin
	ch := make(chan struct{})
	g.settled = ch
	g.settle = sync.OnceFunc(func() { close(ch) })
	settle := g.settle
	g.mu.Unlock()

	go func() {
		decision := g.guard.Evaluate(ctx, requireAdmin)

		g.mu.Lock()
		if !g.mounted || gen != g.generation {
			g.mu.Unlock()
			return
		}
		if err := g.setLocked(decision.State); err != nil {
			g.mu.Unlock()
			g.guard.logger.Error("gate transition rejected", "error", err)
			return
		}
		g.decision = decision
		onChange := g.onChange
		g.mu.Unlock()

		if onChange != nil {
			onChange(decision.State)
		}
		if decision.State == GuardDenied {
			g.navigator.Replace(ctx, g.loginRoute)
		}

		settle()
	}()

	return nil
}

func (g *Gate) setLocked(to GuardState) error {
	if g.state == to && to == GuardLoading {
		return nil
	}
	if !canTransition(g.state, to) {
		return ErrInvalidGuardTransition
	}
	g.state = to
	return nil
}
