// Package cli is brokerctl, a terminal client for the brokerage admin API.
// It keeps the session in a local file or sqlite database so tokens survive
// between invocations.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/activitymap"
	"github.com/goliatone/go-auth-client/internal/config"
	"github.com/goliatone/go-auth-client/internal/logging"
	"github.com/goliatone/go-auth-client/storage/bunstore"
	"github.com/goliatone/go-auth-client/storage/filestore"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"

	// ExitSessionExpired is returned when the session ended during a call
	ExitSessionExpired = 3
)

// ExitError carries a process exit code
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// App holds what the commands share during one invocation
type App struct {
	v      *viper.Viper
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	logger     authclient.Logger
	httpClient *http.Client

	args []string

	cfg     *config.Config
	session *authclient.Session
	closers []func() error
}

// Option customizes the root command
type Option func(*App)

func WithIO(in io.Reader, out, errOut io.Writer) Option {
	return func(a *App) {
		a.in, a.out, a.errOut = in, out, errOut
	}
}

// WithArgs replaces os.Args[1:]
func WithArgs(args ...string) Option {
	return func(a *App) {
		a.args = args
	}
}

// WithLogger replaces the zap logger built from --log-level
func WithLogger(logger authclient.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) {
		a.httpClient = hc
	}
}

// NewRootCommand builds brokerctl with all subcommands
func NewRootCommand(opts ...Option) *cobra.Command {
	return newApp(opts...).command()
}

func newApp(opts ...Option) *App {
	app := &App{
		v:      config.Viper(),
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

func (a *App) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "brokerctl",
		Short: "Brokerage admin API client",
		Long: `brokerctl signs in to the brokerage admin API and calls protected endpoints
with transparent token refresh.

Environment Variables:
  BROKER_API_BASE_URL  Backend API URL
  BROKER_STORE_KIND    Session store, file or sqlite
  BROKER_STORE_PATH    Session store location`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	if a.args != nil {
		root.SetArgs(a.args)
	}

	flags := root.PersistentFlags()
	flags.String("api", "", "backend API URL")
	flags.String("store", "", "session store: file or sqlite")
	flags.String("store-path", "", "session store location")
	flags.Duration("timeout", 0, "request timeout")
	flags.String("log-level", "", "log level")
	flags.Bool("json", false, "print JSON instead of text")

	bind := map[string]string{
		"api.base_url": "api",
		"store.kind":   "store",
		"store.path":   "store-path",
		"api.timeout":  "timeout",
		"log.level":    "log-level",
		"output.json":  "json",
	}
	for key, flag := range bind {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.loginCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.statusCommand(),
		a.getCommand(),
	)
	return root
}

// Execute runs brokerctl and returns the process exit code
func Execute(ctx context.Context, opts ...Option) int {
	app := newApp(opts...)
	defer app.close()

	if err := app.command().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(app.errOut, "Error:", authclient.ErrorMessage(err))
		var exit *ExitError
		if errors.As(err, &exit) {
			return exit.Code
		}
		return 1
	}
	return 0
}

func (a *App) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Decode(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger == nil {
		lgr, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
		if err != nil {
			return err
		}
		a.logger = lgr.Named("brokerctl")
		a.closers = append(a.closers, func() error {
			_ = lgr.Sync()
			return nil
		})
	}

	storage, err := a.openStorage(cmd.Context())
	if err != nil {
		return err
	}

	opts := []authclient.SessionOption{
		authclient.WithLogger(a.logger),
		authclient.WithActivitySink(activitymap.LogSink(a.logger, activitymap.WithDefaultChannel("cli"))),
		authclient.WithSessionNavigator(authclient.NavigatorFunc(a.sessionEnded)),
	}
	if a.httpClient != nil {
		opts = append(opts, authclient.WithSessionHTTPClient(a.httpClient))
	}
	if cfg.API.SingleFlight {
		opts = append(opts, authclient.WithSingleFlightRefresh())
	}

	a.session = authclient.NewSession(cfg.Options(), storage, opts...)
	return nil
}

func (a *App) openStorage(ctx context.Context) (authclient.Storage, error) {
	path := a.cfg.Store.Path

	switch a.cfg.Store.Kind {
	case "", StoreFile:
		if path == "" {
			path = defaultStorePath("session.json")
		}
		return filestore.New(path)
	case StoreSQLite:
		if path == "" {
			path = defaultStorePath("session.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		db, err := bunstore.OpenSQLite(ctx, "file:"+path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		store := bunstore.New(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q, expected %s or %s", a.cfg.Store.Kind, StoreFile, StoreSQLite)
	}
}

func (a *App) close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// sessionEnded is the navigator for a terminal: there is no login page to
// replace, so the user is told to sign in again.
func (a *App) sessionEnded(_ context.Context, _ string) {
	fmt.Fprintln(a.errOut, "Session ended. Run `brokerctl login` to sign in again.")
}

func (a *App) jsonOutput() bool {
	return a.v.GetBool("output.json")
}

func defaultStorePath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "brokerctl", name)
}
