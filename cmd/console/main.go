package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-print"

	"github.com/goliatone/go-auth-client/internal/config"
	"github.com/goliatone/go-auth-client/internal/console"
	"github.com/goliatone/go-auth-client/internal/logging"
	"github.com/goliatone/go-auth-client/internal/stubapi"
	"github.com/goliatone/go-auth-client/storage/redisstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lgr, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer lgr.Sync()

	if cfg.Log.Level == "debug" {
		fmt.Println(print.MaybeHighlightJSON(cfg))
	}

	ctx := context.Background()

	if cfg.Console.StubAPI {
		api := stubapi.New(stubapi.Options{})
		for _, u := range []struct {
			name  string
			admin bool
		}{{"admin", true}, {"agent", false}} {
			if err := api.AddUser(u.name, u.name, u.admin); err != nil {
				return err
			}
		}
		srv := api.Start()
		defer srv.Close()

		cfg.API.BaseURL = srv.URL
		lgr.Warn("using in process stub API", "url", srv.URL, "users", "admin/admin agent/agent")
	}

	opts := []console.Option{console.WithLogger(lgr.Named("console"))}

	if cfg.Console.SessionStore == "redis" {
		rdb, err := redisstore.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		opts = append(opts, console.WithRedisStore(redisstore.New(rdb, redisstore.WithTTL(cfg.Redis.TTL))))
	}

	srv, err := console.New(cfg, opts...)
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Listen()
	}()

	select {
	case err := <-errc:
		return err
	case sig := <-waitExitSignal():
		lgr.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func waitExitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}
