package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	authclient "github.com/goliatone/go-auth-client"
)

func (a *App) loginCommand() *cobra.Command {
	var creds authclient.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in as an admin and keep the session",
		Long: `Sign in with username and password. The password is read from
--password, BROKER_PASSWORD or the first line of stdin, in that order.
Only admin accounts are kept; other accounts are signed out at once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.Password == "" {
				creds.Password = a.v.GetString("password")
			}
			if creds.Password == "" {
				line, err := bufio.NewReader(a.in).ReadString('\n')
				if err != nil && line == "" {
					return authclient.NewAuthError("password is required", authclient.TextCodeLoginFailed)
				}
				creds.Password = strings.TrimRight(line, "\r\n")
			}

			profile, err := a.session.Service.SignIn(cmd.Context(), creds)
			if err != nil {
				return err
			}

			if a.jsonOutput() {
				return a.printJSON(profile)
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", profile.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&creds.Username, "username", "u", "", "admin username")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "admin password")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (a *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.session.Service.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func (a *App) whoamiCommand() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in admin",
		Long: `Show the cached admin profile. With --verify the backend is asked again
and a session that fails the check is signed out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if verify {
				decision := a.session.Guard.Evaluate(ctx, true)
				if !decision.Allowed() {
					return &ExitError{Code: ExitSessionExpired, Err: fmt.Errorf("not signed in as admin: %s", decision.Reason)}
				}
			}

			profile, err := a.session.Service.AdminUser(ctx)
			if err != nil {
				return err
			}
			if profile == nil || !a.session.Service.IsAuthenticated(ctx) {
				return &ExitError{Code: ExitSessionExpired, Err: errors.New("not signed in")}
			}

			if a.jsonOutput() {
				return a.printJSON(profile)
			}
			fmt.Fprintf(a.out, "%s (signed in %s)\n", profile.Username, profile.LoginTime.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "check admin privileges with the backend")
	return cmd
}

type statusReport struct {
	Authenticated bool       `json:"authenticated"`
	Username      string     `json:"username,omitempty"`
	AccessExpires *time.Time `json:"access_expires,omitempty"`
	Store         string     `json:"store"`
	API           string     `json:"api"`
}

func (a *App) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			report := statusReport{
				Authenticated: a.session.Service.IsAuthenticated(ctx),
				Store:         a.cfg.Store.Kind,
				API:           a.cfg.Options().GetBaseURL(),
			}
			if profile, _ := a.session.Service.AdminUser(ctx); profile != nil {
				report.Username = profile.Username
			}
			if exp, ok, err := a.session.Service.AccessTokenExpiry(ctx); err == nil && ok {
				report.AccessExpires = &exp
			}

			if a.jsonOutput() {
				return a.printJSON(report)
			}

			if !report.Authenticated {
				fmt.Fprintln(a.out, "Not signed in")
				return nil
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", report.Username)
			if report.AccessExpires != nil {
				fmt.Fprintf(a.out, "Access token expires %s\n", report.AccessExpires.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func (a *App) getCommand() *cobra.Command {
	var (
		requireAdmin bool
		query        []string
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Call a protected endpoint",
		Long: `GET a backend path with the stored session. An expired access token is
refreshed once; if that fails the session is cleared.`,
		Example: `  brokerctl get /api/properties/
  brokerctl get /api/admin/stats/ --admin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if requireAdmin {
				decision := a.session.Guard.Evaluate(ctx, true)
				if !decision.Allowed() {
					a.sessionEnded(ctx, a.cfg.Options().GetLoginRoute())
					return &ExitError{Code: ExitSessionExpired, Err: fmt.Errorf("access denied: %s", decision.Reason)}
				}
			}

			var opts []authclient.RequestOption
			for _, q := range query {
				k, v, _ := strings.Cut(q, "=")
				opts = append(opts, authclient.WithQuery(k, v))
			}

			resp, err := a.session.Client.Get(ctx, args[0], opts...)
			if err != nil {
				if authclient.IsSessionExpired(err) {
					return &ExitError{Code: ExitSessionExpired, Err: err}
				}
				return err
			}

			if a.jsonOutput() || json.Valid(resp.Body) {
				var body any
				if err := resp.Decode(&body); err == nil {
					fmt.Fprintln(a.out, print.MaybePrettyJSON(body))
					return nil
				}
			}
			_, err = a.out.Write(resp.Body)
			return err
		},
	}

	cmd.Flags().BoolVar(&requireAdmin, "admin", false, "require admin privileges before the call")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter key=value, repeatable")
	return cmd
}

func (a *App) printJSON(v any) error {
	_, err := fmt.Fprintln(a.out, print.MaybePrettyJSON(v))
	return err
}
