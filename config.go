package authclient

import (
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every outbound call, refresh included
	DefaultTimeout = 10 * time.Second
	// DefaultTokenPath issues a token pair for credentials
	DefaultTokenPath = "/api/token/"
	// DefaultRefreshPath exchanges a refresh token for an access token
	DefaultRefreshPath = "/api/token/refresh/"
	// DefaultAdminCheckPath reports admin status for a bearer token
	DefaultAdminCheckPath = "/api/check-admin/"
	// DefaultLoginRoute is where the client is sent when the session ends
	DefaultLoginRoute = "/login"

	defaultUserAgent = "go-auth-client"
)

var _ Config = Options{}

// Options is the default Config implementation. Zero values fall back to
// the package defaults.
type Options struct {
	BaseURL        string        `mapstructure:"base_url" json:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	UserAgent      string        `mapstructure:"user_agent" json:"user_agent"`
	TokenPath      string        `mapstructure:"token_path" json:"token_path"`
	RefreshPath    string        `mapstructure:"refresh_path" json:"refresh_path"`
	AdminCheckPath string        `mapstructure:"admin_check_path" json:"admin_check_path"`
	LoginRoute     string        `mapstructure:"login_route" json:"login_route"`
}

func (o Options) GetBaseURL() string {
	return strings.TrimRight(o.BaseURL, "/")
}

func (o Options) GetTimeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) GetUserAgent() string {
	return orDefault(o.UserAgent, defaultUserAgent)
}

func (o Options) GetTokenPath() string {
	return orDefault(o.TokenPath, DefaultTokenPath)
}

func (o Options) GetRefreshPath() string {
	return orDefault(o.RefreshPath, DefaultRefreshPath)
}

func (o Options) GetAdminCheckPath() string {
	return orDefault(o.AdminCheckPath, DefaultAdminCheckPath)
}

func (o Options) GetLoginRoute() string {
	return orDefault(o.LoginRoute, DefaultLoginRoute)
}

func orDefault(val, def string) string {
	if strings.TrimSpace(val) == "" {
		return def
	}
	return val
}
