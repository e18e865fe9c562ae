// Package config loads settings for the console and the CLI from a .env
// file, the environment (BROKER_ prefix) and an optional config.yaml.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	authclient "github.com/goliatone/go-auth-client"
)

const EnvPrefix = "BROKER"

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Console ConsoleConfig `mapstructure:"console"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Log     LogConfig     `mapstructure:"log"`
}

type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	TokenPath      string        `mapstructure:"token_path"`
	RefreshPath    string        `mapstructure:"refresh_path"`
	AdminCheckPath string        `mapstructure:"admin_check_path"`
	SingleFlight   bool          `mapstructure:"single_flight"`
}

type ConsoleConfig struct {
	Addr           string        `mapstructure:"addr"`
	LoginRoute     string        `mapstructure:"login_route"`
	SessionStore   string        `mapstructure:"session_store"` // cookie or redis
	CookiePrefix   string        `mapstructure:"cookie_prefix"`
	CookieDuration time.Duration `mapstructure:"cookie_duration"`
	SecureCookies  bool          `mapstructure:"secure_cookies"`
	StubAPI        bool          `mapstructure:"stub_api"`
}

type StoreConfig struct {
	Kind string `mapstructure:"kind"` // file or sqlite
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Mode  string `mapstructure:"mode"` // development or production
}

// Options returns the client options for the API section
func (c Config) Options() authclient.Options {
	return authclient.Options{
		BaseURL:        c.API.BaseURL,
		Timeout:        c.API.Timeout,
		UserAgent:      c.API.UserAgent,
		TokenPath:      c.API.TokenPath,
		RefreshPath:    c.API.RefreshPath,
		AdminCheckPath: c.API.AdminCheckPath,
		LoginRoute:     c.Console.LoginRoute,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", authclient.DefaultTimeout)
	v.SetDefault("api.user_agent", "brokerage-console")
	v.SetDefault("api.token_path", authclient.DefaultTokenPath)
	v.SetDefault("api.refresh_path", authclient.DefaultRefreshPath)
	v.SetDefault("api.admin_check_path", authclient.DefaultAdminCheckPath)
	v.SetDefault("api.single_flight", false)

	v.SetDefault("console.addr", ":3000")
	v.SetDefault("console.login_route", authclient.DefaultLoginRoute)
	v.SetDefault("console.session_store", "cookie")
	v.SetDefault("console.cookie_prefix", "bk_")
	v.SetDefault("console.cookie_duration", 7*24*time.Hour)
	v.SetDefault("console.secure_cookies", true)
	v.SetDefault("console.stub_api", false)

	v.SetDefault("store.kind", "file")
	v.SetDefault("store.path", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.mode", "development")
}

// Load reads dotenv files (missing ones are ignored), then the environment
// and config.yaml from the working directory or ./config.
func Load(dotenv ...string) (*Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return decode(v)
}

// Viper returns a viper instance with defaults and environment bindings,
// for callers that bind command line flags on top.
func Viper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Decode unmarshals v into a Config
func Decode(v *viper.Viper) (*Config, error) {
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
