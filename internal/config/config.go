// Package config loads and validates the configuration snapshot handed
// to the core at startup. Persistence of the backing file is the
// surrounding shell's job; this package only reads, parses and
// validates it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

// AuthMode controls how inbound requests are authenticated.
type AuthMode string

const (
	AuthOff              AuthMode = "OFF"
	AuthStrict           AuthMode = "STRICT"
	AuthAllExceptHealth  AuthMode = "ALL_EXCEPT_HEALTH"
	AuthAuto             AuthMode = "AUTO"
)

// SchedulingMode controls the scheduler's account-selection strategy
//.
type SchedulingMode string

const (
	ModeCacheFirst       SchedulingMode = "CacheFirst"
	ModeBalance          SchedulingMode = "Balance"
	ModePerformanceFirst SchedulingMode = "PerformanceFirst"
)

// ServerConfig is the HTTP surface's bind configuration.
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	AllowLANAccess bool   `mapstructure:"allow_lan_access"`
	ClientAPIKey   string `mapstructure:"client_api_key"`
	AuthMode       string `mapstructure:"auth_mode"`
}

// LogConfig configures internal/logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	ServiceName string `mapstructure:"service_name"`
	ToStdout    bool   `mapstructure:"to_stdout"`
	ToFile      bool   `mapstructure:"to_file"`
	FilePath    string `mapstructure:"file_path"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// DatabaseConfig configures the GORM-backed account store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // currently only "sqlite"
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig configures the optional distributed backend for the
// rate-limit tracker's lockout table. Empty Addr means the in-process
// fallback is used. Session bindings always stay in-process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProxyConfig is the optional outbound proxy for the upstream client.
type ProxyConfig struct {
	URL string `mapstructure:"url"` // http(s):// or socks5://
}

// OAuthConfig identifies this product to the upstream token endpoint
// during a refresh exchange. These are the installed-application
// client credentials Cloud Code's own CLI ships with; they are not
// per-account secrets.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// DispatchConfig tunes the dispatcher's retry loop.
type DispatchConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	SchedulerMaxWait  time.Duration `mapstructure:"scheduler_max_wait"`
	GetTokenTimeout   time.Duration `mapstructure:"get_token_timeout"`
}

// Config is the full snapshot object handed into the core at startup.
type Config struct {
	Server   ServerConfig        `mapstructure:"server"`
	Log      LogConfig           `mapstructure:"log"`
	Database DatabaseConfig      `mapstructure:"database"`
	Redis    RedisConfig         `mapstructure:"redis"`
	Proxy    ProxyConfig         `mapstructure:"proxy"`
	OAuth    OAuthConfig         `mapstructure:"oauth"`
	Dispatch DispatchConfig      `mapstructure:"dispatch"`
	Scheduling string            `mapstructure:"scheduling_mode"`
	ModelMap domain.ModelMap     `mapstructure:"-"` // not loaded from the file; cmd/server fills it from modelrouter.DefaultModelMap
}

// SchedulingMode returns the parsed scheduling mode, defaulting to
// Balance for an empty or unrecognized value.
func (c *Config) SchedulingMode() SchedulingMode {
	switch SchedulingMode(c.Scheduling) {
	case ModeCacheFirst, ModePerformanceFirst:
		return SchedulingMode(c.Scheduling)
	default:
		return ModeBalance
	}
}

// AuthModeValue returns the parsed auth mode, defaulting to STRICT for
// an empty or unrecognized value; fail closed.
func (c *Config) AuthModeValue() AuthMode {
	switch AuthMode(strings.ToUpper(c.Server.AuthMode)) {
	case AuthOff, AuthAllExceptHealth, AuthAuto, AuthStrict:
		return AuthMode(strings.ToUpper(c.Server.AuthMode))
	default:
		return AuthStrict
	}
}

// Default returns a Config with every field set to its documented
// default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8045,
			AllowLANAccess: false,
			AuthMode:       string(AuthStrict),
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "json",
			ToStdout: true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "gateway.db",
		},
		Dispatch: DispatchConfig{
			MaxAttempts:      6,
			RequestTimeout:   120 * time.Second,
			SessionTTL:       60 * time.Second,
			SchedulerMaxWait: 60 * time.Second,
			GetTokenTimeout:  5 * time.Second,
		},
		Scheduling: string(ModeBalance),
	}
}

// Load reads configuration from the given YAML file (if it exists),
// environment variable overrides (prefix GATEWAY_), and built-in
// defaults, and validates the result. A validation failure is fatal:
// the process must not start with a broken configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		// An explicitly set config file that is missing surfaces as a
		// not-exist path error rather than ConfigFileNotFoundError.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.auth_mode", cfg.Server.AuthMode)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("dispatch.max_attempts", cfg.Dispatch.MaxAttempts)
	v.SetDefault("dispatch.request_timeout", cfg.Dispatch.RequestTimeout)
	v.SetDefault("dispatch.session_ttl", cfg.Dispatch.SessionTTL)
	v.SetDefault("dispatch.scheduler_max_wait", cfg.Dispatch.SchedulerMaxWait)
	v.SetDefault("dispatch.get_token_timeout", cfg.Dispatch.GetTokenTimeout)
	v.SetDefault("scheduling_mode", cfg.Scheduling)
}

// Validate checks the config's invariants, failing fast at startup
// rather than surfacing a malformed config per-request.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Dispatch.RequestTimeout < 30*time.Second || c.Dispatch.RequestTimeout > 600*time.Second {
		return fmt.Errorf("dispatch.request_timeout out of [30s,600s]: %s", c.Dispatch.RequestTimeout)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be >= 1")
	}
	if c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}
