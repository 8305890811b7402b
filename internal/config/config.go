// Package config loads the service configuration from a TOML file with
// GATEKEEPER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"

	envPrefix = "GATEKEEPER"
)

type AppConfig struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Lockout   LockoutConfig   `mapstructure:"lockout"`
	OTP       OTPConfig       `mapstructure:"otp"`
	Password  PasswordConfig  `mapstructure:"password"`
	Account   AccountConfig   `mapstructure:"account"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cookies   CookieConfig    `mapstructure:"cookies"`
	Store     StoreConfig     `mapstructure:"store"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Routes    []RouteConfig   `mapstructure:"routes"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// IdentitySecret signs the identity headers forwarded downstream.
	IdentitySecret    string   `mapstructure:"identity_secret"`
	PublicPaths       []string `mapstructure:"public_paths"`
	ProtectedPrefixes []string `mapstructure:"protected_prefixes"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type JWTConfig struct {
	SigningMethod  string        `mapstructure:"signing_method"`
	Secret         string        `mapstructure:"secret"`
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	PublicKeyFile  string        `mapstructure:"public_key_file"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
	Issuer         string        `mapstructure:"issuer"`
	Audience       string        `mapstructure:"audience"`
	Leeway         time.Duration `mapstructure:"leeway"`
	KeyID          string        `mapstructure:"key_id"`
	RefreshPath    string        `mapstructure:"refresh_path"`
}

type LockoutConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

type OTPConfig struct {
	VerifyTTL time.Duration `mapstructure:"verify_ttl"`
	ResetTTL  time.Duration `mapstructure:"reset_ttl"`
}

type PasswordConfig struct {
	Memory         uint32 `mapstructure:"memory_kib"`
	Time           uint32 `mapstructure:"time"`
	Parallelism    uint8  `mapstructure:"parallelism"`
	MinLength      int    `mapstructure:"min_length"`
	MaxLength      int    `mapstructure:"max_length"`
	UpgradeOnLogin bool   `mapstructure:"upgrade_on_login"`
}

type AccountConfig struct {
	RequireVerified bool `mapstructure:"require_verified"`
	SendWelcome     bool `mapstructure:"send_welcome"`
}

type RateLimitConfig struct {
	Capacity     int           `mapstructure:"capacity"`
	RefillTokens int           `mapstructure:"refill_tokens"`
	RefillPeriod time.Duration `mapstructure:"refill_period"`
}

type CookieConfig struct {
	AccessName  string `mapstructure:"access_name"`
	RefreshName string `mapstructure:"refresh_name"`
	Domain      string `mapstructure:"domain"`
	Secure      bool   `mapstructure:"secure"`
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// RedisURL is parsed with redis.ParseURL.
	RedisURL    string `mapstructure:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	// Migrate runs pending goose migrations at startup.
	Migrate bool `mapstructure:"migrate"`
}

const (
	NotifierLog    = "log"
	NotifierResend = "resend"
)

type NotifierConfig struct {
	Driver       string        `mapstructure:"driver"`
	ResendAPIKey string        `mapstructure:"resend_api_key"`
	From         string        `mapstructure:"from"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Workers      int           `mapstructure:"workers"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

// RouteConfig is one downstream service behind the gateway.
type RouteConfig struct {
	Prefix  string   `mapstructure:"prefix"`
	Targets []string `mapstructure:"targets"`
	Role    string   `mapstructure:"role"`
}

// Load reads the TOML file at path, when given, then applies environment
// overrides such as GATEKEEPER_JWT_SECRET or GATEKEEPER_STORE_DRIVER.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Env == "" {
		cfg.Env = EnvDevelopment
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads the file named by GATEKEEPER_CONFIG, or only the
// environment when it is unset.
func LoadFromEnv() (*AppConfig, error) {
	return Load(os.Getenv(envPrefix + "_CONFIG"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.identity_secret", "")
	v.SetDefault("server.public_paths", []string{})
	v.SetDefault("server.protected_prefixes", []string{})

	v.SetDefault("jwt.signing_method", "hs256")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.public_key_file", "")
	v.SetDefault("jwt.access_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.leeway", time.Duration(0))
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.refresh_path", "/auth/refresh-token")

	v.SetDefault("lockout.threshold", 5)
	v.SetDefault("lockout.window", 15*time.Minute)

	v.SetDefault("otp.verify_ttl", 24*time.Hour)
	v.SetDefault("otp.reset_ttl", 15*time.Minute)

	v.SetDefault("password.memory_kib", 64*1024)
	v.SetDefault("password.time", 3)
	v.SetDefault("password.parallelism", 2)
	v.SetDefault("password.min_length", 8)
	v.SetDefault("password.max_length", 1024)
	v.SetDefault("password.upgrade_on_login", true)

	v.SetDefault("account.require_verified", true)
	v.SetDefault("account.send_welcome", true)

	v.SetDefault("rate_limit.capacity", 30)
	v.SetDefault("rate_limit.refill_tokens", 30)
	v.SetDefault("rate_limit.refill_period", time.Minute)

	v.SetDefault("cookies.access_name", "jwt")
	v.SetDefault("cookies.refresh_name", "refresh_jwt")
	v.SetDefault("cookies.domain", "")
	v.SetDefault("cookies.secure", false)

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.redis_prefix", "gk:acct")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.migrate", true)

	v.SetDefault("notifier.driver", NotifierLog)
	v.SetDefault("notifier.resend_api_key", "")
	v.SetDefault("notifier.from", "")
	v.SetDefault("notifier.base_url", "")
	v.SetDefault("notifier.timeout", 10*time.Second)
	v.SetDefault("notifier.workers", 2)
	v.SetDefault("notifier.buffer_size", 256)
}

func (c *AppConfig) validate() error {
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTesting:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis driver")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Notifier.Driver {
	case NotifierLog:
	case NotifierResend:
		if c.Notifier.ResendAPIKey == "" || c.Notifier.From == "" {
			return errors.New("notifier.resend_api_key and notifier.from are required for the resend driver")
		}
	default:
		return fmt.Errorf("unknown notifier driver %q", c.Notifier.Driver)
	}

	if c.Env == EnvProduction && len(c.Server.IdentitySecret) < 32 {
		return errors.New("server.identity_secret must be at least 32 bytes in production")
	}

	for _, r := range c.Routes {
		if r.Prefix == "" || len(r.Targets) == 0 {
			return fmt.Errorf("route %q needs a prefix and at least one target", r.Prefix)
		}
	}
	return nil
}
