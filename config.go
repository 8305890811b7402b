package gatekeeper

import (
	"errors"
	"strings"
	"time"
)

// Config holds every engine policy. Start from DefaultConfig and override.
type Config struct {
	JWT      JWTConfig
	Lockout  LockoutConfig
	OTP      OTPConfig
	Password PasswordConfig
	Account  AccountConfig
	Notify   NotifyConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// JWTConfig configures token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// RefreshPath is the only request path a refresh token is accepted at.
	RefreshPath string
}

// LockoutConfig configures per-account lockout.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

// OTPConfig configures one-time code lifetimes per purpose.
type OTPConfig struct {
	VerifyTTL time.Duration
	ResetTTL  time.Duration
}

// PasswordConfig holds argon2id cost parameters and length limits.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

// AccountConfig configures account-level login rules.
type AccountConfig struct {
	// RequireVerified rejects logins until the email has been verified.
	RequireVerified bool
	// SendWelcome queues a welcome mail after registration.
	SendWelcome bool
}

// NotifyConfig sizes the outbound mail queue.
type NotifyConfig struct {
	BufferSize int
	Workers    int
	Timeout    time.Duration
}

// AuditConfig controls audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls counter collection.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the policy used when the operator overrides nothing.
// Signing keys are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			RefreshPath:   "/auth/refresh-token",
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		OTP: OTPConfig{
			VerifyTTL: 24 * time.Hour,
			ResetTTL:  15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		Account: AccountConfig{
			RequireVerified: true,
			SendWelcome:     true,
		},
		Notify: NotifyConfig{
			BufferSize: 256,
			Workers:    2,
			Timeout:    10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first policy error in c.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be longer than AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if !strings.HasPrefix(c.JWT.RefreshPath, "/") {
		return errors.New("JWT RefreshPath must be an absolute path")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}

	// OTP
	if c.OTP.VerifyTTL <= 0 || c.OTP.ResetTTL <= 0 {
		return errors.New("OTP TTLs must be > 0")
	}
	if c.OTP.ResetTTL > time.Hour {
		return errors.New("OTP ResetTTL must be <= 1h")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 || c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password length bounds are invalid")
	}

	// Notify
	if c.Notify.BufferSize < 0 || c.Notify.Workers < 0 || c.Notify.Timeout < 0 {
		return errors.New("Notify settings must not be negative")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
