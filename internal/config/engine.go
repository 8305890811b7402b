package config

import (
	"fmt"
	"os"

	"github.com/loanflow/gatekeeper"
)

// EngineConfig builds the engine policy from the loaded configuration.
// Key files are read here; the result is validated by the engine builder.
func (c *AppConfig) EngineConfig() (gatekeeper.Config, error) {
	cfg := gatekeeper.DefaultConfig()

	cfg.JWT.SigningMethod = c.JWT.SigningMethod
	cfg.JWT.AccessTTL = c.JWT.AccessTTL
	cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience
	cfg.JWT.Leeway = c.JWT.Leeway
	cfg.JWT.KeyID = c.JWT.KeyID
	cfg.JWT.RefreshPath = c.JWT.RefreshPath

	switch c.JWT.SigningMethod {
	case "ed25519":
		priv, err := readKey(c.JWT.PrivateKeyFile)
		if err != nil {
			return gatekeeper.Config{}, err
		}
		pub, err := readKey(c.JWT.PublicKeyFile)
		if err != nil {
			return gatekeeper.Config{}, err
		}
		cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	default:
		cfg.JWT.PrivateKey = []byte(c.JWT.Secret)
	}

	cfg.Lockout.Threshold = c.Lockout.Threshold
	cfg.Lockout.Window = c.Lockout.Window

	cfg.OTP.VerifyTTL = c.OTP.VerifyTTL
	cfg.OTP.ResetTTL = c.OTP.ResetTTL

	cfg.Password.Memory = c.Password.Memory
	cfg.Password.Time = c.Password.Time
	cfg.Password.Parallelism = c.Password.Parallelism
	cfg.Password.MinLength = c.Password.MinLength
	cfg.Password.MaxLength = c.Password.MaxLength
	cfg.Password.UpgradeOnLogin = c.Password.UpgradeOnLogin

	cfg.Account.RequireVerified = c.Account.RequireVerified
	cfg.Account.SendWelcome = c.Account.SendWelcome

	cfg.Notify.Workers = c.Notifier.Workers
	cfg.Notify.BufferSize = c.Notifier.BufferSize
	cfg.Notify.Timeout = c.Notifier.Timeout

	if err := cfg.Validate(); err != nil {
		return gatekeeper.Config{}, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}

func readKey(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("ed25519 signing needs both key files")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return b, nil
}
