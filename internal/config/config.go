package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthConfig holds handshake policy knobs.
type AuthConfig struct {
	CodeLength         int `yaml:"code_length"`
	CodeTTLMins        int `yaml:"code_ttl_mins"`
	MaxTwoFactorTries  int `yaml:"max_2fa_attempts"`
	ResendIntervalSecs int `yaml:"resend_interval_secs"`
	SessionTTLMins     int `yaml:"session_ttl_mins"`
	MinPasswordLength  int `yaml:"min_password_length"`
	MinUsernameLength  int `yaml:"min_username_length"`
}

// CodeTTL returns the verification code lifetime.
func (c AuthConfig) CodeTTL() time.Duration {
	return time.Duration(c.CodeTTLMins) * time.Minute
}

// ResendInterval returns the minimum interval between code resends.
func (c AuthConfig) ResendInterval() time.Duration {
	return time.Duration(c.ResendIntervalSecs) * time.Second
}

// SessionTTL returns the session lifetime.
func (c AuthConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMins) * time.Minute
}

// JITConfig holds just-in-time access policy knobs.
type JITConfig struct {
	MinDurationMins     int `yaml:"min_duration_mins"`
	MaxDurationMins     int `yaml:"max_duration_mins"`
	DefaultDurationMins int `yaml:"default_duration_mins"`
	SweepIntervalSecs   int `yaml:"sweep_interval_secs"`
}

// SweepInterval returns the reconciler pass interval.
func (c JITConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// HTTPConfig holds transport settings.
type HTTPConfig struct {
	Addr          string `yaml:"addr"`
	RatePerSecond int    `yaml:"rate_per_second"`
	RateBurst     int    `yaml:"rate_burst"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
}

// Config holds all application configuration.
type Config struct {
	PostgresDSN      string     `yaml:"postgres_dsn"`
	TokenSecret      string     `yaml:"token_secret"`
	StoreTimeoutSecs int        `yaml:"store_timeout_secs"`
	Auth             AuthConfig `yaml:"auth"`
	JIT              JITConfig  `yaml:"jit"`
	HTTP             HTTPConfig `yaml:"http"`
}

// StoreTimeout bounds every store round trip.
func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSecs) * time.Second
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.StoreTimeoutSecs == 0 {
		c.StoreTimeoutSecs = 5
	}
	if c.Auth.CodeLength == 0 {
		c.Auth.CodeLength = 6
	}
	if c.Auth.CodeTTLMins == 0 {
		c.Auth.CodeTTLMins = 10
	}
	if c.Auth.MaxTwoFactorTries == 0 {
		c.Auth.MaxTwoFactorTries = 3
	}
	if c.Auth.ResendIntervalSecs == 0 {
		c.Auth.ResendIntervalSecs = 60
	}
	if c.Auth.SessionTTLMins == 0 {
		c.Auth.SessionTTLMins = 30
	}
	if c.Auth.MinPasswordLength == 0 {
		c.Auth.MinPasswordLength = 8
	}
	if c.Auth.MinUsernameLength == 0 {
		c.Auth.MinUsernameLength = 3
	}
	if c.JIT.MinDurationMins == 0 {
		c.JIT.MinDurationMins = 1
	}
	if c.JIT.MaxDurationMins == 0 {
		c.JIT.MaxDurationMins = 120
	}
	if c.JIT.DefaultDurationMins == 0 {
		c.JIT.DefaultDurationMins = 15
	}
	if c.JIT.SweepIntervalSecs == 0 {
		c.JIT.SweepIntervalSecs = 60
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RatePerSecond == 0 {
		c.HTTP.RatePerSecond = 20
	}
	if c.HTTP.RateBurst == 0 {
		c.HTTP.RateBurst = 40
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = 1 << 20
	}
}

// Validate rejects inconsistent settings before the service starts.
func (c *Config) Validate() error {
	if c.JIT.MinDurationMins < 1 {
		return fmt.Errorf("jit.min_duration_mins must be >= 1, got %d", c.JIT.MinDurationMins)
	}
	if c.JIT.MaxDurationMins < c.JIT.MinDurationMins {
		return fmt.Errorf("jit.max_duration_mins %d below min %d", c.JIT.MaxDurationMins, c.JIT.MinDurationMins)
	}
	if c.JIT.DefaultDurationMins < c.JIT.MinDurationMins || c.JIT.DefaultDurationMins > c.JIT.MaxDurationMins {
		return fmt.Errorf("jit.default_duration_mins %d outside [%d,%d]", c.JIT.DefaultDurationMins, c.JIT.MinDurationMins, c.JIT.MaxDurationMins)
	}
	if c.Auth.MaxTwoFactorTries < 1 {
		return fmt.Errorf("auth.max_2fa_attempts must be >= 1, got %d", c.Auth.MaxTwoFactorTries)
	}
	return nil
}

// Load reads configuration from an optional YAML file, applies environment
// overrides, then defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SENTRA_PG_DSN")); v != "" {
		cfg.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("SENTRA_TOKEN_SECRET")); v != "" {
		cfg.TokenSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("SENTRA_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v, ok := envInt("SENTRA_SWEEP_INTERVAL_SECS"); ok {
		cfg.JIT.SweepIntervalSecs = v
	}
	if v, ok := envInt("SENTRA_MAX_2FA_ATTEMPTS"); ok {
		cfg.Auth.MaxTwoFactorTries = v
	}
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
