// Package config loads service configuration from an optional YAML file with
// EASYFORNET_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const envPrefix = "EASYFORNET_"

// Config is the root configuration structure.
type Config struct {
	App       AppConfig       `yaml:"app"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Seed      SeedConfig      `yaml:"seed"`
	Mail      MailConfig      `yaml:"mail"`
}

type AppConfig struct {
	BaseURL string `yaml:"base_url"`
}

type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
	ShutdownSeconds int      `yaml:"shutdown_seconds"`
	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds the Postgres DSN and pool tuning.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMinutes int    `yaml:"conn_max_idle_time_minutes"`
	MigrateOnStart         bool   `yaml:"migrate_on_start"`
}

// AuthConfig controls token signing and lifetimes.
type AuthConfig struct {
	JWTSecret                  string `yaml:"jwt_secret"`
	Issuer                     string `yaml:"issuer"`
	AccessTokenValidityMinutes int    `yaml:"access_token_validity_minutes"`
	RefreshTokenValidityHours  int    `yaml:"refresh_token_validity_hours"`
	TokenValidityMinutes       int    `yaml:"token_validity_minutes"`
	RequireVerifiedEmail       bool   `yaml:"require_verified_email"`
}

type CleanupConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// SeedConfig names the default administrator created on first boot.
type SeedConfig struct {
	AdminUsername string `yaml:"admin_username"`
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// MailConfig selects how single-use tokens are delivered.
type MailConfig struct {
	Driver string `yaml:"driver"`
	From   string `yaml:"from"`
	Region string `yaml:"region"`
}

// Default returns a Config with development defaults.
func Default() Config {
	return Config{
		App: AppConfig{BaseURL: "http://localhost:8080"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			MaxBodyBytes:    1 << 20,
			ShutdownSeconds: 15,
		},
		GRPC: GRPCConfig{Addr: ":9090"},
		Database: DatabaseConfig{
			MaxOpenConns:           50,
			MaxIdleConns:           25,
			ConnMaxLifetimeMinutes: 15,
			ConnMaxIdleTimeMinutes: 5,
			MigrateOnStart:         true,
		},
		Auth: AuthConfig{
			Issuer:                     "easyfornet",
			AccessTokenValidityMinutes: 15,
			RefreshTokenValidityHours:  168,
			TokenValidityMinutes:       60,
		},
		Cleanup:   CleanupConfig{Enabled: true, Schedule: "@daily"},
		RateLimit: RateLimitConfig{PerSecond: 20, Burst: 40},
		Log:       LogConfig{Level: "info"},
		Seed: SeedConfig{
			AdminUsername: "admin",
			AdminEmail:    "admin@localhost.localdomain",
		},
		Mail: MailConfig{Driver: "log", From: "no-reply@localhost.localdomain"},
	}
}

// Load reads path when it is non-empty, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides maps EASYFORNET_SECTION_KEY variables onto cfg.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("APP_BASE_URL", &cfg.App.BaseURL)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	if v, ok := lookup(envPrefix + "HTTP_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup(envPrefix + "HTTP_TRUSTED_PROXIES"); ok && v != "" {
		cfg.HTTP.TrustedProxies = splitList(v)
	}
	str("GRPC_ADDR", &cfg.GRPC.Addr)
	str("DATABASE_DSN", &cfg.Database.DSN)
	num("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	flag("DATABASE_MIGRATE_ON_START", &cfg.Database.MigrateOnStart)
	str("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("AUTH_ISSUER", &cfg.Auth.Issuer)
	num("AUTH_ACCESS_TOKEN_VALIDITY_MINUTES", &cfg.Auth.AccessTokenValidityMinutes)
	num("AUTH_REFRESH_TOKEN_VALIDITY_HOURS", &cfg.Auth.RefreshTokenValidityHours)
	num("AUTH_TOKEN_VALIDITY_MINUTES", &cfg.Auth.TokenValidityMinutes)
	flag("AUTH_REQUIRE_VERIFIED_EMAIL", &cfg.Auth.RequireVerifiedEmail)
	flag("CLEANUP_ENABLED", &cfg.Cleanup.Enabled)
	str("CLEANUP_SCHEDULE", &cfg.Cleanup.Schedule)
	num("RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	if v, ok := lookup(envPrefix + "RATE_LIMIT_PER_SECOND"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sRATE_LIMIT_PER_SECOND: %v", envPrefix, err))
		} else {
			cfg.RateLimit.PerSecond = f
		}
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("SEED_ADMIN_USERNAME", &cfg.Seed.AdminUsername)
	str("SEED_ADMIN_EMAIL", &cfg.Seed.AdminEmail)
	str("SEED_ADMIN_PASSWORD", &cfg.Seed.AdminPassword)
	str("MAIL_DRIVER", &cfg.Mail.Driver)
	str("MAIL_FROM", &cfg.Mail.From)
	str("MAIL_REGION", &cfg.Mail.Region)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []string

	const minJWTSecretLength = 32
	if len(c.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "auth.jwt_secret must be at least 32 characters (set EASYFORNET_AUTH_JWT_SECRET)")
	}
	if c.Auth.AccessTokenValidityMinutes <= 0 {
		errs = append(errs, "auth.access_token_validity_minutes must be positive")
	}
	if c.Auth.RefreshTokenValidityHours <= 0 {
		errs = append(errs, "auth.refresh_token_validity_hours must be positive")
	}
	if c.Auth.TokenValidityMinutes <= 0 {
		errs = append(errs, "auth.token_validity_minutes must be positive")
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}
	for _, p := range c.HTTP.TrustedProxies {
		if _, err := parsePrefix(p); err != nil {
			errs = append(errs, fmt.Sprintf("http.trusted_proxies: %v", err))
		}
	}
	if c.Cleanup.Enabled {
		if _, err := cron.ParseStandard(c.Cleanup.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("cleanup.schedule: %v", err))
		}
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, "rate_limit values must not be negative")
	}
	switch c.Mail.Driver {
	case "log":
	case "ses":
		if c.Mail.Region == "" {
			errs = append(errs, "mail.region is required for the ses driver")
		}
		if c.Mail.From == "" {
			errs = append(errs, "mail.from is required for the ses driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("mail.driver %q is not supported", c.Mail.Driver))
	}
	if c.Seed.AdminUsername == "" {
		errs = append(errs, "seed.admin_username is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// TrustedProxyPrefixes returns the parsed trusted proxies, skipping invalid
// entries that Validate reports.
func (c HTTPConfig) TrustedProxyPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		if prefix, err := parsePrefix(p); err == nil {
			out = append(out, prefix)
		}
	}
	return out
}

// parsePrefix accepts a CIDR or a bare address.
func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
}

func (c AuthConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenValidityMinutes) * time.Minute
}

func (c AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenValidityHours) * time.Hour
}

func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenValidityMinutes) * time.Minute
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

func (c DatabaseConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTimeMinutes) * time.Minute
}

func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
