package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func env(vals map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	content := `
http:
  addr: ":9000"
auth:
  jwt_secret: "` + testSecret + `"
  access_token_validity_minutes: 5
cleanup:
  schedule: "*/10 * * * *"
mail:
  driver: ses
  region: eu-west-1
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("EASYFORNET_HTTP_ADDR", ":9100")
	t.Setenv("EASYFORNET_AUTH_REFRESH_TOKEN_VALIDITY_HOURS", "24")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL())
	assert.Equal(t, 24*time.Hour, cfg.Auth.RefreshTTL())
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL())
	assert.Equal(t, "ses", cfg.Mail.Driver)
	assert.Equal(t, "easyfornet", cfg.Auth.Issuer)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestDefaultsNeedSecret(t *testing.T) {
	err := Default().Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "jwt_secret")

	cfg := Default()
	cfg.Auth.JWTSecret = testSecret
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"schedule", func(c *Config) { c.Cleanup.Schedule = "every tuesday" }, "cleanup.schedule"},
		{"schedule ignored when disabled", func(c *Config) { c.Cleanup.Enabled = false; c.Cleanup.Schedule = "bad" }, ""},
		{"access ttl", func(c *Config) { c.Auth.AccessTokenValidityMinutes = 0 }, "access_token_validity_minutes"},
		{"mail driver", func(c *Config) { c.Mail.Driver = "smtp" }, "mail.driver"},
		{"ses region", func(c *Config) { c.Mail.Driver = "ses" }, "mail.region"},
		{"rate limit", func(c *Config) { c.RateLimit.Burst = -1 }, "rate_limit"},
		{"trusted proxy", func(c *Config) { c.HTTP.TrustedProxies = []string{"10.0.0.0/8", "lb.internal"} }, "http.trusted_proxies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = testSecret
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvOverridesParseTypes(t *testing.T) {
	cfg := Default()
	err := applyEnvOverrides(&cfg, env(map[string]string{
		"EASYFORNET_AUTH_REQUIRE_VERIFIED_EMAIL": "true",
		"EASYFORNET_RATE_LIMIT_PER_SECOND":       "2.5",
		"EASYFORNET_HTTP_ALLOWED_ORIGINS":        "https://a.example, https://b.example,",
	}))
	require.NoError(t, err)
	assert.True(t, cfg.Auth.RequireVerifiedEmail)
	assert.InDelta(t, 2.5, cfg.RateLimit.PerSecond, 0.0001)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)

	err = applyEnvOverrides(&cfg, env(map[string]string{"EASYFORNET_HTTP_TRUSTED_PROXIES": "10.0.0.0/8, 192.168.1.7"}))
	require.NoError(t, err)
	prefixes := cfg.HTTP.TrustedProxyPrefixes()
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.168.1.7/32", prefixes[1].String())

	err = applyEnvOverrides(&cfg, env(map[string]string{"EASYFORNET_RATE_LIMIT_BURST": "lots"}))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "EASYFORNET_RATE_LIMIT_BURST")
}
