package config

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults with a minimal environment", func(t *testing.T) {
		t.Setenv("UPSTREAM_URL", "http://backend:8000")

		cfg, err := Load("")
		require.NoError(t, err)

		require.Equal(t, ":8080", cfg.ListenAddr)
		require.Equal(t, "http://backend:8000", cfg.UpstreamURL)
		require.Equal(t, "token", cfg.CookieName)
		require.Equal(t, 168*time.Hour, cfg.CookieTTL)
		require.Equal(t, 30*time.Second, cfg.LicensePollInterval)
		require.Empty(t, cfg.SessionStateKey)
		require.Empty(t, cfg.DatabaseURL)
	})

	t.Run("upstream URL is required", func(t *testing.T) {
		t.Setenv("UPSTREAM_URL", "")

		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("relative upstream URL is rejected", func(t *testing.T) {
		t.Setenv("UPSTREAM_URL", "/backend")

		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("trailing slash on the upstream URL is trimmed", func(t *testing.T) {
		t.Setenv("UPSTREAM_URL", "http://backend:8000/")

		cfg, err := Load("")
		require.NoError(t, err)
		require.Equal(t, "http://backend:8000", cfg.UpstreamURL)
	})

	t.Run("state key must be 32 hex-encoded bytes", func(t *testing.T) {
		t.Setenv("UPSTREAM_URL", "http://backend:8000")

		t.Setenv("SESSION_STATE_KEY", "not-hex")
		_, err := Load("")
		require.Error(t, err)

		t.Setenv("SESSION_STATE_KEY", "abcd")
		_, err = Load("")
		require.Error(t, err)

		key := make([]byte, 32)
		for i := range key {
			key[i] = byte(i)
		}
		t.Setenv("SESSION_STATE_KEY", hex.EncodeToString(key))
		cfg, err := Load("")
		require.NoError(t, err)
		require.Equal(t, key, cfg.SessionStateKey)
	})

	t.Run("durations and ints come from the environment", func(t *testing.T) {
		t.Setenv("UPSTREAM_URL", "http://backend:8000")
		t.Setenv("LICENSE_POLL_INTERVAL", "1m")
		t.Setenv("RATE_LIMIT_RPM", "60")
		t.Setenv("COOKIE_SECURE", "true")

		cfg, err := Load("")
		require.NoError(t, err)
		require.Equal(t, time.Minute, cfg.LicensePollInterval)
		require.Equal(t, 60, cfg.RateLimitRPM)
		require.True(t, cfg.CookieSecure)
	})

	t.Run("missing env file fails loudly", func(t *testing.T) {
		_, err := Load("/does/not/exist.env")
		require.Error(t, err)
	})
}
