package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration

	UpstreamURL     string
	UpstreamTimeout time.Duration

	SessionFile     string
	SessionStateKey []byte // 32-byte ChaCha20-Poly1305 key; empty disables encryption
	DatabaseURL     string // optional; switches the session store to Postgres
	DBMaxConns      int32
	DBMinConns      int32

	CookieName   string
	CookieTTL    time.Duration
	CookieSecure bool

	CORSOrigins      []string
	RateLimitRPM     int
	AuthRateLimitRPM int

	VerifyMaxTries      uint
	VerifyRetryInterval time.Duration
	LicensePollInterval time.Duration
	IdleTimeout         time.Duration

	ProxyMaxDuration time.Duration
	ProxyIdleTimeout time.Duration
}

// Load reads configuration from the environment, optionally seeded from an
// env file. Missing optional values fall back to defaults; invalid required
// values fail loudly here rather than at first use.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		ListenAddr:              getEnv("LISTEN_ADDR", ":8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),
		UpstreamURL:             strings.TrimRight(strings.TrimSpace(os.Getenv("UPSTREAM_URL")), "/"),
		UpstreamTimeout:         getDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		SessionFile:             getEnv("SESSION_FILE", "./state/session.json"),
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:              int32(getInt("DB_MAX_CONNS", 4)),
		DBMinConns:              int32(getInt("DB_MIN_CONNS", 1)),
		CookieName:              getEnv("COOKIE_NAME", "token"),
		CookieTTL:               getDuration("COOKIE_TTL", 168*time.Hour),
		CookieSecure:            getBool("COOKIE_SECURE", false),
		CORSOrigins:             splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:            getInt("RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM:        getInt("AUTH_RATE_LIMIT_RPM", 10),
		VerifyMaxTries:          uint(getInt("VERIFY_MAX_TRIES", 3)),
		VerifyRetryInterval:     getDuration("VERIFY_RETRY_INTERVAL", 500*time.Millisecond),
		LicensePollInterval:     getDuration("LICENSE_POLL_INTERVAL", 30*time.Second),
		IdleTimeout:             getDuration("IDLE_TIMEOUT", 0),
		ProxyMaxDuration:        getDuration("PROXY_MAX_DURATION", 10*time.Minute),
		ProxyIdleTimeout:        getDuration("PROXY_IDLE_TIMEOUT", 60*time.Second),
	}

	if key := strings.TrimSpace(os.Getenv("SESSION_STATE_KEY")); key != "" {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("SESSION_STATE_KEY must be hex-encoded: %w", err)
		}
		cfg.SessionStateKey = decoded
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	parsed, err := url.Parse(c.UpstreamURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("UPSTREAM_URL %q is not an absolute URL", c.UpstreamURL)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR cannot be empty")
	}

	if len(c.SessionStateKey) != 0 && len(c.SessionStateKey) != 32 {
		return fmt.Errorf("SESSION_STATE_KEY must decode to 32 bytes, got %d", len(c.SessionStateKey))
	}

	if c.CookieName == "" {
		return fmt.Errorf("COOKIE_NAME cannot be empty")
	}

	if c.DatabaseURL == "" && c.SessionFile == "" {
		return fmt.Errorf("SESSION_FILE is required when DATABASE_URL is not set")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
