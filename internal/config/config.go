package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	SessionBackendRedis    = "redis"
	SessionBackendPostgres = "postgres"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	TwitchClientID     string `env:"TWITCH_CLIENT_ID,required"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET,required"`
	TwitchRedirectURI  string `env:"TWITCH_REDIRECT_URI,required"`
	TwitchAuthBaseURL  string `env:"TWITCH_AUTH_BASE_URL" envDefault:"https://id.twitch.tv/oauth2/"`
	TwitchAPIBaseURL   string `env:"TWITCH_API_BASE_URL" envDefault:"https://api.twitch.tv/helix/"`
	TwitchScope        string `env:"TWITCH_SCOPE" envDefault:"user_read"`

	CallbackBaseURL      string `env:"CALLBACK_BASE_URL,required"`
	LeaseSeconds         int    `env:"LEASE_SECONDS" envDefault:"1000"`
	APITimeoutSeconds    int    `env:"API_TIMEOUT_SECONDS" envDefault:"90"`
	SubscribeUserChanges bool   `env:"SUBSCRIBE_USER_CHANGES" envDefault:"false"`

	SessionBackend    string `env:"SESSION_BACKEND" envDefault:"redis"`
	RedisURL          string `env:"REDIS_URL"`
	DatabaseURL       string `env:"DATABASE_URL"`
	SessionTTLSeconds int    `env:"SESSION_TTL_SECONDS" envDefault:"86400"`
	EncryptionKey     string `env:"ENCRYPTION_KEY"`

	CallbackRateLimitPerMin int      `env:"CALLBACK_RATE_LIMIT_PER_MIN" envDefault:"120"`
	AllowedOrigins          []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CallbackPath is the local route prefix the hub calls back on, taken from CallbackBaseURL.
func (c *Config) CallbackPath() string {
	parsed, err := url.Parse(c.CallbackBaseURL)
	if err != nil {
		return ""
	}
	path := strings.TrimRight(parsed.Path, "/")
	if path == "" {
		return ""
	}
	return path
}

func (c *Config) Validate(isProduction bool) error {
	switch c.SessionBackend {
	case SessionBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_BACKEND=redis")
		}
	case SessionBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q", SessionBackendRedis, SessionBackendPostgres, c.SessionBackend)
	}

	callback, err := url.Parse(c.CallbackBaseURL)
	if err != nil || (callback.Scheme != "http" && callback.Scheme != "https") || callback.Host == "" {
		return fmt.Errorf("CALLBACK_BASE_URL must be an absolute http(s) URL")
	}
	if c.CallbackPath() == "" {
		return fmt.Errorf("CALLBACK_BASE_URL must include a path, e.g. https://host/callback")
	}

	if c.LeaseSeconds <= 0 {
		return fmt.Errorf("LEASE_SECONDS must be positive")
	}

	if isProduction {
		if callback.Scheme != "https" {
			log.Warn().Msg("CALLBACK_BASE_URL is not https in production: the hub will refuse some topics")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: access tokens are stored in plain text")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
