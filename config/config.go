package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":5000"`
	LogLevel   string `env:"LOG_LEVEL"   envDefault:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	BaseURL    string `env:"BASE_URL"    envDefault:"http://localhost:5000" validate:"url"`

	JWTSecret    string        `env:"JWT_SECRET"    validate:"required"`
	SessionTTL   time.Duration `env:"SESSION_TTL"   envDefault:"168h" validate:"gt=0"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"false"`

	// AuthProvider is detected from the configured credentials when empty.
	AuthProvider       string `env:"AUTH_PROVIDER" validate:"omitempty,oneof=google github oidc"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	OIDCIssuerURL      string `env:"OIDC_ISSUER_URL" validate:"omitempty,url"`
	OIDCClientID       string `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret   string `env:"OIDC_CLIENT_SECRET"`

	AllowedOrigins    []string `env:"ALLOWED_ORIGINS"      envDefault:"http://localhost:3000,http://localhost:5000" envSeparator:","`
	TypingScope       string   `env:"TYPING_SCOPE"         envDefault:"room" validate:"oneof=room global"`
	RequireSocketAuth bool     `env:"REQUIRE_SOCKET_AUTH"  envDefault:"true"`
	MaxHTTPBufferSize int64    `env:"MAX_HTTP_BUFFER_SIZE" envDefault:"1000000" validate:"gt=0"`

	StorageType      string `env:"STORAGE_TYPE"       envDefault:"memory" validate:"oneof=memory sqlite filesystem s3 redis"`
	DataSourceName   string `env:"DATA_SOURCE_NAME"   envDefault:"realtime-editor.db"`
	LocalStoragePath string `env:"LOCAL_STORAGE_PATH" envDefault:"./data"`
	S3BucketName     string `env:"S3_BUCKET_NAME"     validate:"required_if=StorageType s3"`
	RedisAddr        string `env:"REDIS_ADDR"         envDefault:"localhost:6379"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB"           envDefault:"0" validate:"min=0"`
}

// Load reads .env when present, then the environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AuthProvider == "" {
		cfg.AuthProvider = cfg.detectProvider()
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// detectProvider prefers OIDC, then GitHub, then Google, matching whichever
// credentials are present.
func (c *Config) detectProvider() string {
	switch {
	case c.OIDCIssuerURL != "" && c.OIDCClientID != "":
		return "oidc"
	case c.GitHubClientID != "" && c.GitHubClientSecret != "":
		return "github"
	default:
		return "google"
	}
}

// RedirectURL is the OAuth callback registered with the provider.
func (c *Config) RedirectURL() string {
	return c.BaseURL + "/auth/callback"
}
