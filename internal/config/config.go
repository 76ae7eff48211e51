package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// 資格情報ストアのバックエンド。
const (
	CredentialStoreMemory   = "memory"
	CredentialStorePostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"    envDefault:"http://localhost:8080"`

	// OAuth（未設定の場合、Googleログインは失敗として扱う）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Storage
	LocalStoragePath string `env:"LOCAL_STORAGE_PATH" envDefault:"portal.db"`
	CredentialStore  string `env:"CREDENTIAL_STORE"   envDefault:"memory"`
	DatabaseURL      string `env:"DATABASE_URL"`
	SeedMockUsers    bool   `env:"SEED_MOCK_USERS"    envDefault:"true"`

	// Notification
	NotificationDuration time.Duration `env:"NOTIFICATION_DURATION" envDefault:"2s"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH"    envDefault:"10"`

	// Navigation
	LoginPath string `env:"LOGIN_PATH" envDefault:"/login"`
	HomePath  string `env:"HOME_PATH"  envDefault:"/home"`

	// Cookie（CookieSecureはBASE_URLのスキームから決まる）
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS（空の場合は同一オリジンのみ）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// Logging（debug/info/warn/error）
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 値が解析できない場合や組み合わせが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GoogleConfigured はGoogle OAuthの資格情報が揃っているかを返す。
func (c *Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func (c *Config) validate() error {
	var problems []string

	switch c.CredentialStore {
	case CredentialStoreMemory:
	case CredentialStorePostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required when CREDENTIAL_STORE=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("CREDENTIAL_STORE must be %q or %q, got %q",
			CredentialStoreMemory, CredentialStorePostgres, c.CredentialStore))
	}
	if c.LocalStoragePath == "" {
		problems = append(problems, "LOCAL_STORAGE_PATH must not be empty")
	}
	if c.NotificationDuration <= 0 {
		problems = append(problems, "NOTIFICATION_DURATION must be positive")
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		problems = append(problems, "RATE_LIMIT_GENERAL and RATE_LIMIT_AUTH must be positive")
	}
	if !strings.HasPrefix(c.LoginPath, "/") || !strings.HasPrefix(c.HomePath, "/") {
		problems = append(problems, "LOGIN_PATH and HOME_PATH must be absolute paths")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
