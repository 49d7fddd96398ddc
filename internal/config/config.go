package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Webhook
	// WebhookAddress はプロバイダーが通知を送る公開URL。
	// 空の場合はプッシュ通知を使わずポーリングのみで同期する。
	WebhookAddress string

	// Sync
	PollInterval       time.Duration
	SweepInterval      time.Duration
	RenewalInterval    time.Duration
	RenewalLeadTime    time.Duration
	ChannelTTL         time.Duration
	PullWindowBack     time.Duration
	PullWindowForward  time.Duration
	TokenRefreshMargin time.Duration
	PollMaxConcurrent  int
	SweepBatchSize     int

	// Rate Limit
	RateLimitGeneral int
	RateLimitConnect int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.WebhookAddress = getEnvString("WEBHOOK_ADDRESS", "")
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", time.Minute)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 2*time.Minute)
	cfg.RenewalInterval = getEnvDuration("RENEWAL_INTERVAL", time.Hour)
	cfg.RenewalLeadTime = getEnvDuration("RENEWAL_LEAD_TIME", 12*time.Hour)
	cfg.ChannelTTL = getEnvDuration("CHANNEL_TTL", 7*24*time.Hour)
	cfg.PullWindowBack = getEnvDuration("PULL_WINDOW_BACK", 24*time.Hour)
	cfg.PullWindowForward = getEnvDuration("PULL_WINDOW_FORWARD", 7*24*time.Hour)
	cfg.TokenRefreshMargin = getEnvDuration("TOKEN_REFRESH_MARGIN", 5*time.Minute)
	cfg.PollMaxConcurrent = getEnvInt("POLL_MAX_CONCURRENT", 5)
	cfg.SweepBatchSize = getEnvInt("SWEEP_BATCH_SIZE", 100)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitConnect = getEnvInt("RATE_LIMIT_CONNECT", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	// チャネルTTLはプロバイダー上限（7日）を超えられない
	if cfg.ChannelTTL > 7*24*time.Hour {
		cfg.ChannelTTL = 7 * 24 * time.Hour
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
