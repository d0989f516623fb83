package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/confessional/internal/validation"
)

// ストアのドライバー名
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverFile     = "file"
)

// DefaultTurnstileVerifyURL はCloudflare Turnstileのトークン検証エンドポイント。
const DefaultTurnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string `env:"SERVER_PORT" validate:"required,numeric"`
	BaseURL    string `env:"BASE_URL" validate:"required,url"`

	// Store
	StoreDriver string `env:"STORE_DRIVER" validate:"oneof=postgres sqlite file"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	SQLitePath  string `env:"SQLITE_PATH" validate:"required_if=StoreDriver sqlite"`
	DataFile    string `env:"DATA_FILE" validate:"required_if=StoreDriver file"`
	AutoMigrate bool   `env:"AUTO_MIGRATE"`

	// Upload
	UploadDir     string `env:"UPLOAD_DIR" validate:"required"`
	UploadMaxSize int64  `env:"UPLOAD_MAX_SIZE" validate:"gt=0"`

	// UploadSweepInterval は孤立画像クリーンアップの実行間隔。0で無効。
	UploadSweepInterval time.Duration `env:"UPLOAD_SWEEP_INTERVAL" validate:"gte=0"`
	UploadOrphanGrace   time.Duration `env:"UPLOAD_ORPHAN_GRACE" validate:"gt=0"`

	// Message
	MessageMaxLength int `env:"MESSAGE_MAX_LENGTH" validate:"gte=0"`

	// Abuse Gate
	AbuseWindow  time.Duration `env:"ABUSE_WINDOW" validate:"gt=0"`
	AbuseLimit   int           `env:"ABUSE_LIMIT" validate:"gte=1"`
	AbuseLogPath string        `env:"ABUSE_LOG_PATH" validate:"required"`

	// Rate Limit
	ReadRatePerMin    int  `env:"READ_RATE_PER_MIN" validate:"gte=1"`
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS"`

	// Turnstile
	TurnstileSecretKey string        `env:"TURNSTILE_SECRET_KEY" validate:"required"`
	TurnstileVerifyURL string        `env:"TURNSTILE_VERIFY_URL" validate:"required,url"`
	TurnstileTimeout   time.Duration `env:"TURNSTILE_TIMEOUT" validate:"gt=0"`
	ChallengeOnPost    bool          `env:"CHALLENGE_ON_POST"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.TurnstileSecretKey = os.Getenv("TURNSTILE_SECRET_KEY")
	if cfg.TurnstileSecretKey == "" {
		missing = append(missing, "TURNSTILE_SECRET_KEY")
	}

	cfg.StoreDriver = getEnvString("STORE_DRIVER", StoreDriverSQLite)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StoreDriver == StoreDriverPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "./data/confessional.db")
	cfg.DataFile = getEnvString("DATA_FILE", "./data/confessions.json")
	cfg.AutoMigrate = getEnvBool("AUTO_MIGRATE", true)
	cfg.UploadDir = getEnvString("UPLOAD_DIR", "./uploads")
	cfg.UploadMaxSize = getEnvInt64("UPLOAD_MAX_SIZE", 2<<20)
	cfg.UploadSweepInterval = getEnvDuration("UPLOAD_SWEEP_INTERVAL", 24*time.Hour)
	cfg.UploadOrphanGrace = getEnvDuration("UPLOAD_ORPHAN_GRACE", time.Hour)
	cfg.MessageMaxLength = getEnvInt("MESSAGE_MAX_LENGTH", 2000)
	cfg.AbuseWindow = getEnvDuration("ABUSE_WINDOW", 10*time.Second)
	cfg.AbuseLimit = getEnvInt("ABUSE_LIMIT", 5)
	cfg.AbuseLogPath = getEnvString("ABUSE_LOG_PATH", "./data/abuse.log")
	cfg.ReadRatePerMin = getEnvInt("READ_RATE_PER_MIN", 120)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.TurnstileVerifyURL = getEnvString("TURNSTILE_VERIFY_URL", DefaultTurnstileVerifyURL)
	cfg.TurnstileTimeout = getEnvDuration("TURNSTILE_TIMEOUT", 5*time.Second)
	cfg.ChallengeOnPost = getEnvBool("CHALLENGE_ON_POST", false)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if err := validation.Get().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
