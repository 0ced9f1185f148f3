package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIToken は API_TOKEN 未設定時のトークン。公開済みの値のため本番では必ず上書きする。
const DefaultAPIToken = "meuTokenSecreto123"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort     string
	MaxConnections int

	// Auth
	APIToken string

	// Gateway
	CommandTimeout    time.Duration
	ReadRequiresReady bool

	// Device store
	StoreDialect string
	StoreDSN     string

	// WhatsApp
	QRTerminal     bool
	HistoryPerChat int

	// CORS
	CORSAllowedOrigin string

	// Rate Limit
	RateLimitPerMin int

	// Logging
	LogLevel string
}

// UsesDefaultToken は公開済みのデフォルトトークンで起動しているかを返す。
func (c *Config) UsesDefaultToken() bool {
	return c.APIToken == DefaultAPIToken
}

// Load は環境変数からConfigを読み込む。
// 列挙値が不正な場合と API_TOKEN が空白のみの場合はエラーを返す。
// 数値・期間の不正値はデフォルトにフォールバックする。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = getEnvString("PORT", "3000")
	cfg.MaxConnections = getEnvInt("MAX_CONNECTIONS", 256)
	cfg.APIToken = getEnvString("API_TOKEN", DefaultAPIToken)
	cfg.CommandTimeout = getEnvDuration("COMMAND_TIMEOUT", 30*time.Second)
	cfg.ReadRequiresReady = getEnvBool("READ_REQUIRES_READY", true)
	cfg.StoreDialect = getEnvString("STORE_DIALECT", "sqlite3")
	cfg.StoreDSN = getEnvString("STORE_DSN", "file:wabridge.db?_foreign_keys=on")
	cfg.QRTerminal = getEnvBool("QR_TERMINAL", true)
	cfg.HistoryPerChat = getEnvInt("HISTORY_PER_CHAT", 50)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.RateLimitPerMin = getEnvInt("RATE_LIMIT_PER_MIN", 120)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	var invalid []string

	if strings.TrimSpace(cfg.APIToken) == "" {
		invalid = append(invalid, "API_TOKEN")
	}
	switch cfg.StoreDialect {
	case "sqlite3", "postgres":
	default:
		invalid = append(invalid, "STORE_DIALECT")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		invalid = append(invalid, "LOG_LEVEL")
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", invalid)
	}

	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	if cfg.HistoryPerChat <= 0 {
		cfg.HistoryPerChat = 50
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
