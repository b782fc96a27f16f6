package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 保留アクションの保存先
const (
	IntentStorePostgres = "postgres"
	IntentStoreSQLite   = "sqlite"
	IntentStoreMemory   = "memory"
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

	// Session
	SessionSecret string
	SessionMaxAge int

	// Gate
	GatePolicyFile string

	// Intent
	IntentStore  string
	SQLitePath   string
	IntentMaxAge time.Duration

	// Engagement
	EngagementQueueSize     int
	EngagementCooldown      time.Duration
	EngagementRetentionDays int
	KafkaBrokers            []string
	KafkaEngagementTopic    string

	// Notification
	RabbitMQURL string
	NotifyQueue string

	// Avatar
	AvatarFetchTimeout time.Duration
	AvatarMaxSize      int64

	// Rate Limit
	RateLimitGeneral int
	RateLimitVote    int

	// Worker
	CleanupInterval time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

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

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.GatePolicyFile = getEnvString("GATE_POLICY_FILE", "")
	cfg.IntentStore = getEnvString("INTENT_STORE", IntentStorePostgres)
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "carelink-intents.db")
	cfg.IntentMaxAge = getEnvDuration("INTENT_MAX_AGE", 24*time.Hour)
	cfg.EngagementQueueSize = getEnvInt("ENGAGEMENT_QUEUE_SIZE", 1024)
	cfg.EngagementCooldown = getEnvDuration("ENGAGEMENT_COOLDOWN", time.Second)
	cfg.EngagementRetentionDays = getEnvInt("ENGAGEMENT_RETENTION_DAYS", 90)
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS")
	cfg.KafkaEngagementTopic = getEnvString("KAFKA_ENGAGEMENT_TOPIC", "engagement-events")
	cfg.RabbitMQURL = getEnvString("RABBITMQ_URL", "")
	cfg.NotifyQueue = getEnvString("NOTIFY_QUEUE", "email-requests")
	cfg.AvatarFetchTimeout = getEnvDuration("AVATAR_FETCH_TIMEOUT", 5*time.Second)
	cfg.AvatarMaxSize = getEnvInt64("AVATAR_MAX_SIZE", 2097152)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitVote = getEnvInt("RATE_LIMIT_VOTE", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	switch cfg.IntentStore {
	case IntentStorePostgres, IntentStoreSQLite, IntentStoreMemory:
	default:
		return nil, fmt.Errorf("INTENT_STORE must be one of postgres, sqlite, memory: %q", cfg.IntentStore)
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

// getEnvList はカンマ区切りの環境変数をスライスとして返す。空要素は除外する。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
