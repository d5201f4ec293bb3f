package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Beacon CRM
	BeaconAPIToken  string
	BeaconAccountID string
	BeaconAPIURL    string

	// Sync
	SyncDailyCap     int
	SyncBatchSize    int
	SyncItemDelay    time.Duration
	SyncBatchDelay   time.Duration
	SyncTimeBudget   time.Duration
	SyncInterval     time.Duration
	LogRetentionDays int

	// Resolver
	ResolverCacheTTL        time.Duration
	BusinessDirectoryMarker string

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string

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

	cfg.BeaconAPIToken = os.Getenv("BEACON_API_TOKEN")
	if cfg.BeaconAPIToken == "" {
		missing = append(missing, "BEACON_API_TOKEN")
	}

	cfg.BeaconAccountID = os.Getenv("BEACON_ACCOUNT_ID")
	if cfg.BeaconAccountID == "" {
		missing = append(missing, "BEACON_ACCOUNT_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.BeaconAPIURL = getEnvString("BEACON_API_URL", "https://api.beaconcrm.org/v1")
	cfg.SyncDailyCap = getEnvInt("SYNC_DAILY_CAP", 300)
	cfg.SyncBatchSize = getEnvInt("SYNC_BATCH_SIZE", 3)
	cfg.SyncItemDelay = getEnvDuration("SYNC_ITEM_DELAY", 200*time.Millisecond)
	cfg.SyncBatchDelay = getEnvDuration("SYNC_BATCH_DELAY", 1*time.Second)
	cfg.SyncTimeBudget = getEnvDuration("SYNC_TIME_BUDGET", 25*time.Second)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 24*time.Hour)
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 7)
	cfg.ResolverCacheTTL = getEnvDuration("RESOLVER_CACHE_TTL", 30*time.Minute)
	cfg.BusinessDirectoryMarker = getEnvString("BUSINESS_DIRECTORY_MARKER", "Business Directory")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
