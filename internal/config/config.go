package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// MariaDB接続設定
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// サーバー設定
	ServerPort   string
	Env          string
	MaxBodyBytes int64

	// CORS設定
	AllowedOrigins []string

	// ストレージ設定
	StoreBackend          string
	StoreWriteRetries     uint64
	StoreRetryMaxInterval time.Duration

	// リアルタイム配信設定
	HubQueueSize   int
	WSWriteTimeout time.Duration

	// 送信レート制限
	SendRateRPS   float64
	SendRateBurst int
}

// Storage backends
const (
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// Load loads configuration from environment variables
func Load() Config {
	cfg := Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),

		ServerPort:   getEnv("SERVER_PORT", "8080"),
		Env:          getEnv("ENV", "development"),
		MaxBodyBytes: int64(getInt("MAX_BODY_BYTES", 1<<20)),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000"), ","),

		StoreBackend:          strings.ToLower(getEnv("STORE_BACKEND", BackendMySQL)),
		StoreWriteRetries:     uint64(getInt("STORE_WRITE_RETRIES", 3)),
		StoreRetryMaxInterval: getDuration("STORE_RETRY_MAX_INTERVAL", 500*time.Millisecond),

		HubQueueSize:   getInt("HUB_QUEUE_SIZE", 64),
		WSWriteTimeout: getDuration("WS_WRITE_TIMEOUT", 10*time.Second),

		SendRateRPS:   getFloat("SEND_RATE_RPS", 5),
		SendRateBurst: getInt("SEND_RATE_BURST", 10),
	}

	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		log.Printf("⚠️  invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		log.Printf("⚠️  invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Printf("⚠️  invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
