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
	DatabaseURL         string
	DBMaxPoolSize       int
	DBConnectionTimeout time.Duration
	DBConnectRetries    int

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// Limits
	MaxMessageLength     int
	MaxRoomNameLength    int
	MaxUsernameLength    int
	MaxDisplayNameLength int

	// Rate Limit
	RateLimitGeneral        int // req/min/user
	RateLimitMessagesPerMin int
	RateLimitRoomsPerHour   int

	// WebSocket
	WSPingInterval   time.Duration
	WSPongTimeout    time.Duration
	WSSendBuffer     int
	WSMaxMessageSize int64
	EventTimeout     time.Duration

	// Logging
	LogLevel string

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

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxPoolSize = getEnvInt("DB_MAX_POOL_SIZE", 50)
	cfg.DBConnectionTimeout = getEnvDuration("DB_CONNECTION_TIMEOUT", 5*time.Second)
	cfg.DBConnectRetries = getEnvInt("DB_CONNECT_RETRIES", 5)
	cfg.JWTExpiration = getEnvDuration("JWT_EXPIRATION", 24*time.Hour)
	cfg.MaxMessageLength = getEnvInt("MAX_MESSAGE_LENGTH", 1000)
	cfg.MaxRoomNameLength = getEnvInt("MAX_ROOM_NAME_LENGTH", 50)
	cfg.MaxUsernameLength = getEnvInt("MAX_USERNAME_LENGTH", 30)
	cfg.MaxDisplayNameLength = getEnvInt("MAX_DISPLAY_NAME_LENGTH", 50)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMessagesPerMin = getEnvInt("RATE_LIMIT_MESSAGES_PER_MINUTE", 30)
	cfg.RateLimitRoomsPerHour = getEnvInt("RATE_LIMIT_ROOMS_PER_HOUR", 5)
	cfg.WSPingInterval = getEnvDuration("WS_PING_INTERVAL", 30*time.Second)
	cfg.WSPongTimeout = getEnvDuration("WS_PONG_TIMEOUT", 60*time.Second)
	cfg.WSSendBuffer = getEnvInt("WS_SEND_BUFFER", 64)
	cfg.WSMaxMessageSize = getEnvInt64("WS_MAX_MESSAGE_SIZE", 8192)
	cfg.EventTimeout = getEnvDuration("EVENT_TIMEOUT", 10*time.Second)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "5000")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	// ping間隔はpongタイムアウトより短くなければ接続が切断され続ける
	if cfg.WSPingInterval >= cfg.WSPongTimeout {
		return nil, fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_PONG_TIMEOUT (%s)", cfg.WSPingInterval, cfg.WSPongTimeout)
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
