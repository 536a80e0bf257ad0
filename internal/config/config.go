package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all static configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
// Settings operators flip at runtime (engine, auto-download, routing ids)
// live in the settings file instead, see RuntimeStore.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	// Database
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	MigrationsPath string

	// Runtime settings file (YAML or JSON), watched for changes
	SettingsPath string

	// Primary platform
	DiscordToken string

	// Secondary platform
	TelegramToken       string
	TelegramChatID      int64
	TelegramPollTimeout time.Duration

	// Queue processor
	QueueTickInterval time.Duration
	QueueBatchSize    int
	QueueMaxAttempts  int

	// Download engines
	EngineHTTPTimeout time.Duration
	EngineMinBytes    int
	YtDlpBinary       string
	CobaltAPIURL      string
	CobaltAPIKey      string

	// Outbound rate limits: messages per second per platform
	PrimaryRateLimit   int
	SecondaryRateLimit int

	// Optional media archive (disabled when MinIOEndpoint is empty)
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
	MinIOBucket    string
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	chatID, err := getInt64("TELEGRAM_CHAT_ID", 0)
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		DatabaseURL:    dbURL,
		DBMaxConns:     int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:     int32(getInt("DB_MIN_CONNS", 2)),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "file://migrations"),

		SettingsPath: getEnv("SETTINGS_PATH", "./settings.yaml"),

		DiscordToken: os.Getenv("DISCORD_TOKEN"),

		TelegramToken:       os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:      chatID,
		TelegramPollTimeout: getDuration("TELEGRAM_POLL_TIMEOUT", 10*time.Second),

		QueueTickInterval: getDuration("QUEUE_TICK_INTERVAL", 5*time.Second),
		QueueBatchSize:    getInt("QUEUE_BATCH_SIZE", 5),
		QueueMaxAttempts:  getInt("QUEUE_MAX_ATTEMPTS", 3),

		EngineHTTPTimeout: getDuration("ENGINE_HTTP_TIMEOUT", 60*time.Second),
		EngineMinBytes:    getInt("ENGINE_MIN_BYTES", 10*1024),
		YtDlpBinary:       getEnv("YTDLP_BINARY", "yt-dlp"),
		CobaltAPIURL:      os.Getenv("COBALT_API_URL"),
		CobaltAPIKey:      os.Getenv("COBALT_API_KEY"),

		PrimaryRateLimit:   getInt("PRIMARY_RATE_LIMIT", 5),
		SecondaryRateLimit: getInt("SECONDARY_RATE_LIMIT", 1),

		MinIOEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinIOUseSSL:    getBool("MINIO_USE_SSL", false),
		MinIOBucket:    getEnv("MINIO_BUCKET", "relay-media"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
