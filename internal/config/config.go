package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	DBDSN    string

	LogLevel  string
	LogFormat string
	LogOutput string

	JWTSecret      string
	SettingsSecret string

	// Provider defaults used when the settings table has no value
	DefaultBaseURL    string
	DefaultModel      string
	OpenRouterSiteURL string
	OpenRouterAppName string

	StreamReadTimeout time.Duration
	CBMaxFailures     uint32
	CBTimeout         time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// rabbitMQ
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	TracingEnabled  bool
	TracingExporter string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() Config {
	_ = godotenv.Load()

	// DSN demo：
	// sqlite://streamchat.db
	// app:apppass@tcp(127.0.0.1:3306)/streamchat?charset=utf8mb4&parseTime=true&loc=Local
	dsn := getEnv("DB_DSN", "sqlite://streamchat.db")

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	return Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DBDSN:    dsn,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogOutput: getEnv("LOG_OUTPUT", "stderr"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		SettingsSecret: os.Getenv("SETTINGS_SECRET"),

		DefaultBaseURL:    getEnv("DEFAULT_BASE_URL", "https://api.openai.com/v1/chat/completions"),
		DefaultModel:      getEnv("DEFAULT_MODEL", "gpt-3.5-turbo"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),

		StreamReadTimeout: getDuration("STREAM_READ_TIMEOUT", 2*time.Minute),
		CBMaxFailures:     uint32(getInt("CB_MAX_FAILURES", 5)),
		CBTimeout:         getDuration("CB_TIMEOUT", 30*time.Second),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       getEnv("RABBIT_QUEUE", "chat_streams"),
		WorkerConcurrency: workerConcurrency(),

		TracingEnabled:  getBool("TRACING_ENABLED", false),
		TracingExporter: getEnv("TRACING_EXPORTER", "stdout"),
	}
}

// Validate rejects combinations the processes cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("config: DB_DSN is required")
	}
	if c.CBMaxFailures == 0 {
		return fmt.Errorf("config: CB_MAX_FAILURES must be positive")
	}
	if c.StreamReadTimeout < 0 {
		return fmt.Errorf("config: STREAM_READ_TIMEOUT must not be negative")
	}
	return nil
}

func workerConcurrency() int {
	n := getInt("WORKER_CONCURRENCY", 2)
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
