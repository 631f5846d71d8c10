package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetBoolEnv returns a bool environment variable or a default value.
func GetBoolEnv(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defaultVal
}

// GetDurationEnv parses values such as "15s" or "2m".
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

// GetListEnv splits a comma separated variable, dropping empty items.
func GetListEnv(key string) []string {
	raw := GetEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsProduction checks if the app runs in production mode.
func IsProduction() bool {
	return GetEnv("ENV", "development") == "production"
}

type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// AppConfig is the process wide configuration, built once at startup.
type AppConfig struct {
	Env         string
	Port        string
	ServiceName string
	JWTSecret   string
	CORSOrigins string

	DB    DBConfig
	Redis RedisConfig

	// ProviderTimeout bounds every outbound provider call.
	ProviderTimeout time.Duration
	// CompletionLease is how long a session completion claim is honoured.
	// It must stay above ProviderTimeout.
	CompletionLease time.Duration
	WebhookDedupeTTL time.Duration

	Providers []ProviderConfig
}

func Load() *AppConfig {
	cfg := &AppConfig{
		Env:         GetEnv("ENV", "development"),
		Port:        GetEnv("PORT", "3000"),
		ServiceName: GetEnv("SERVICE_NAME", "paybroker"),
		JWTSecret:   GetEnv("JWT_SECRET", "paybroker"),
		CORSOrigins: GetEnv("CORS_ORIGINS", "http://localhost:5173"),
		DB: DBConfig{
			Host:            GetEnv("DB_HOST", "localhost"),
			Port:            GetEnv("DB_PORT", "5432"),
			User:            GetEnv("DB_USER", "postgres"),
			Password:        GetEnv("DB_PASSWORD", "postgres"),
			Name:            GetEnv("DB_NAME", "paybroker"),
			SSLMode:         GetEnv("DB_SSLMODE", "disable"),
			MaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetIntEnv("REDIS_DB", 0),
		},
		ProviderTimeout:  GetDurationEnv("PROVIDER_TIMEOUT", 15*time.Second),
		CompletionLease:  GetDurationEnv("SESSION_COMPLETION_LEASE", 2*time.Minute),
		WebhookDedupeTTL: GetDurationEnv("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
	}
	if cfg.CompletionLease <= cfg.ProviderTimeout {
		cfg.CompletionLease = 2 * cfg.ProviderTimeout
	}
	cfg.Providers = LoadProviderConfigs()
	return cfg
}
