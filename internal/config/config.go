// Package config loads chatserver configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds chatserver configuration loaded from environment variables.
type Config struct {
	Env            string
	ListenAddr     string
	MetricsAddr    string
	ServerName     string
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TypingTimeout  time.Duration
	PostgresDSN    string
	RedisAddr      string
	NatsURL        string
}

// Load parses environment variables into a Config struct.
func Load() (Config, error) {
	cfg := Config{
		Env:            getEnv("APP_ENV", "dev"),
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		PostgresDSN:    strings.TrimSpace(getEnv("POSTGRES_DSN", "postgres://localhost:5432/listingchat?sslmode=disable")),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		NatsURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		WorkerPoolSize: parseIntWithDefault(os.Getenv("WORKER_POOL_SIZE"), 256),
		MaxConnections: parseIntWithDefault(os.Getenv("MAX_CONNECTIONS"), 100000),
	}
	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("POSTGRES_DSN is required")
	}

	serverName := strings.TrimSpace(os.Getenv("SERVER_NAME"))
	if serverName == "" {
		serverName, _ = os.Hostname()
	}
	if serverName == "" {
		serverName = "chat-1"
	}
	cfg.ServerName = serverName

	var err error
	if cfg.ReadTimeout, err = parseDuration("READ_TIMEOUT", "10s"); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = parseDuration("WRITE_TIMEOUT", "10s"); err != nil {
		return Config{}, err
	}
	if cfg.TypingTimeout, err = parseDuration("TYPING_TIMEOUT", "7s"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return dur, nil
}

func parseIntWithDefault(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
