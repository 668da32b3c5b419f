// Package config centralizes environment configuration so main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends the server can run on.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Server captures the full server configuration.
type Server struct {
	Addr     string
	LogLevel string

	// StoreBackend selects the state store: memory, file, or postgres.
	StoreBackend string
	// StateDir is the capsule workspace root for the file backend.
	StateDir string
	// PostgresDSN connects the postgres backend and the durable evidence log.
	PostgresDSN string

	Redis RedisConfig
	Kafka KafkaConfig

	// LockTTL bounds how long a crashed worker can hold a capsule lock.
	LockTTL         time.Duration
	ShutdownTimeout time.Duration
}

// RedisConfig configures the distributed capsule lock.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the evidence-log Kafka sink. Empty brokers disable
// the sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:         envOr("CAPSTATE_ADDR", ":8080"),
		LogLevel:     envOr("CAPSTATE_LOG_LEVEL", "info"),
		StoreBackend: envOr("CAPSTATE_STORE", StoreMemory),
		StateDir:     envOr("CAPSTATE_STATE_DIR", "./capsules"),
		PostgresDSN:  os.Getenv("CAPSTATE_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("CAPSTATE_REDIS_URL"),
			PoolSize:     envIntOr("CAPSTATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("CAPSTATE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("CAPSTATE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("CAPSTATE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("CAPSTATE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("CAPSTATE_KAFKA_BROKERS"),
			Topic:   envOr("CAPSTATE_KAFKA_TOPIC", "capstate.evidence"),
		},
		LockTTL:         envDurationOr("CAPSTATE_LOCK_TTL", 2*time.Minute),
		ShutdownTimeout: envDurationOr("CAPSTATE_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
