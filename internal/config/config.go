package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service configuration, populated from the environment.
type Config struct {
	ServerPort string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Sync engine tuning.
	FetchTimeout      time.Duration // per-page HTTP request timeout
	RunTimeBudget     time.Duration // soft wall-clock budget for a whole run
	LeaseTTL          time.Duration // safety expiry on the per-source sync lease
	MaxFetchAttempts  int           // attempts per page for transient failures
	ConnTestTimeout   time.Duration // timeout for connection tests
	SchedulerEnabled  bool
}

// Load reads configuration from the environment, loading a .env file first if
// one is present. Missing values fall back to defaults suitable for local
// development.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "integration"),

		FetchTimeout:     getEnvDuration("SYNC_FETCH_TIMEOUT", 30*time.Second),
		RunTimeBudget:    getEnvDuration("SYNC_RUN_BUDGET", 10*time.Minute),
		LeaseTTL:         getEnvDuration("SYNC_LEASE_TTL", 15*time.Minute),
		MaxFetchAttempts: getEnvInt("SYNC_MAX_FETCH_ATTEMPTS", 3),
		ConnTestTimeout:  getEnvDuration("CONNECTION_TEST_TIMEOUT", 10*time.Second),
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid integer for %s: %q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Invalid boolean for %s: %q, using default %t", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid duration for %s: %q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}
