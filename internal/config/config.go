package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "Tillbook"
	defaultAppEnv          = "development"
	defaultLogLevel        = "info"
	defaultConflictRetries = 3
	defaultBalanceCacheTTL = 30 * time.Second

	overdraftEnvVar       = "ALLOW_OVERDRAFT"
	conflictRetriesEnvVar = "CONFLICT_RETRIES"
	cacheTTLSecondsEnvVar = "BALANCE_CACHE_TTL_SECONDS"
	cacheTTLDurEnvVar     = "BALANCE_CACHE_TTL"
)

// Config captures runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	AppEnv          string
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	AllowOverdraft  bool
	ConflictRetries int
	BalanceCacheTTL time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. REDIS_URL is optional: without it the balance cache is disabled.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ConflictRetries: defaultConflictRetries,
		BalanceCacheTTL: defaultBalanceCacheTTL,
	}

	if v := os.Getenv(overdraftEnvVar); v != "" {
		allowed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", overdraftEnvVar, err)
		}
		cfg.AllowOverdraft = allowed
	}

	if v := os.Getenv(conflictRetriesEnvVar); v != "" {
		retries, err := strconv.Atoi(v)
		if err != nil || retries < 1 {
			return Config{}, fmt.Errorf("invalid %s: %q", conflictRetriesEnvVar, v)
		}
		cfg.ConflictRetries = retries
	}

	if v := os.Getenv(cacheTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", cacheTTLSecondsEnvVar, err)
		}
		cfg.BalanceCacheTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(cacheTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", cacheTTLDurEnvVar, err)
		}
		cfg.BalanceCacheTTL = d
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
