package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// DatabaseURL selects the Postgres store; empty keeps the fleet in memory.
	DatabaseURL string
	DBMigrate   bool

	SeedOnStart     bool
	SimAutostart    bool
	SimTickInterval time.Duration
	SimErrorBackoff time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string

	InsightAPIURL  string
	InsightAPIKey  string
	InsightModel   string
	InsightTimeout time.Duration
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		CORSOrigins:     getCSVEnv("CORS_ORIGINS", []string{"*"}),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMigrate:   getBoolEnv("DB_MIGRATE", true),

		SeedOnStart:     getBoolEnv("SEED_ON_START", true),
		SimAutostart:    getBoolEnv("SIM_AUTOSTART", false),
		SimTickInterval: getDurationEnv("SIM_TICK_INTERVAL", 3*time.Second),
		SimErrorBackoff: getDurationEnv("SIM_ERROR_BACKOFF", 5*time.Second),

		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "busfleet.location"),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDurationEnv("CACHE_TTL", 10*time.Minute),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST", nil),

		InsightAPIURL:  getEnv("INSIGHT_API_URL", ""),
		InsightAPIKey:  getEnv("INSIGHT_API_KEY", ""),
		InsightModel:   getEnv("INSIGHT_MODEL", "gpt-4o-mini"),
		InsightTimeout: getDurationEnv("INSIGHT_TIMEOUT", 30*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	positive := []struct {
		key string
		val time.Duration
	}{
		{"READ_TIMEOUT", c.ReadTimeout},
		{"WRITE_TIMEOUT", c.WriteTimeout},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
		{"SIM_TICK_INTERVAL", c.SimTickInterval},
		{"SIM_ERROR_BACKOFF", c.SimErrorBackoff},
		{"CACHE_TTL", c.CacheTTL},
		{"RATE_LIMIT_WINDOW", c.RateLimitWindow},
		{"INSIGHT_TIMEOUT", c.InsightTimeout},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.key, p.val)
		}
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must not be negative, got %d", c.RedisDB)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Unparseable values fall back to the default, as with the other getters.
func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string, defaultVal []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	return result
}
