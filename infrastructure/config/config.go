package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the service, loaded from the
// environment (optionally seeded from a .env file).
type Config struct {
	// Upstream GLPI
	GLPIBaseURL   string
	GLPIAppToken  string
	GLPIUserToken string
	GLPIUsername  string
	GLPIPassword  string
	GLPITimeout   time.Duration

	// HTTP server
	ServerHost  string
	ServerPort  string
	Environment string

	// Dashboard API auth
	JWTSecret         string
	AccessTokenTTL    time.Duration
	DashboardUser     string
	DashboardPassHash string

	// Rate limiting (login endpoint)
	RateLimitEnabled       bool
	RedisURL               string
	RateLimitLoginAttempts int
	RateLimitLoginWindow   time.Duration
	RateLimitBlockDuration time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// CORS
	CORSEnabled        bool
	CORSAllowedOrigins []string
}

var (
	ErrMissingGLPIURL      = errors.New("GLPI_BASE_URL is required")
	ErrMissingGLPIAppToken = errors.New("GLPI_APP_TOKEN is required")
	ErrMissingGLPIAuth     = errors.New("GLPI_USER_TOKEN or GLPI_USERNAME/GLPI_PASSWORD is required")
	ErrMissingJWTSecret    = errors.New("JWT_SECRET is required")
)

// Load reads configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		GLPIBaseURL:   strings.TrimRight(os.Getenv("GLPI_BASE_URL"), "/"),
		GLPIAppToken:  os.Getenv("GLPI_APP_TOKEN"),
		GLPIUserToken: os.Getenv("GLPI_USER_TOKEN"),
		GLPIUsername:  os.Getenv("GLPI_USERNAME"),
		GLPIPassword:  os.Getenv("GLPI_PASSWORD"),
		GLPITimeout:   getEnvOrDefaultDuration("GLPI_TIMEOUT", 30*time.Second),

		ServerHost:  getEnvOrDefault("SERVER_HOST", "localhost"),
		ServerPort:  getEnvOrDefault("SERVER_PORT", "8080"),
		Environment: getEnvOrDefault("ENV", "development"),

		JWTSecret:         os.Getenv("JWT_SECRET"),
		AccessTokenTTL:    getEnvOrDefaultDuration("ACCESS_TOKEN_TTL", time.Hour),
		DashboardUser:     getEnvOrDefault("DASHBOARD_USER", "admin"),
		DashboardPassHash: os.Getenv("DASHBOARD_PASSWORD_HASH"),

		RateLimitEnabled:       getEnvOrDefaultBool("RATE_LIMIT_ENABLED", false),
		RedisURL:               getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		RateLimitLoginAttempts: getEnvOrDefaultInt("RATE_LIMIT_LOGIN_ATTEMPTS", 10),
		RateLimitLoginWindow:   getEnvOrDefaultDuration("RATE_LIMIT_LOGIN_WINDOW", 15*time.Minute),
		RateLimitBlockDuration: getEnvOrDefaultDuration("RATE_LIMIT_BLOCK_DURATION", time.Hour),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		CORSEnabled:        getEnvOrDefaultBool("CORS_ENABLED", false),
		CORSAllowedOrigins: getEnvOrDefaultSlice("CORS_ALLOWED_ORIGINS", nil),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GLPIBaseURL == "" {
		return ErrMissingGLPIURL
	}
	if c.GLPIAppToken == "" {
		return ErrMissingGLPIAppToken
	}
	if c.GLPIUserToken == "" && (c.GLPIUsername == "" || c.GLPIPassword == "") {
		return ErrMissingGLPIAuth
	}
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvOrDefaultSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}
