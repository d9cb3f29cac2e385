package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB        DBConfig
	Server    ServerConfig
	Security  SecurityConfig
	WebAuthn  WebAuthnConfig
	RateLimit RateLimitConfig
}

type DBConfig struct {
	// Driver selects sqlite (default, single-node deployments) or
	// postgres.
	Driver   string
	Path     string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type ServerConfig struct {
	Port string
}

type SecurityConfig struct {
	// Secret keys both the TOTP-secret encryption and reset tokens.
	Secret string
}

type WebAuthnConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigin      string
}

type RateLimitConfig struct {
	Window      time.Duration
	MaxAttempts int
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("DB_PATH", "pmjsecure.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "pmjsecure"),
			Password: getEnv("DB_PASSWORD", "pmjsecure_secret"),
			Name:     getEnv("DB_NAME", "pmjsecure"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Security: SecurityConfig{
			Secret: getEnv("APP_SECRET", "change-me-in-production"),
		},
		WebAuthn: WebAuthnConfig{
			RPID:          getEnv("RP_ID", "localhost"),
			RPDisplayName: getEnv("RP_DISPLAY_NAME", "PMJ Secure"),
			RPOrigin:      getEnv("RP_ORIGIN", "http://localhost:8080"),
		},
		RateLimit: RateLimitConfig{
			Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			MaxAttempts: getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
