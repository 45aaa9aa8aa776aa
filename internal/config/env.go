package config

import (
	"os"
	"strconv"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("TRIPWIRE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if logLevel := os.Getenv("TRIPWIRE_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	// Database settings
	if host := os.Getenv("TRIPWIRE_DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("TRIPWIRE_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if user := os.Getenv("TRIPWIRE_DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if password := os.Getenv("TRIPWIRE_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if name := os.Getenv("TRIPWIRE_DB_NAME"); name != "" {
		cfg.Database.Name = name
	}
	if sslMode := os.Getenv("TRIPWIRE_DB_SSLMODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
