package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Engine   EngineConfig   `yaml:"engine"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type CacheConfig struct {
	ProjectionTTL   time.Duration `yaml:"projection_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type EngineConfig struct {
	MaxCompositeDepth int      `yaml:"max_composite_depth"`
	TrackingWindows   []string `yaml:"tracking_windows"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			LogLevel:        "info",
			RateLimit:       100,
			RateBurst:       200,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "tripwire",
			Name:    "tripwire",
			SSLMode: "disable",
		},
		Cache: CacheConfig{
			ProjectionTTL:   time.Hour,
			RefreshInterval: 5 * time.Minute,
		},
		Engine: EngineConfig{
			MaxCompositeDepth: 5,
			TrackingWindows:   []string{"minute", "hour", "day"},
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; the defaults and
// environment carry a dev setup on their own.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.MaxCompositeDepth <= 0 {
		return fmt.Errorf("engine.max_composite_depth must be positive")
	}
	if c.Cache.ProjectionTTL <= 0 {
		return fmt.Errorf("cache.projection_ttl must be positive")
	}
	return nil
}
