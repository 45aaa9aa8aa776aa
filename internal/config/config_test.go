package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, time.Hour, cfg.Cache.ProjectionTTL)
		assert.Equal(t, 5, cfg.Engine.MaxCompositeDepth)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
  log_level: debug
engine:
  max_composite_depth: 3
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9999, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Server.LogLevel)
		assert.Equal(t, 3, cfg.Engine.MaxCompositeDepth)
		// Untouched sections keep their defaults.
		assert.Equal(t, "localhost", cfg.Database.Host)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o644))
		t.Setenv("TRIPWIRE_PORT", "7777")
		t.Setenv("TRIPWIRE_DB_PASSWORD", "secret")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 7777, cfg.Server.Port)
		assert.Equal(t, "secret", cfg.Database.Password)
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}
