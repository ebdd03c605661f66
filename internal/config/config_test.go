package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/gateway")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("CHAT_NETWORK_URL", "ws://localhost:9000")
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, ":8080", cfg.Addr())
		assert.Equal(t, int64(10), cfg.SessionCostCredits)
		assert.Equal(t, 30, cfg.ArchiveRetentionDays)
		assert.Equal(t, 30*24*time.Hour, cfg.ArchiveRetention())
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "./credentials", cfg.CredentialsDir)
	})

	t.Run("overrides", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PORT", "9090")
		t.Setenv("SESSION_COST_CREDITS", "25")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Addr())
		assert.Equal(t, int64(25), cfg.SessionCostCredits)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("missing required env fails", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("DATABASE_URL", "placeholder")
		os.Unsetenv("DATABASE_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ChatNetworkURL:     "ws://localhost:9000",
			RedisURL:           "redis://localhost:6379",
			SessionCostCredits: 10,
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate(false))
	})

	t.Run("wss accepted", func(t *testing.T) {
		cfg := base()
		cfg.ChatNetworkURL = "wss://chat.example.com"
		assert.NoError(t, cfg.Validate(true))
	})

	t.Run("non websocket url rejected", func(t *testing.T) {
		cfg := base()
		cfg.ChatNetworkURL = "http://localhost:9000"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("negative session cost rejected", func(t *testing.T) {
		cfg := base()
		cfg.SessionCostCredits = -1
		assert.Error(t, cfg.Validate(false))
	})
}
