package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                 int    `env:"PORT" envDefault:"8080"`
	DatabaseURL          string `env:"DATABASE_URL,required"`
	RedisURL             string `env:"REDIS_URL,required"`
	ChatNetworkURL       string `env:"CHAT_NETWORK_URL,required"`
	CredentialsDir       string `env:"CREDENTIALS_DIR" envDefault:"./credentials"`
	SessionCostCredits   int64  `env:"SESSION_COST_CREDITS" envDefault:"10"`
	ArchiveRetentionDays int    `env:"ARCHIVE_RETENTION_DAYS" envDefault:"30"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ArchiveRetention() time.Duration {
	return time.Duration(c.ArchiveRetentionDays) * 24 * time.Hour
}

func (c *Config) Validate(isProduction bool) error {
	if !strings.HasPrefix(c.ChatNetworkURL, "ws://") && !strings.HasPrefix(c.ChatNetworkURL, "wss://") {
		return fmt.Errorf("CHAT_NETWORK_URL must be a ws:// or wss:// URL")
	}
	if c.SessionCostCredits < 0 {
		return fmt.Errorf("SESSION_COST_CREDITS must not be negative")
	}

	if isProduction {
		if strings.HasPrefix(c.ChatNetworkURL, "ws://") {
			log.Warn().Msg("CHAT_NETWORK_URL uses ws:// (not TLS) in production: consider using wss://")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
