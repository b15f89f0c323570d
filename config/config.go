package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server. Tags use mapstructure
// for Viper unmarshalling; every key can also come from the environment.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	// Empty means the in-memory token cache; set to host:port to share the
	// token cache through Redis.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	RateLimitPerMinute      int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	BlacklistLimitPerMinute int `mapstructure:"BLACKLIST_LIMIT_PER_MINUTE"`
	ResetWindowMinutes      int `mapstructure:"RESET_WINDOW_MINUTES"`
	FlagSuppressionMinutes  int `mapstructure:"FLAG_SUPPRESSION_MINUTES"`

	SessionTokenExpirationMinutes int `mapstructure:"SESSION_TOKEN_EXPIRATION_MINUTES"`

	SyncIntervalSeconds          int `mapstructure:"SYNC_INTERVAL_SECONDS"`
	EvictionSweepMinutes         int `mapstructure:"EVICTION_SWEEP_MINUTES"`
	EvictionAgeMinutes           int `mapstructure:"EVICTION_AGE_MINUTES"`
	AccountCreationCooldownHours int `mapstructure:"ACCOUNT_CREATION_COOLDOWN_HOURS"`
	ActionCooldownSeconds        int `mapstructure:"ACTION_COOLDOWN_SECONDS"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/oldmartijntje-api/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/oldmartijntje_dev")
	v.SetDefault("MONGO_DB_NAME", "oldmartijntje_dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 100)
	v.SetDefault("BLACKLIST_LIMIT_PER_MINUTE", 300)
	v.SetDefault("RESET_WINDOW_MINUTES", 1)
	v.SetDefault("FLAG_SUPPRESSION_MINUTES", 10)
	v.SetDefault("SESSION_TOKEN_EXPIRATION_MINUTES", 1440)
	v.SetDefault("SYNC_INTERVAL_SECONDS", 30)
	v.SetDefault("EVICTION_SWEEP_MINUTES", 5)
	v.SetDefault("EVICTION_AGE_MINUTES", 60)
	v.SetDefault("ACCOUNT_CREATION_COOLDOWN_HOURS", 24)
	v.SetDefault("ACTION_COOLDOWN_SECONDS", 60)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}

// Durations derived from the integer config fields.

func (c *ServerConfig) ResetWindow() time.Duration {
	return time.Duration(c.ResetWindowMinutes) * time.Minute
}

func (c *ServerConfig) FlagSuppression() time.Duration {
	return time.Duration(c.FlagSuppressionMinutes) * time.Minute
}

func (c *ServerConfig) SessionTokenExpiration() time.Duration {
	return time.Duration(c.SessionTokenExpirationMinutes) * time.Minute
}

func (c *ServerConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c *ServerConfig) EvictionSweep() time.Duration {
	return time.Duration(c.EvictionSweepMinutes) * time.Minute
}

func (c *ServerConfig) EvictionAge() time.Duration {
	return time.Duration(c.EvictionAgeMinutes) * time.Minute
}

func (c *ServerConfig) AccountCreationCooldown() time.Duration {
	return time.Duration(c.AccountCreationCooldownHours) * time.Hour
}

func (c *ServerConfig) ActionCooldown() time.Duration {
	return time.Duration(c.ActionCooldownSeconds) * time.Second
}
