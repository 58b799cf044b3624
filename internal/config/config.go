package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultCooldown applies to categories without a configured cooldown.
const DefaultCooldown = 10 * time.Minute

type ProviderConfig struct {
	Type           string `mapstructure:"type"` // "fallback" or "openai"
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type Config struct {
	StoragePath               string         `mapstructure:"storage_path"`
	NotificationsDBPath       string         `mapstructure:"notifications_db_path"`
	SocketPath                string         `mapstructure:"socket_path"`
	CollectorMode             string         `mapstructure:"collector_mode"` // "x11" or "none"
	CollectionIntervalSeconds int            `mapstructure:"collection_interval_seconds"`
	BatchSize                 int            `mapstructure:"batch_size"`
	IdleThresholdSeconds      int            `mapstructure:"idle_threshold_seconds"`
	IdlePollIntervalSeconds   int            `mapstructure:"idle_poll_interval_seconds"`
	ContextWindowMinutes      int            `mapstructure:"context_window_minutes"`
	NotificationRetentionDays int            `mapstructure:"notification_retention_days"`
	Cooldowns                 map[string]int `mapstructure:"cooldowns"` // minutes per category
	Provider                  ProviderConfig `mapstructure:"provider"`
}

func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")                // name of config file (without extension)
		viper.SetConfigType("yaml")                  // REQUIRED if the config file does not have the extension in the name
		viper.AddConfigPath(".")                     // optionally look for config in the working directory
		viper.AddConfigPath("$HOME/.config/refocus") // call multiple times to add many search paths
		viper.AddConfigPath("/etc/refocus/")         // path to look for the config file in
	}

	viper.SetEnvPrefix("REFOCUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// Set defaults
	viper.SetDefault("storage_path", "events")
	viper.SetDefault("notifications_db_path", "notifications.db")
	viper.SetDefault("socket_path", "/tmp/refocus.sock")
	viper.SetDefault("collector_mode", "x11")
	viper.SetDefault("collection_interval_seconds", 2)
	viper.SetDefault("batch_size", 100)
	viper.SetDefault("idle_threshold_seconds", 300)
	viper.SetDefault("idle_poll_interval_seconds", 30)
	viper.SetDefault("context_window_minutes", 30)
	viper.SetDefault("notification_retention_days", 30)
	viper.SetDefault("cooldowns.idle_warning", 10)
	viper.SetDefault("cooldowns.good_job", 30)
	viper.SetDefault("provider.type", "fallback")
	viper.SetDefault("provider.endpoint", "https://api.openai.com")
	viper.SetDefault("provider.model", "gpt-4o-mini")
	viper.SetDefault("provider.api_key", "")
	viper.SetDefault("provider.timeout_seconds", 10)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error if defaults are okay
			log.Println("Config file not found, using defaults.")
		} else {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.CollectionIntervalSeconds < 1 {
		log.Println("Warning: collection_interval_seconds too low, setting to 1")
		cfg.CollectionIntervalSeconds = 1
	}
	if cfg.BatchSize < 1 {
		log.Println("Warning: batch_size too low, setting to 100")
		cfg.BatchSize = 100
	}
	if cfg.IdleThresholdSeconds < 1 {
		log.Println("Warning: idle_threshold_seconds too low, setting to 300")
		cfg.IdleThresholdSeconds = 300
	}
	if cfg.IdlePollIntervalSeconds < 1 {
		log.Println("Warning: idle_poll_interval_seconds too low, setting to 30")
		cfg.IdlePollIntervalSeconds = 30
	}
	if cfg.ContextWindowMinutes < 1 {
		log.Println("Warning: context_window_minutes too low, setting to 30")
		cfg.ContextWindowMinutes = 30
	}
	if cfg.CollectorMode != "x11" && cfg.CollectorMode != "none" {
		log.Printf("Warning: invalid collector_mode '%s', defaulting to 'x11'", cfg.CollectorMode)
		cfg.CollectorMode = "x11"
	}
	if cfg.Provider.Type != "fallback" && cfg.Provider.Type != "openai" {
		log.Printf("Warning: invalid provider type '%s', defaulting to 'fallback'", cfg.Provider.Type)
		cfg.Provider.Type = "fallback"
	}

	logged := cfg
	if logged.Provider.APIKey != "" {
		logged.Provider.APIKey = "(set)"
	}
	log.Printf("Configuration loaded: %+v", logged)
	return &cfg, nil
}

func (c *Config) CollectionInterval() time.Duration {
	return time.Duration(c.CollectionIntervalSeconds) * time.Second
}
func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdSeconds) * time.Second
}
func (c *Config) IdlePollInterval() time.Duration {
	return time.Duration(c.IdlePollIntervalSeconds) * time.Second
}
func (c *Config) ContextWindow() time.Duration {
	return time.Duration(c.ContextWindowMinutes) * time.Minute
}

// CooldownFor returns the configured cooldown for a category, falling
// back to DefaultCooldown when the category has none.
func (c *Config) CooldownFor(category string) time.Duration {
	if minutes, ok := c.Cooldowns[category]; ok && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return DefaultCooldown
}

func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}
