package config

import (
	"time"
)

// Config represents the complete application configuration.
// Layers, lowest first: built-in defaults, config file, .env, environment, flags.
type Config struct {
	Poll     PollConfig     `mapstructure:"poll"`
	Alert    AlertConfig    `mapstructure:"alert"`
	History  HistoryConfig  `mapstructure:"history"`
	Registry RegistryConfig `mapstructure:"registry"`
	Store    StoreConfig    `mapstructure:"store"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PollConfig controls the poll loop.
type PollConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Workers        int           `mapstructure:"workers"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlertConfig holds the defaults for the alert state machine.
type AlertConfig struct {
	// DefaultThreshold is in percent, applied to APIs added without --threshold.
	DefaultThreshold float64 `mapstructure:"default_threshold"`
	// ReleaseMargin is in percentage points below the threshold.
	ReleaseMargin float64 `mapstructure:"release_margin"`
}

// HistoryConfig bounds the stored sample history.
type HistoryConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxSamples int  `mapstructure:"max_samples"`
}

// RegistryConfig locates the monitored API file.
type RegistryConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// NotifyConfig holds credentials for the alert backends. Exactly one may be set.
type NotifyConfig struct {
	Slack   ChatConfig    `mapstructure:"slack"`
	Discord ChatConfig    `mapstructure:"discord"`
	Desktop DesktopConfig `mapstructure:"desktop"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChatConfig struct {
	BotToken  string `mapstructure:"bot_token"`
	ChannelID string `mapstructure:"channel_id"`
}

type DesktopConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ServerConfig contains the optional status server configuration
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}
