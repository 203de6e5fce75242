// Package config provides layered configuration for ratewatch using viper,
// with XDG locations resolved through gofulmen/config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ratewatch/ratewatch/internal/notify"
)

// AppName names the XDG directories and the default database file.
const AppName = "ratewatch"

// EnvPrefix is prepended to every config key when read from the environment.
const EnvPrefix = "RATEWATCH"

// ConfigError reports configuration that cannot be used.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// envBindings maps config keys to variables that do not follow the prefixed
// naming, such as the credential variables shared with other tools.
var envBindings = map[string][]string{
	"store.path":              {EnvPrefix + "_DB_PATH"},
	"store.url":               {EnvPrefix + "_DB_URL"},
	"store.auth_token":        {EnvPrefix + "_DB_AUTH_TOKEN"},
	"store.driver":            {EnvPrefix + "_DB_DRIVER"},
	"logging.level":           {EnvPrefix + "_LOG_LEVEL"},
	"notify.slack.bot_token":  {"SLACK_BOT_TOKEN", EnvPrefix + "_NOTIFY_SLACK_BOT_TOKEN"},
	"notify.slack.channel_id": {"SLACK_CHANNEL_ID", EnvPrefix + "_NOTIFY_SLACK_CHANNEL_ID"},
	"notify.discord.bot_token": {
		"DISCORD_BOT_TOKEN", EnvPrefix + "_NOTIFY_DISCORD_BOT_TOKEN",
	},
	"notify.discord.channel_id": {
		"DISCORD_CHANNEL_ID", EnvPrefix + "_NOTIFY_DISCORD_CHANNEL_ID",
	},
	"notify.desktop.enabled": {EnvPrefix + "_NOTIFY_DESKTOP", EnvPrefix + "_NOTIFY_DESKTOP_ENABLED"},
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("poll.interval", "5m")
	v.SetDefault("poll.request_timeout", "10s")
	v.SetDefault("poll.workers", 4)
	v.SetDefault("poll.user_agent", AppName)

	v.SetDefault("alert.default_threshold", 95.0)
	v.SetDefault("alert.release_margin", 5.0)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.max_samples", 288)

	v.SetDefault("registry.path", DefaultRegistryPath())
	v.SetDefault("registry.watch", true)

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("notify.slack.bot_token", "")
	v.SetDefault("notify.slack.channel_id", "")
	v.SetDefault("notify.discord.bot_token", "")
	v.SetDefault("notify.discord.channel_id", "")
	v.SetDefault("notify.desktop.enabled", false)
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
}

// BindEnv enables RATEWATCH_* lookups plus the explicit bindings above.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// LoadDotEnv loads .env files that exist. Variables already set win.
func LoadDotEnv(paths ...string) ([]string, error) {
	var loaded []string
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, &ConfigError{Field: path, Err: err}
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

// DotEnvPaths lists the .env files checked at startup.
func DotEnvPaths() []string {
	paths := []string{".env"}
	if dir := gfconfig.GetAppConfigDir(AppName); strings.TrimSpace(dir) != "" {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	return paths
}

// Decode unmarshals v into a Config without validating it.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToFloat64HookFunc(),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if strings.TrimSpace(cfg.Registry.Path) == "" {
		cfg.Registry.Path = DefaultRegistryPath()
	}
	return cfg, nil
}

// Load decodes and validates the core settings. Notifier credentials are
// checked separately by ValidateNotify.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Err: errors.New("configuration is missing")}
	}
	if c.Poll.Interval <= 0 {
		return invalid("poll.interval", "must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.RequestTimeout <= 0 {
		return invalid("poll.request_timeout", "must be positive, got %s", c.Poll.RequestTimeout)
	}
	if c.Poll.Workers < 1 {
		return invalid("poll.workers", "must be at least 1, got %d", c.Poll.Workers)
	}
	if c.Alert.DefaultThreshold <= 0 || c.Alert.DefaultThreshold > 100 {
		return invalid("alert.default_threshold", "must be in (0,100], got %g", c.Alert.DefaultThreshold)
	}
	if c.Alert.ReleaseMargin < 0 || c.Alert.ReleaseMargin >= 100 {
		return invalid("alert.release_margin", "must be in [0,100), got %g", c.Alert.ReleaseMargin)
	}
	if c.History.MaxSamples < 0 {
		return invalid("history.max_samples", "must not be negative, got %d", c.History.MaxSamples)
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return invalid("server.port", "must be a valid TCP port, got %d", c.Server.Port)
	}
	return nil
}

// NotifySettings converts the notify section for the notify package.
func (c *Config) NotifySettings() notify.Settings {
	return notify.Settings{
		Slack: notify.SlackSettings{
			BotToken:  strings.TrimSpace(c.Notify.Slack.BotToken),
			ChannelID: strings.TrimSpace(c.Notify.Slack.ChannelID),
		},
		Discord: notify.DiscordSettings{
			BotToken:  strings.TrimSpace(c.Notify.Discord.BotToken),
			ChannelID: strings.TrimSpace(c.Notify.Discord.ChannelID),
		},
		Desktop: c.Notify.Desktop.Enabled,
		Timeout: c.Notify.Timeout,
	}
}

// ValidateNotify requires exactly one fully configured notification backend.
func (c *Config) ValidateNotify() error {
	if err := c.NotifySettings().Validate(); err != nil {
		return &ConfigError{Field: "notify", Err: err}
	}
	return nil
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// DefaultRegistryPath returns the XDG-compliant path to the API registry.
func DefaultRegistryPath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./apis.yaml"
	}
	return filepath.Join(dataDir, "apis.yaml")
}
