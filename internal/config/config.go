// Package config loads solarcrm settings and pipeline templates.
//
// Settings come from defaults, an optional YAML config file and SOLARCRM_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. SOLARCRM_DATA_DIR.
const EnvPrefix = "SOLARCRM"

// Config holds application configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Currency  string          `mapstructure:"currency"`
	Log       LogConfig       `mapstructure:"log"`
	Reminders RemindersConfig `mapstructure:"reminders"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Templates TemplatesConfig `mapstructure:"templates"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RemindersConfig holds reminder scheduling settings.
type RemindersConfig struct {
	Delay        time.Duration `mapstructure:"delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// NATSConfig holds event broker settings. An empty URL disables NATS and
// events are only logged.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig holds the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TemplatesConfig points at a pipeline template file. An empty Path uses
// the built-in template.
type TemplatesConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultDataDir returns ~/.solarcrm.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".solarcrm")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("currency", "EUR")
	v.SetDefault("log.level", "info")
	v.SetDefault("reminders.delay", "120h")
	v.SetDefault("reminders.poll_interval", "1m")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "crm")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("templates.path", "")
}

// Load reads configuration from path, falling back to SOLARCRM_CONFIG and
// then to config.yaml in the data directory. A missing file is only an error
// when it was asked for explicitly.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	explicit := path
	if explicit == "" {
		explicit = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.AddConfigPath(DefaultDataDir())
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.Reminders.Delay <= 0 {
		return fmt.Errorf("config: reminders.delay must be positive, got %s", c.Reminders.Delay)
	}
	if c.Reminders.PollInterval <= 0 {
		return fmt.Errorf("config: reminders.poll_interval must be positive, got %s", c.Reminders.PollInterval)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
}
