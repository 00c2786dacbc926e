package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "TRIAGE",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "TRIAGE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (TRIAGE_*)
// 3. Project config (.triage.yaml in current directory)
// 4. User config (~/.config/triage/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".triage")
		l.v.SetConfigType("yaml")

		// Project config takes precedence over user config.
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "triage"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("store.driver", "sqlite")
	l.v.SetDefault("store.path", ".triage/triage.db")
	l.v.SetDefault("store.dsn", "")

	l.v.SetDefault("slack.bot_token", "")
	l.v.SetDefault("slack.app_token", "")
	l.v.SetDefault("slack.channels", []string{})
	l.v.SetDefault("slack.bot_prefix", "[triage-bot]")

	l.v.SetDefault("classifier.base_url", "https://api.openai.com/v1")
	l.v.SetDefault("classifier.api_key", "")
	l.v.SetDefault("classifier.model", "gpt-4o-mini")
	l.v.SetDefault("classifier.timeout", "30s")
	l.v.SetDefault("classifier.background", "")
	l.v.SetDefault("classifier.instructions", "")

	l.v.SetDefault("scheduler.interval", "30s")
	l.v.SetDefault("scheduler.batch_size", 5)
	l.v.SetDefault("scheduler.stale_after", "10m")

	l.v.SetDefault("server.addr", ":8080")
	l.v.SetDefault("server.shutdown_timeout", "10s")
	l.v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})

	l.v.SetDefault("retention.max_age", "0")
	l.v.SetDefault("retention.archive_dir", ".triage/archive")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}
