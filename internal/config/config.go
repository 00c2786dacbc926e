// Package config loads and validates configuration from files,
// environment variables, and CLI flags.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store"`
	Slack      SlackConfig      `mapstructure:"slack"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Server     ServerConfig     `mapstructure:"server"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	// Driver selects the backend: sqlite or postgres.
	Driver string `mapstructure:"driver"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path"`
	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn"`
}

// SlackConfig configures the Slack connection.
type SlackConfig struct {
	// BotToken is the xoxb token used for Web API calls.
	BotToken string `mapstructure:"bot_token"`
	// AppToken is the xapp token used for Socket Mode.
	AppToken string `mapstructure:"app_token"`
	// Channels restricts ingestion to these channel IDs. Empty means all.
	Channels []string `mapstructure:"channels"`
	// BotPrefix marks outbound messages so they are never re-ingested.
	BotPrefix string `mapstructure:"bot_prefix"`
}

// ClassifierConfig configures the LLM collaborator.
type ClassifierConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Background   string        `mapstructure:"background"`
	Instructions string        `mapstructure:"instructions"`
}

// SchedulerConfig configures the batch processing scheduler.
type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	// StaleAfter is how long a record may sit at processing before the
	// scheduler treats it as abandoned by a crashed run and requeues it.
	// Zero disables the check.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// RetentionConfig configures the ledger retention sweep.
type RetentionConfig struct {
	// MaxAge is how long terminal records are kept. Zero disables the sweep.
	MaxAge time.Duration `mapstructure:"max_age"`
	// ArchiveDir receives JSON archives of purged records before deletion.
	ArchiveDir string `mapstructure:"archive_dir"`
}
