package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "auto"},
		Store: StoreConfig{Driver: "sqlite", Path: ".triage/triage.db"},
		Slack: SlackConfig{
			BotToken:  "xoxb-123",
			AppToken:  "xapp-1-abc",
			BotPrefix: "[triage-bot]",
		},
		Classifier: ClassifierConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{Interval: 30 * time.Second, BatchSize: 5},
		Server:    ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Retention: RetentionConfig{MaxAge: 0},
	}
}

func TestValidator_ValidConfig(t *testing.T) {
	if err := NewValidator().Validate(validConfig()); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }, "store.dsn"},
		{"wrong bot token prefix", func(c *Config) { c.Slack.BotToken = "xoxp-123" }, "slack.bot_token"},
		{"empty bot prefix", func(c *Config) { c.Slack.BotPrefix = "" }, "slack.bot_prefix"},
		{"zero classifier timeout", func(c *Config) { c.Classifier.Timeout = 0 }, "classifier.timeout"},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }, "scheduler.interval"},
		{"zero batch size", func(c *Config) { c.Scheduler.BatchSize = 0 }, "scheduler.batch_size"},
		{"retention without archive", func(c *Config) { c.Retention.MaxAge = time.Hour; c.Retention.ArchiveDir = "" }, "retention.archive_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator().Validate(cfg)
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention field %s", err.Error(), tt.field)
			}
		})
	}
}

func TestValidator_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "nope"
	cfg.Scheduler.BatchSize = -1

	err := NewValidator().Validate(cfg)
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("collected %d errors, want 2: %v", len(verrs), verrs)
	}
}
