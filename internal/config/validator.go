package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateStore(&cfg.Store)
	v.validateSlack(&cfg.Slack)
	v.validateClassifier(&cfg.Classifier)
	v.validateScheduler(&cfg.Scheduler)
	v.validateServer(&cfg.Server)
	v.validateRetention(&cfg.Retention)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	switch cfg.Driver {
	case "sqlite":
		if cfg.Path == "" {
			v.addError("store.path", cfg.Path, "required for the sqlite driver")
		}
	case "postgres":
		if cfg.DSN == "" {
			v.addError("store.dsn", cfg.DSN, "required for the postgres driver")
		}
	default:
		v.addError("store.driver", cfg.Driver, "must be one of: sqlite, postgres")
	}
}

func (v *Validator) validateSlack(cfg *SlackConfig) {
	if cfg.BotToken != "" && !strings.HasPrefix(cfg.BotToken, "xoxb-") {
		v.addError("slack.bot_token", "***", "must start with xoxb-")
	}
	if cfg.AppToken != "" && !strings.HasPrefix(cfg.AppToken, "xapp-") {
		v.addError("slack.app_token", "***", "must start with xapp-")
	}
	if cfg.BotPrefix == "" {
		v.addError("slack.bot_prefix", cfg.BotPrefix, "must not be empty, it prevents ingestion loops")
	}
}

func (v *Validator) validateClassifier(cfg *ClassifierConfig) {
	if cfg.BaseURL == "" {
		v.addError("classifier.base_url", cfg.BaseURL, "must not be empty")
	}
	if cfg.Model == "" {
		v.addError("classifier.model", cfg.Model, "must not be empty")
	}
	if cfg.Timeout <= 0 {
		v.addError("classifier.timeout", cfg.Timeout, "must be positive")
	}
}

func (v *Validator) validateScheduler(cfg *SchedulerConfig) {
	if cfg.Interval <= 0 {
		v.addError("scheduler.interval", cfg.Interval, "must be positive")
	}
	if cfg.BatchSize < 1 {
		v.addError("scheduler.batch_size", cfg.BatchSize, "must be at least 1")
	}
	if cfg.StaleAfter < 0 {
		v.addError("scheduler.stale_after", cfg.StaleAfter, "must not be negative")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "must not be empty")
	}
	if cfg.ShutdownTimeout < 0 {
		v.addError("server.shutdown_timeout", cfg.ShutdownTimeout, "must not be negative")
	}
}

func (v *Validator) validateRetention(cfg *RetentionConfig) {
	if cfg.MaxAge < 0 {
		v.addError("retention.max_age", cfg.MaxAge, "must not be negative")
	}
	if cfg.MaxAge > 0 && cfg.ArchiveDir == "" {
		v.addError("retention.archive_dir", cfg.ArchiveDir, "required when retention is enabled")
	}
}
