package config

import "time"

// Config defines the application configuration. Values can be set via
// environment variables prefixed with BOT_ (e.g. BOT_TELEGRAM_TOKEN) or
// through the config file.
type Config struct {
	Logger    LoggerConfig         `mapstructure:"logger"`
	Telegram  TelegramConfig       `mapstructure:"telegram"`
	Database  DatabaseConfig       `mapstructure:"database"`
	Scheduler SchedulerConfig      `mapstructure:"scheduler"`
	Sync      SyncConfig           `mapstructure:"sync"`
	Google    GoogleConfig         `mapstructure:"google"`
	Jobs      map[string]JobConfig `mapstructure:"jobs"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds chat transport settings.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
	// MessagesPerSecond bounds outgoing sends across all users.
	MessagesPerSecond float64 `mapstructure:"messages_per_second" validate:"gt=0"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SchedulerConfig tunes the reminder scheduling core. Backoff parameters and
// the retry ceiling are deliberately configuration, not constants.
type SchedulerConfig struct {
	Workers     int           `mapstructure:"workers"      validate:"min=1,max=128"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1,max=20"`
	BackoffBase time.Duration `mapstructure:"backoff_base" validate:"min=100ms"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"  validate:"min=1s"`
	IdleRecheck time.Duration `mapstructure:"idle_recheck" validate:"min=1s"`
}

// SyncConfig tunes calendar reconciliation.
type SyncConfig struct {
	Interval        time.Duration `mapstructure:"interval"         validate:"min=30s"`
	Workers         int           `mapstructure:"workers"          validate:"min=1,max=64"`
	CalendarTimeout time.Duration `mapstructure:"calendar_timeout" validate:"min=1s,max=5m"`
	CalendarID      string        `mapstructure:"calendar_id"`
	DefaultTimezone string        `mapstructure:"default_timezone" validate:"required"`
	// DigestHour is the user-local hour of the daily agenda message.
	DigestHour int `mapstructure:"digest_hour" validate:"min=0,max=23"`
}

// GoogleConfig holds the OAuth application settings for calendar access.
// Sync is disabled when the credentials file is absent.
type GoogleConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenDir        string `mapstructure:"token_dir"`
}

// JobConfig describes one periodic background job.
type JobConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}
