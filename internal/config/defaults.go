package config

import "time"

// Default values for optional configuration parameters. Retry ceilings and
// backoff bounds follow here rather than living as magic numbers in the
// scheduler.
var defaults = map[string]any{
	"logger.level": "info",
	"logger.json":  true,

	// Empty-string defaults register the keys with viper so environment
	// overrides are visible to Unmarshal.
	"telegram.token":               "",
	"telegram.messages_per_second": 25.0,

	"database.path": "taskbell.db",

	"scheduler.workers":      8,
	"scheduler.max_attempts": 5,
	"scheduler.backoff_base": 2 * time.Second,
	"scheduler.backoff_max":  2 * time.Minute,
	"scheduler.idle_recheck": time.Minute,

	"sync.interval":         5 * time.Minute,
	"sync.workers":          4,
	"sync.calendar_timeout": 30 * time.Second,
	"sync.calendar_id":      "primary",
	"sync.default_timezone": "UTC",
	"sync.digest_hour":      9,

	"google.credentials_file": "credentials.json",
	"google.token_dir":        "tokens",

	"jobs.sql_maintenance.enabled":  true,
	"jobs.sql_maintenance.schedule": "0 4 * * *",
	"jobs.daily_agenda.enabled":     true,
	"jobs.daily_agenda.schedule":    "0 * * * *",
}
