package tasks

import "context"

// ScheduledTaskFunc is the signature shared by all scheduled jobs. The
// context provided by the job runner must be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns the map of registered jobs. The keys match the
// job names used in the configuration's jobs section.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks["sql_maintenance"] = newSQLMaintenanceTask(deps)
	tasks["daily_agenda"] = newDailyAgendaTask(deps)

	deps.Logger.Info("Initialized scheduled jobs", "count", len(tasks))
	return tasks
}
