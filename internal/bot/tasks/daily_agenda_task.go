package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// newDailyAgendaTask creates the hourly job that sends each user their
// agenda for the day once their local clock reaches the configured digest
// hour. The digest lists tasks due within the user's current local day plus
// any reminders missed while delivery was failing.
func newDailyAgendaTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "daily_agenda")

	return func(ctx context.Context) error {
		profiles, err := deps.Store.ListNotifiableUsers(ctx)
		if err != nil {
			return fmt.Errorf("failed to list users for agenda digest: %w", err)
		}

		var failed int
		for _, profile := range profiles {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			loc, fellBack := deps.Resolver.LocationOrDefault(profile.Timezone)
			if fellBack {
				if err := deps.Store.FlagTimezoneUnconfirmed(ctx, profile.UserID); err != nil {
					log.WarnContext(ctx, "Failed to flag unresolvable timezone",
						"user_id", profile.UserID, "error", err)
				}
			}

			now := time.Now().In(loc)
			if now.Hour() != deps.Config.Sync.DigestHour {
				continue
			}
			day := now.Format("2006-01-02")
			if profile.LastDigestOn == day {
				continue
			}

			text, err := buildAgenda(ctx, deps, profile.UserID, now, loc)
			if err != nil {
				log.ErrorContext(ctx, "Failed to build agenda", "user_id", profile.UserID, "error", err)
				failed++
				continue
			}
			if text == "" {
				// Nothing due and nothing missed; still mark the day so the
				// check is cheap for the rest of the hour.
				if err := deps.Store.MarkDigestSent(ctx, profile.UserID, day); err != nil {
					log.WarnContext(ctx, "Failed to record digest date", "user_id", profile.UserID, "error", err)
				}
				continue
			}

			if err := deps.Sender.SendText(ctx, profile.ChatID, text); err != nil {
				log.ErrorContext(ctx, "Failed to send agenda digest",
					"user_id", profile.UserID, "chat_id", profile.ChatID, "error", err)
				failed++
				continue
			}
			if err := deps.Store.MarkDigestSent(ctx, profile.UserID, day); err != nil {
				log.WarnContext(ctx, "Failed to record digest date", "user_id", profile.UserID, "error", err)
			}
		}

		if failed > 0 {
			return fmt.Errorf("agenda digest failed for %d users", failed)
		}
		return nil
	}
}

// buildAgenda renders the digest text, or "" when there is nothing to say.
func buildAgenda(ctx context.Context, deps TaskDeps, userID int64, now time.Time, loc *time.Location) (string, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	due, err := deps.Store.ListUserTasksDueBetween(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return "", err
	}

	missed, err := deps.Store.PendingCatchUp(ctx, userID)
	if err != nil {
		return "", err
	}

	if len(due) == 0 && len(missed) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("📅 Your agenda for " + now.Format("Monday, 02 Jan"))

	if len(due) > 0 {
		b.WriteString("\n\nDue today:")
		for _, task := range due {
			b.WriteString("\n• " + task.Title)
			if task.DueAt.Valid {
				b.WriteString(" at " + task.DueAt.Time.In(loc).Format("15:04"))
			}
		}
	}

	if len(missed) > 0 {
		b.WriteString("\n\nMissed reminders:")
		for _, entry := range missed {
			task, err := deps.Store.GetTask(ctx, entry.TaskID)
			if err != nil {
				continue
			}
			b.WriteString("\n• " + task.Title + " (was due " + entry.FireAt.In(loc).Format("Mon 15:04") + ")")
		}
	}

	return b.String(), nil
}
