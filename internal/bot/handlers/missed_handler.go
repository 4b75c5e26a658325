package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewMissedHandler returns a handler for the /missed command, listing the
// user's reminders that exhausted their delivery retries.
func NewMissedHandler(deps HandlerDeps) bot.HandlerFunc {
	return missedHandler{deps}.Handle
}

type missedHandler struct {
	deps HandlerDeps
}

func (h missedHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "missed")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID

	reply := func(text string) {
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
			log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
		}
	}

	entries, err := h.deps.Store.PendingCatchUp(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load missed reminders", "user_id", userID, "error", err)
		reply("Could not load missed reminders, please try again.")
		return
	}
	if len(entries) == 0 {
		reply("No missed reminders. 🎉")
		return
	}

	profile, err := h.deps.Store.GetUserProfile(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to look up profile", "user_id", userID, "error", err)
		return
	}
	loc, _ := h.deps.Resolver.LocationOrDefault(profile.Timezone)

	var b2 strings.Builder
	b2.WriteString("Reminders I could not deliver:")
	for _, entry := range entries {
		task, err := h.deps.Store.GetTask(ctx, entry.TaskID)
		if err != nil {
			continue
		}
		b2.WriteString("\n• " + task.Title + " (was due " + entry.FireAt.In(loc).Format("Mon, 02 Jan 15:04") + ")")
	}
	reply(b2.String())
}
