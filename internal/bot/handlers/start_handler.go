package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/taskbell/internal/database"
)

// NewStartHandler returns a handler for the /start command. It registers the
// user's profile with the default timezone or refreshes the chat id of a
// returning user.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Received update with nil message or sender", "update_id", update.ID)
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Handling /start command", "chat_id", chatID, "user_id", userID)

	profile, err := h.deps.Store.GetUserProfile(ctx, userID)
	switch {
	case err == nil:
		profile.ChatID = chatID
	case errors.Is(err, database.ErrNotFound):
		profile = &database.UserProfile{
			UserID:               userID,
			ChatID:               chatID,
			Timezone:             h.deps.Config.Sync.DefaultTimezone,
			TZConfirmed:          false,
			NotificationsEnabled: true,
		}
	default:
		log.ErrorContext(ctx, "Failed to look up profile", "user_id", userID, "error", err)
		return
	}

	if err := h.deps.Store.SaveUserProfile(ctx, profile); err != nil {
		log.ErrorContext(ctx, "Failed to save profile", "user_id", userID, "error", err)
		return
	}

	welcome := "Hi! I'll remind you about your tasks.\n" +
		"Your timezone is " + profile.Timezone
	if !profile.TZConfirmed {
		welcome += " (set it with /timezone <IANA name>, e.g. /timezone Europe/Lisbon)"
	}
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: welcome}); err != nil {
		log.ErrorContext(ctx, "Failed to send welcome message", "error", err, "chat_id", chatID)
	}
}
