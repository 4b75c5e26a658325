package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/taskbell/internal/gcal"
)

// NewSyncHandler returns a handler for the /sync command, an on-demand
// calendar reconciliation for the requesting user.
func NewSyncHandler(deps HandlerDeps) bot.HandlerFunc {
	return syncHandler{deps}.Handle
}

type syncHandler struct {
	deps HandlerDeps
}

func (h syncHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "sync")

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

	if h.deps.Syncer == nil {
		reply("Calendar sync is not configured on this bot.")
		return
	}

	log.InfoContext(ctx, "Handling /sync command", "user_id", userID)

	err := h.deps.Syncer.ReconcileUser(ctx, userID)
	switch {
	case err == nil:
		reply("Calendar synced.")
	case errors.Is(err, gcal.ErrUnauthorized):
		reply("I can't access your Google Calendar. Please reconnect your account.")
	case errors.Is(err, gcal.ErrTransient):
		reply("Google Calendar is not responding right now, try again in a bit.")
	default:
		log.ErrorContext(ctx, "On-demand sync failed", "user_id", userID, "error", err)
		reply("Sync failed, see you at the next automatic run.")
	}
}
