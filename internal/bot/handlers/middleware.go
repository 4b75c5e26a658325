package handlers

import (
	"context"
	"errors"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/taskbell/internal/database"
)

// RegisteredOnly creates a middleware that requires the sender to have a
// profile, i.e. to have run /start. Unknown users get a hint instead.
func RegisteredOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if update.Message == nil || update.Message.From == nil {
				next(ctx, b, update)
				return
			}

			userID := update.Message.From.ID
			_, err := deps.Store.GetUserProfile(ctx, userID)
			if err == nil {
				next(ctx, b, update)
				return
			}

			log := deps.Logger.With("middleware", "registered_only")
			if !errors.Is(err, database.ErrNotFound) {
				log.ErrorContext(ctx, "Failed to look up profile", "user_id", userID, "error", err)
				return
			}

			if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: update.Message.Chat.ID,
				Text:   "Please run /start first.",
			}); err != nil {
				log.ErrorContext(ctx, "Failed to send registration hint", "error", err, "chat_id", update.Message.Chat.ID)
			}
		}
	}
}
