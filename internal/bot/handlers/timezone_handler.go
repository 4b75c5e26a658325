package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/taskbell/internal/clock"
)

// NewTimezoneHandler returns a handler for the /timezone command. It
// validates the given IANA zone name against the resolver and stores it as
// the user's confirmed timezone.
func NewTimezoneHandler(deps HandlerDeps) bot.HandlerFunc {
	return timezoneHandler{deps}.Handle
}

type timezoneHandler struct {
	deps HandlerDeps
}

func (h timezoneHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "timezone")

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

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		reply("Usage: /timezone <IANA name>, e.g. /timezone Europe/Lisbon")
		return
	}
	tzID := parts[1]

	if _, err := h.deps.Resolver.Location(tzID); err != nil {
		if errors.Is(err, clock.ErrInvalidTimezone) {
			reply("Unknown timezone " + tzID + ". Use an IANA name like America/New_York.")
			return
		}
		log.ErrorContext(ctx, "Failed to resolve timezone", "tz", tzID, "error", err)
		return
	}

	profile, err := h.deps.Store.GetUserProfile(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to look up profile", "user_id", userID, "error", err)
		return
	}
	profile.Timezone = tzID
	profile.TZConfirmed = true
	if err := h.deps.Store.SaveUserProfile(ctx, profile); err != nil {
		log.ErrorContext(ctx, "Failed to save timezone", "user_id", userID, "error", err)
		return
	}

	log.InfoContext(ctx, "Timezone updated", "user_id", userID, "tz", tzID)
	reply("Timezone set to " + tzID + ".")
}
