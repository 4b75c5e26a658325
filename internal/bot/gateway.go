package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"github.com/edgard/taskbell/internal/clock"
	"github.com/edgard/taskbell/internal/database"
	"github.com/edgard/taskbell/internal/scheduler"
)

// TelegramGateway delivers reminder notifications over Telegram. Sends are
// rate limited globally so bursts of simultaneous reminders stay within the
// Bot API limits.
type TelegramGateway struct {
	logger   *slog.Logger
	tgBot    *tgbot.Bot
	store    database.Store
	resolver *clock.Resolver
	limiter  *rate.Limiter
}

// NewTelegramGateway creates the Telegram delivery gateway. messagesPerSecond
// bounds outgoing sends across all users.
func NewTelegramGateway(logger *slog.Logger, tgBot *tgbot.Bot, store database.Store, resolver *clock.Resolver, messagesPerSecond float64) *TelegramGateway {
	if logger == nil {
		logger = slog.Default()
	}
	if messagesPerSecond <= 0 {
		messagesPerSecond = 25
	}
	return &TelegramGateway{
		logger:   logger.With("component", "telegram_gateway"),
		tgBot:    tgBot,
		store:    store,
		resolver: resolver,
		limiter:  rate.NewLimiter(rate.Limit(messagesPerSecond), 1),
	}
}

// Deliver sends a reminder message to the user's chat. A user who blocked
// the bot produces scheduler.ErrDeliveryPermanent so the engine stops
// retrying.
func (g *TelegramGateway) Deliver(ctx context.Context, userID int64, msg scheduler.Message) error {
	profile, err := g.store.GetUserProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no chat known for user %d: %w", userID, scheduler.ErrDeliveryPermanent)
		}
		return fmt.Errorf("failed to load profile for user %d: %w", userID, err)
	}

	loc, _ := g.resolver.LocationOrDefault(profile.Timezone)
	text := renderReminder(msg, loc)

	return g.send(ctx, profile.ChatID, text)
}

// SendText sends a plain text message to a chat, subject to the same rate
// limit as reminder deliveries. Used by scheduled jobs and handlers.
func (g *TelegramGateway) SendText(ctx context.Context, chatID int64, text string) error {
	return g.send(ctx, chatID, text)
}

func (g *TelegramGateway) send(ctx context.Context, chatID int64, text string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait interrupted: %w", err)
	}

	_, err := g.tgBot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		if errors.Is(err, tgbot.ErrorForbidden) {
			return fmt.Errorf("chat %d rejected message: %w", chatID, scheduler.ErrDeliveryPermanent)
		}
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

func renderReminder(msg scheduler.Message, loc *time.Location) string {
	text := "🔔 Reminder: " + msg.Title
	switch msg.Priority {
	case database.PriorityUrgent, database.PriorityHigh:
		text = "‼️ " + text
	case database.PriorityLow:
		text = "🔹 " + text
	}
	if !msg.DueAt.IsZero() {
		text += "\nDue: " + msg.DueAt.In(loc).Format("Mon, 02 Jan 2006 15:04")
	}
	return text
}
