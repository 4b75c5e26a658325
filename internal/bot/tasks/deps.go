// Package tasks implements the periodic background jobs of the TaskBell
// bot: database maintenance and the daily agenda digest.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/taskbell/internal/clock"
	"github.com/edgard/taskbell/internal/config"
	"github.com/edgard/taskbell/internal/database"
)

// Sender delivers plain text messages to a chat. The Telegram gateway
// implements it.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// TaskDeps contains the dependencies available to scheduled jobs.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Resolver *clock.Resolver
	Sender   Sender
	Config   *config.Config
}
