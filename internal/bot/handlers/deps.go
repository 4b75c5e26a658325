// Package handlers contains the Telegram command handlers for user
// registration and settings, along with their registration logic and
// middleware.
package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/taskbell/internal/clock"
	"github.com/edgard/taskbell/internal/config"
	"github.com/edgard/taskbell/internal/database"
)

// Syncer triggers an on-demand calendar reconciliation for one user. The
// reconciler implements it.
type Syncer interface {
	ReconcileUser(ctx context.Context, userID int64) error
}

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Resolver *clock.Resolver
	Syncer   Syncer
}
