// Package bot implements the Telegram transport and lifecycle orchestration
// for TaskBell: the delivery gateway, background jobs, command handlers, and
// the component supervisor.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/taskbell/internal/config"
	"github.com/edgard/taskbell/internal/database"
	"github.com/edgard/taskbell/internal/scheduler"
)

// Bot supervises the application components and manages their lifecycle.
type Bot struct {
	logger *slog.Logger
	cfg    *config.Config
	store  database.Store
	tgBot  *tgbot.Bot
	engine *scheduler.Engine
	jobs   *Jobs
}

// NewBot creates the component supervisor.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	store database.Store,
	tgBot *tgbot.Bot,
	engine *scheduler.Engine,
	jobs *Jobs,
) *Bot {
	return &Bot{
		logger: logger.With("component", "bot_orchestrator"),
		cfg:    cfg,
		store:  store,
		tgBot:  tgBot,
		engine: engine,
		jobs:   jobs,
	}
}

// Run starts all components and blocks until the context is cancelled or a
// component fails. Shutdown is graceful: the job runner waits for in-flight
// jobs and the engine drains its dispatches.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram listener...")
		b.tgBot.Start(gCtx)
		b.logger.Info("Telegram listener stopped.")

		if gCtx.Err() == nil {
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting reminder engine...")
		if err := b.engine.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reminder engine failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting job runner...")
		if err := b.jobs.Start(); err != nil {
			return fmt.Errorf("failed to start job runner: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping job runner...")
		if err := b.jobs.Stop(); err != nil {
			b.logger.Error("Error stopping job runner", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		b.consumeFiredEvents(gCtx)
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// consumeFiredEvents drains the engine's delivery event stream into the
// audit log until shutdown.
func (b *Bot) consumeFiredEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.engine.Events():
			b.logger.Info("Reminder delivered",
				"entry_id", ev.EntryID,
				"task_id", ev.TaskID,
				"user_id", ev.UserID,
				"fire_at", ev.FireAt,
				"delivered_at", ev.DeliveredAt,
			)
		}
	}
}
