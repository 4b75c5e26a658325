// Package main contains the entrypoint for the TaskBell bot application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/edgard/taskbell/internal/bot"
	"github.com/edgard/taskbell/internal/bot/handlers"
	"github.com/edgard/taskbell/internal/bot/tasks"
	"github.com/edgard/taskbell/internal/clock"
	"github.com/edgard/taskbell/internal/config"
	"github.com/edgard/taskbell/internal/database"
	"github.com/edgard/taskbell/internal/gcal"
	"github.com/edgard/taskbell/internal/logger"
	"github.com/edgard/taskbell/internal/reconcile"
	"github.com/edgard/taskbell/internal/scheduler"
	"github.com/edgard/taskbell/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components, handles graceful
// shutdown, and returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	resolver := clock.NewResolver(cfg.Sync.DefaultTimezone)

	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log,
		tgbot.WithMiddlewares(logger.Middleware(log)))
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	gateway := bot.NewTelegramGateway(log, tg, store, resolver, cfg.Telegram.MessagesPerSecond)

	engine := scheduler.NewEngine(log, store, gateway, resolver, scheduler.Config{
		Workers:     cfg.Scheduler.Workers,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		BackoffBase: cfg.Scheduler.BackoffBase,
		BackoffMax:  cfg.Scheduler.BackoffMax,
		IdleRecheck: cfg.Scheduler.IdleRecheck,
	})

	// Calendar sync is optional: without Google credentials the bot still
	// schedules and delivers reminders.
	var reconciler *reconcile.Reconciler
	if creds, err := os.ReadFile(cfg.Google.CredentialsFile); err == nil {
		oauthCfg, err := google.ConfigFromJSON(creds, calendar.CalendarEventsScope)
		if err != nil {
			log.Error("Failed to parse Google credentials", "path", cfg.Google.CredentialsFile, "error", err)
			return 1
		}
		tokens, err := gcal.NewFileTokenStore(cfg.Google.TokenDir)
		if err != nil {
			log.Error("Failed to open token store", "dir", cfg.Google.TokenDir, "error", err)
			return 1
		}
		factory := gcal.NewFactory(oauthCfg, tokens, cfg.Sync.CalendarID, cfg.Sync.CalendarTimeout)

		onAuth := func(ctx context.Context, userID int64) {
			profile, err := store.GetUserProfile(ctx, userID)
			if err != nil {
				return
			}
			if err := gateway.SendText(ctx, profile.ChatID,
				"I lost access to your Google Calendar. Please reconnect your account."); err != nil {
				log.Warn("Failed to send re-auth prompt", "user_id", userID, "error", err)
			}
		}

		reconciler = reconcile.NewReconciler(log, store, factory, resolver, engine, onAuth,
			reconcile.Config{Workers: cfg.Sync.Workers})
		log.Info("Calendar sync enabled", "calendar_id", cfg.Sync.CalendarID, "interval", cfg.Sync.Interval)
	} else {
		log.Warn("Google credentials not found, calendar sync disabled", "path", cfg.Google.CredentialsFile)
	}

	hDeps := handlers.HandlerDeps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Resolver: resolver,
	}
	if reconciler != nil {
		hDeps.Syncer = reconciler
	}
	if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	tDeps := tasks.TaskDeps{
		Logger:   log,
		Store:    store,
		Resolver: resolver,
		Sender:   gateway,
		Config:   cfg,
	}
	jobs, err := bot.NewJobs(log, cfg.Jobs, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create job runner", "error", err)
		return 1
	}
	if reconciler != nil {
		jobs.AddInterval("calendar_reconcile", cfg.Sync.Interval, reconciler.ReconcileAll)
	}

	app := bot.NewBot(log, cfg, store, tg, engine, jobs)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
