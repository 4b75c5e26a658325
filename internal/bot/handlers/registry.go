package handlers

import (
	tgbot "github.com/go-telegram/bot"
)

// RegisteredHandler bundles a command handler with its match rule and
// middleware, everything needed to register it on the bot.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterAllCommands returns the map of all bot commands keyed by the
// command string.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	handlers["/start"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "start",
		Handler:     NewStartHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
	handlers["/help"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "help",
		Handler:     NewHelpHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}

	registered := []tgbot.Middleware{RegisteredOnly(deps)}

	handlers["/timezone"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "timezone",
		Handler:     NewTimezoneHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  registered,
	}
	handlers["/sync"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "sync",
		Handler:     NewSyncHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  registered,
	}
	handlers["/missed"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "missed",
		Handler:     NewMissedHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  registered,
	}

	return handlers
}
