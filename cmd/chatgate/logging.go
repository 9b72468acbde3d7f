package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/hehbot/chatgate/internal/dispatch"
	"github.com/hehbot/chatgate/internal/model"
)

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logHandler logs every delivered event at debug level.
func logHandler(logger *slog.Logger) dispatch.Handler {
	logger = logger.With("component", "events")
	return dispatch.HandlerFuncs{
		Create: func(ctx context.Context, m model.Message) {
			logger.Debug("message created",
				"id", m.ID,
				"channel_id", m.ChannelID,
				"author", m.AuthorName,
				"attachments", len(m.Attachments),
			)
		},
		Update: func(ctx context.Context, u model.MessageUpdate) {
			logger.Debug("message updated",
				"id", u.ID,
				"channel_id", u.ChannelID,
				"before_known", u.Before != nil,
			)
		},
		Delete: func(ctx context.Context, d model.MessageDelete) {
			logger.Debug("message deleted",
				"id", d.ID,
				"channel_id", d.ChannelID,
				"snapshot", d.HasSnapshot(),
			)
		},
	}
}
