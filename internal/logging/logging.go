// Package logging wraps log/slog with a rotating file sink for memlog's CLI.
// Grounded on bd's go.mod dependency on gopkg.in/natefinch/lumberjack.v2 for
// its own log rotation; memlog uses the same library the same way, behind a
// plain slog.Logger so callers never import lumberjack directly.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger New builds.
type Options struct {
	// LogFile, if non-empty, routes logs to a rotating file instead of stderr.
	LogFile string
	// JSON selects slog's JSON handler over its text handler.
	JSON bool
}

// New builds a slog.Logger writing to LogFile (rotated at 50MB, 5 backups,
// 28 days) when set, or stderr otherwise.
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stderr
	if opts.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return slog.New(handler)
}

// EventAppended logs one structured line after an event-log append; the
// record-episode and append-event commands call it.
func EventAppended(log *slog.Logger, eventType, episodeID string, eventID int64, inserted bool) {
	log.Info("event_appended",
		"event_type", eventType,
		"episode_id", episodeID,
		"event_id", eventID,
		"inserted", inserted,
	)
}
