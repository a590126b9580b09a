package main

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// newLogger builds the process logger. Interactive chat raises the floor to
// warn so log lines do not interleave with the conversation, unless debug
// logging was asked for.
func newLogger(output io.Writer, level string, interactive bool) *slog.Logger {
	lvl := parseLevel(level)
	if interactive && lvl > slog.LevelDebug && lvl < slog.LevelWarn {
		lvl = slog.LevelWarn
	}
	handler := tint.NewHandler(output, &tint.Options{
		Level:      lvl,
		TimeFormat: "2006-01-02 15:04:05.000Z07:00",
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
