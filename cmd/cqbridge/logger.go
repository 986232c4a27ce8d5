package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// logLevels maps config strings to slog levels. "warning" is accepted as an
// alias since systemd drop-ins tend to spell it out.
var logLevels = map[string]slog.Level{
	"error":   slog.LevelError,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
}

func parseLogLevel(level string) (slog.Level, error) {
	l, ok := logLevels[strings.ToLower(level)]
	if !ok {
		return 0, fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
	return l, nil
}

// setupLogger builds the daemon logger. Logs go to stderr so stdout stays
// clean for the version/usage output.
func setupLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
