package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"cloudproof/internal/configuration"

	"gopkg.in/natefinch/lumberjack.v2"
)

// parseLevel maps debug, info, warn/warning and error to a slog level.
// Unknown values fall back to Info.
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

// prepareLogger installs a JSON slog logger as the default. Output goes to stdout, or
// to a lumberjack rotating file when cfg.File is set. The returned func closes the file.
func prepareLogger(cfg configuration.LoggerConfig) func() error {
	var out io.Writer = os.Stdout
	closer := func() error { return nil }

	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out = file
		closer = file.Close
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	slog.SetDefault(slog.New(handler))
	return closer
}
