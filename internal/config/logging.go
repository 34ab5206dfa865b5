package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging installs the process-wide structured logger. With a log
// folder configured, output goes to stderr and a small rotating file;
// otherwise stderr only.
func (c *Config) SetupLogging() {
	var out io.Writer = os.Stderr
	if c.LogFolder != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(c.LogFolder, "ecsched.log"),
			MaxSize:    5, // MiB
			MaxBackups: 1,
		})
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(c.LogLevel)})
	slog.SetDefault(slog.New(handler))
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
