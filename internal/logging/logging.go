// Package logging configures the process-wide structured logger and
// keeps credentials out of log output.
package logging

import (
	"log/slog"
	"os"
	"strings"

	"cloudscope/internal/config"
)

// Setup installs the default slog logger per configuration. Format is
// "json" or "text"; unknown levels fall back to info.
func Setup(cfg config.Logging) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// MaskedValue replaces secrets in log output.
const MaskedValue = "[REDACTED]"

// MaskKey shows just enough of a credential id to tell accounts
// apart. Short values mask completely.
func MaskKey(s string) string {
	if s == "" {
		return s
	}
	if len(s) <= 8 {
		return MaskedValue
	}
	return s[:4] + "***" + s[len(s)-4:]
}

// MaskSecret fully masks a secret value, preserving only whether one
// was set.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	return MaskedValue
}
