// Package logging builds the process-wide structured logger: JSON output,
// configurable level, and redaction of secret-bearing attributes.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

var sensitiveKeys = []string{
	"password",
	"api_key",
	"apikey",
	"token",
	"secret",
	"license_key",
	"auth",
	"authorization",
}

// New returns a JSON slog.Logger writing to w at the given level (debug,
// info, warn, error; defaults to info). String attributes whose key looks
// secret-bearing are redacted before they reach the sink.
func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	key := strings.ToLower(a.Key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			a.Value = slog.StringValue("***REDACTED***")
			return a
		}
	}
	return a
}
