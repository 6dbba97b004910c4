package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger writes JSON records to stdout, or readable text at debug level in
// dev. Both go through ContextHandler.
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	var handler slog.Handler

	if env == "dev" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: env == "prod",
		})
	}

	return slog.New(NewContextHandler(handler)).With("env", env)
}
