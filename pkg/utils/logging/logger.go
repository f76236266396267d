package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/clog"
)

type ctxLoggerKey struct{}

var fallback atomic.Pointer[slog.Logger]

func init() {
	fallback.Store(New("info", os.Stderr))
}

// New builds a console logger at the given level. Level is one of
// debug/info/warn/error (case-insensitive); anything else falls back to
// info. Goerr values attached to errors are expanded into attributes.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(clog.New(
		clog.WithWriter(w),
		clog.WithLevel(levelOf(level)),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	))
}

func levelOf(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Default returns the process-wide logger.
func Default() *slog.Logger {
	return fallback.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(logger *slog.Logger) {
	if logger != nil {
		fallback.Store(logger)
	}
}

// With attaches a logger to the context; From on a derived context
// returns it.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// From returns the context's logger, or the process-wide one when none
// was attached.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
