package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns the process logger. JSON output so log aggregation stays cheap.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
