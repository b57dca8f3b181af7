// Package logging builds the single *slog.Logger every component in
// this module receives through constructor injection — never a
// package-level global — stamped with a per-run stream id so every line
// from one monitor invocation can be correlated.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Options configures the handler New builds.
type Options struct {
	// Writer receives the JSON log lines. Defaults to os.Stderr.
	Writer io.Writer
	// Level sets the minimum logged level. Defaults to slog.LevelInfo.
	Level slog.Level
	// StreamID is attached to every line as "stream_id". A fresh
	// uuid.NewString() is generated when left empty.
	StreamID string
}

// New builds a *slog.Logger with a JSON handler and a stream_id
// attribute bound for the lifetime of the returned logger.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	streamID := opts.StreamID
	if streamID == "" {
		streamID = uuid.NewString()
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(handler).With("stream_id", streamID)
}
