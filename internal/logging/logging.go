// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// level is shared by every handler ever derived from the root logger, so a
// later Setup call changes the level of loggers created at package init.
var level = new(slog.LevelVar)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

// Setup sets the process log level. Verbose enables debug output, useful
// when tuning detection thresholds. Safe to call after loggers have been
// handed out.
func Setup(verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	slog.SetDefault(logger)
}

// For returns a logger tagged with the originating component.
func For(component string) *slog.Logger {
	return logger.With("component", component)
}
