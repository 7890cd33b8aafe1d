// Package logging configures structured logging for the relaychat binaries.
//
// Both server and client log through log/slog. Setup installs the default
// logger once in main; packages then log through slog directly or through a
// component logger:
//
//	logging.Setup(logging.Options{Level: "debug", Format: "json"})
//	log := logging.Component("registry")
//	log.Info("admitted", "name", name)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // "debug", "info", "warn", "error" (default: "info")
	Format string    // "text" or "json" (default: "text")
	Output io.Writer // default: os.Stdout
}

var levels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel converts a level name to slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	l, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: %s)", level, LevelNames())
	}
	return l, nil
}

// LevelNames returns all valid level names, useful for --help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// New builds a logger from opts without touching the process default.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // file:line in debug mode
	}

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: text, json)", opts.Format)
	}
}

// Setup builds a logger from opts and installs it as the slog default.
func Setup(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
