// Package logging builds the process logger: human-readable text on stdout
// and JSON on stderr, or in a rotating file when one is configured.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level slog.Leveler
	// File receives the JSON stream instead of stderr when set. It is
	// rotated at MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns the logger and a closer for the JSON sink. Closing is a no-op
// when the sink is stderr.
func New(opts Options) (*slog.Logger, io.Closer) {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	var sink io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		sink, closer = rotating, rotating
	}
	return newLogger(os.Stdout, sink, opts.Level), closer
}

func newLogger(text, json io.Writer, level slog.Leveler) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: level}
	return slog.New(slog.NewMultiHandler(
		slog.NewTextHandler(text, handlerOpts),
		slog.NewJSONHandler(json, handlerOpts),
	))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
