// Package logging builds the process-wide [slog.Logger]: a charmbracelet/log
// console handler, an optional size-rotated log file, and an optional bridge
// into the OpenTelemetry log provider.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level and sinks.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// File enables a rotated log file at this path.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// OTel forwards records to the global OpenTelemetry logger provider.
	OTel bool
}

// New returns a logger writing to w plus the sinks selected in opts. The
// returned closer releases the log file, if any.
func New(w io.Writer, opts Options) (*slog.Logger, io.Closer) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}

	handlers := []slog.Handler{
		log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
			Level:           level,
		}),
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err == nil {
			file := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
			}
			handlers = append(handlers, log.NewWithOptions(file, log.Options{
				ReportTimestamp: true,
				TimeFormat:      time.RFC3339,
				Level:           level,
				Formatter:       log.LogfmtFormatter,
			}))
			closer = file
		}
	}

	if opts.OTel {
		handlers = append(handlers, newOTelHandler("plextraktsync", slogLevel(level)))
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer
	}
	return slog.New(fanout(handlers)), closer
}

func slogLevel(l log.Level) slog.Level {
	switch l {
	case log.DebugLevel:
		return slog.LevelDebug
	case log.WarnLevel:
		return slog.LevelWarn
	case log.ErrorLevel, log.FatalLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Measure logs msg with the elapsed time when the returned func is called.
//
//	defer logging.Measure(logger, "Processing section", "section", s.Title)()
func Measure(logger *slog.Logger, msg string, args ...any) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start).Round(time.Millisecond)
		logger.Info(msg, append(args, "elapsed", elapsed.String())...)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends every record to all handlers that accept its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
