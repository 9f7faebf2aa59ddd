package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/term"
)

const (
	// SummaryFile receives generation changes and results (INFO and above).
	SummaryFile = "main.log"
	// DebugFile receives every record, including per-simulation start/finish.
	DebugFile = "debug.log"
)

// Options configures the logging context.
type Options struct {
	// Dir is where main.log and debug.log are written. Empty disables file sinks.
	Dir string

	// Level is the minimum level written to the console sink.
	Level slog.Level

	// Console receives the console sink. Defaults to os.Stdout.
	Console io.Writer

	// JSON forces the JSON console handler even on a terminal.
	JSON bool
}

// Logger is the process-wide logging context. It is created once before any
// component runs and must be closed at process exit so file sinks are flushed.
type Logger struct {
	*slog.Logger
	files []*os.File
}

// ParseLevel maps a flag value to a slog level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the logging context with a console sink and, if opts.Dir is
// set, the summary and debug file sinks. Files are opened in append mode so a
// resumed run keeps the history of the interrupted one.
func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	handlers := []slog.Handler{consoleHandler(console, opts)}
	l := &Logger{}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		sinks := []struct {
			name  string
			level slog.Level
		}{
			{SummaryFile, slog.LevelInfo},
			{DebugFile, slog.LevelDebug},
		}
		for _, sink := range sinks {
			f, err := os.OpenFile(filepath.Join(opts.Dir, sink.name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				l.closeFiles()
				return nil, fmt.Errorf("failed to open %s: %w", sink.name, err)
			}
			l.files = append(l.files, f)
			handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: sink.level}))
		}
	}

	l.Logger = slog.New(NewFanout(handlers...))
	return l, nil
}

// Discard returns a logger that drops everything. Used by tests and library
// callers that do not care about output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Close syncs and closes the file sinks.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.closeFiles()
}

func (l *Logger) closeFiles() error {
	var errs []error
	for _, f := range l.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.files = nil
	return errors.Join(errs...)
}

func consoleHandler(w io.Writer, opts Options) slog.Handler {
	hopts := &slog.HandlerOptions{Level: opts.Level}
	if !opts.JSON && isTerminal(w) {
		return slog.NewTextHandler(w, hopts)
	}
	return slog.NewJSONHandler(w, hopts)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Fanout dispatches every record to each child handler that accepts its level.
type Fanout struct {
	handlers []slog.Handler
}

// NewFanout creates a handler writing to all of the given handlers.
func NewFanout(handlers ...slog.Handler) *Fanout {
	return &Fanout{handlers: handlers}
}

func (f *Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &Fanout{handlers: next}
}

func (f *Fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &Fanout{handlers: next}
}
