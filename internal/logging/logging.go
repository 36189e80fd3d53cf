// Package logging configures the process-wide slog logger.
//
// stdout carries LSP traffic, so logs go to a file or to stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// Options selects the log sink and level.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// File is the log file path. Empty logs to Stderr.
	File string

	// Stderr is the fallback sink; os.Stderr when nil.
	Stderr *os.File
}

// DefaultFile returns ~/.wakatime/wakatime-ls.log, next to wakatime-cli's own log.
func DefaultFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".wakatime", "wakatime-ls.log")
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds a logger for opts. The returned closer releases the log file.
//
// Terminals get the text handler; files and pipes get JSON lines. A log
// file that cannot be opened falls back to Stderr with a warning, so the
// server stays available to the editor.
func New(opts Options) (*slog.Logger, io.Closer) {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	out := opts.Stderr
	if out == nil {
		out = os.Stderr
	}
	var closer io.Closer = nopCloser{}

	var fileErr error
	if opts.File != "" {
		f, err := openFile(opts.File)
		if err != nil {
			fileErr = err
		} else {
			out = f
			closer = f
		}
	}

	var handler slog.Handler
	if isTerminal(out) {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	logger := slog.New(handler)
	if fileErr != nil {
		logger.Warn("logging to stderr", "file", opts.File, "error", fileErr)
	}
	return logger, closer
}

func openFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
