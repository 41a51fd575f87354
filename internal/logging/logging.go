// Package logging configures slog for the transdata commands and turns
// session events into log records.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// DebugFilePrefix names the per-process debug log the daemon writes in debug
// mode: trans-data-server.<pid>.
const DebugFilePrefix = "trans-data-server."

// Options selects where records go.
type Options struct {
	Stderr io.Writer // defaults to os.Stderr
	// LogFile, when set, receives every record as JSON.
	LogFile string
	// DebugDir, when set, receives a text debug log named after the process.
	DebugDir string
	Debug    bool
	Quiet    bool
}

// Level returns the stderr level implied by the verbosity flags.
func (o Options) Level() slog.Level {
	switch {
	case o.Debug:
		return slog.LevelDebug
	case o.Quiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Setup builds a logger from opts and installs it as the slog default. The
// returned close function flushes and closes any log files.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(opts.Stderr, &slog.HandlerOptions{Level: opts.Level()}),
	}
	var files []*os.File
	closeAll := func() error {
		var errs []error
		for _, f := range files {
			errs = append(errs, f.Close())
		}
		return errors.Join(errs...)
	}

	if opts.LogFile != "" {
		lf, err := os.Create(opts.LogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("create log file: %w", err)
		}
		files = append(files, lf)
		handlers = append(handlers, slog.NewJSONHandler(lf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	if opts.DebugDir != "" {
		path := DebugFilePath(opts.DebugDir, os.Getpid())
		df, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			closeAll() //nolint:errcheck // create error wins
			return nil, nil, fmt.Errorf("create debug log: %w", err)
		}
		files = append(files, df)
		handlers = append(handlers, slog.NewTextHandler(df, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = NewMultiHandler(handlers...)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, closeAll, nil
}

// DebugFilePath returns the daemon debug log path for pid inside dir.
func DebugFilePath(dir string, pid int) string {
	return filepath.Join(dir, DebugFilePrefix+strconv.Itoa(pid))
}
