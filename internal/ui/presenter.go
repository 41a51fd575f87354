// Package ui renders client-side progress for a push session.
package ui

import (
	"io"

	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/stats"
)

// Presenter consumes session events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan event.Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Stats     *stats.Collector
	Width     int // terminal columns; 0 means unlimited
	IsTTY     bool
	Quiet     bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{}
	}
	if !cfg.IsTTY {
		return &plainPresenter{w: cfg.Writer, errW: cfg.ErrWriter, stats: cfg.Stats}
	}
	return &barPresenter{w: cfg.ErrWriter, out: cfg.Writer, stats: cfg.Stats, width: cfg.Width}
}
