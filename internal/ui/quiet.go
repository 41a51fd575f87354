package ui

import "github.com/bamsammich/transdata/internal/event"

// quietPresenter consumes events but produces no output.
type quietPresenter struct{}

func (*quietPresenter) Run(events <-chan event.Event) error {
	for range events { //nolint:revive // drain so senders never see a full channel
	}
	return nil
}

func (*quietPresenter) Summary() string {
	return ""
}
