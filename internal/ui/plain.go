package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/stats"
)

// plainPresenter prints one line per finished session to stdout and periodic
// progress to stderr. Used when stderr is not a terminal.
type plainPresenter struct {
	w     io.Writer
	errW  io.Writer
	stats *stats.Collector
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.printProgress()
		}
	}
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.SessionCompleted:
		fmt.Fprintf(p.w, "%s  %s  blake3:%s\n", ev.Path, FormatBytes(ev.Size), ev.Digest)
	case event.SessionFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "%s  %s  %s\n", ev.Path, FormatBytes(ev.Size), errMsg)
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	if snap.BytesTotal > 0 {
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s %s eta %s\n",
			Percent(snap.BytesTransferred, snap.BytesTotal)*100,
			FormatBytes(snap.BytesTransferred), FormatBytes(snap.BytesTotal),
			FormatRate(p.stats.RollingSpeed(10)),
			FormatETA(p.stats.ETA()),
		)
		return
	}
	fmt.Fprintf(p.errW, "progress: %s sent\n", FormatBytes(snap.BytesTransferred))
}

func (p *plainPresenter) Summary() string {
	return completionSummary(p.stats.Snapshot())
}
