package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/stats"
)

const (
	progressBarWidth = 20
	barMinInterval   = 50 * time.Millisecond // don't redraw faster than this
)

// barPresenter redraws a single progress line in place on a terminal.
type barPresenter struct {
	w     io.Writer // the terminal
	out   io.Writer // completion lines
	stats *stats.Collector
	width int

	name     string
	state    string
	drawn    bool
	lastDraw time.Time
}

func (p *barPresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clear()
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.draw()
		}
	}
}

func (p *barPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.SessionStarted:
		p.name = ev.Path
	case event.StateChanged:
		p.state = ev.State
		p.draw()
	case event.TransferProgress:
		if time.Since(p.lastDraw) >= barMinInterval {
			p.draw()
		}
	case event.SessionCompleted:
		p.clear()
		fmt.Fprintf(p.out, "✓  %s  %s  blake3:%s\n", ev.Path, FormatBytes(ev.Size), ev.Digest)
	case event.SessionFailed:
		p.clear()
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.out, "✗  %s  %s\n", ev.Path, errMsg)
	}
}

func (p *barPresenter) draw() {
	snap := p.stats.Snapshot()
	pct := Percent(snap.BytesTransferred, snap.BytesTotal)

	line := fmt.Sprintf("%s  %s %3.0f%%  %s / %s  %s  eta %s  %s",
		p.name,
		ProgressBar(pct, progressBarWidth), pct*100,
		FormatBytes(snap.BytesTransferred), FormatBytes(snap.BytesTotal),
		FormatRate(p.stats.RollingSpeed(5)),
		FormatETA(p.stats.ETA()),
		strings.ToLower(p.state),
	)
	if p.width > 0 {
		line = truncate(line, p.width-1)
	}
	fmt.Fprintf(p.w, "\r\033[K%s", line)
	p.drawn = true
	p.lastDraw = time.Now()
}

func (p *barPresenter) clear() {
	if !p.drawn {
		return
	}
	fmt.Fprint(p.w, "\r\033[K")
	p.drawn = false
}

func (p *barPresenter) Summary() string {
	return completionSummary(p.stats.Snapshot())
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if n < 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
