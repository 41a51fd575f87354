package logging

import (
	"context"
	"log/slog"

	"github.com/bamsammich/transdata/internal/event"
)

// LogEvents writes each event as a "transdata.event" record until events is
// closed. State transitions and progress are Debug; failures are Warn.
func LogEvents(logger *slog.Logger, events <-chan event.Event) {
	ctx := context.Background()
	for ev := range events {
		level := slog.LevelDebug
		switch ev.Type {
		case event.SessionCompleted:
			level = slog.LevelInfo
		case event.SessionFailed:
			level = slog.LevelWarn
		}
		if !logger.Enabled(ctx, level) {
			continue
		}
		logger.LogAttrs(ctx, level, "transdata.event", Attrs(ev)...)
	}
}

// Attrs renders the populated fields of ev.
func Attrs(ev event.Event) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("type", ev.Type.String()),
		slog.String("session", ev.SessionID),
	}
	if ev.Remote != "" {
		attrs = append(attrs, slog.String("remote", ev.Remote))
	}
	if ev.Path != "" {
		attrs = append(attrs, slog.String("path", ev.Path))
	}
	if ev.State != "" {
		attrs = append(attrs, slog.String("state", ev.State))
	}
	if ev.Type == event.TransferProgress {
		attrs = append(attrs, slog.Int64("bytes", ev.Size), slog.Int64("total", ev.Total))
	} else {
		attrs = append(attrs, slog.Int64("size", ev.Size))
	}
	if ev.Digest != "" {
		attrs = append(attrs, slog.String("blake3", ev.Digest))
	}
	if ev.Error != nil {
		attrs = append(attrs, slog.String("error", ev.Error.Error()))
	}
	return attrs
}
