package ui

import (
	"fmt"

	"github.com/bamsammich/transdata/internal/stats"
)

// completionSummary builds a final summary line from a snapshot.
// Format: done ✓  sent 2.1 GB  avg 641 MB/s  time 3m 17s
func completionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesTransferred) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.SessionsFailed > 0 {
		icon = "✗"
	}

	return fmt.Sprintf("done %s  sent %s  avg %s  time %s",
		icon,
		FormatBytes(snap.BytesTransferred),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
	)
}
