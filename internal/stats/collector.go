package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks transfer session statistics using lock-free atomic counters.
type Collector struct {
	sessionsStarted   atomic.Int64
	sessionsActive    atomic.Int64
	sessionsCompleted atomic.Int64
	sessionsFailed    atomic.Int64
	lockConflicts     atomic.Int64
	sizeMismatches    atomic.Int64
	timeouts          atomic.Int64
	bytesTransferred  atomic.Int64
	bytesTotal        atomic.Int64
	startTime         time.Time

	// Ring buffer, written only by the presenter's Tick() and never by sessions.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per tick
	ringIdx    int
	ringCount  int // samples written, capped at ringSize
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	SessionsStarted   int64
	SessionsActive    int64
	SessionsCompleted int64
	SessionsFailed    int64
	LockConflicts     int64
	SizeMismatches    int64
	Timeouts          int64
	BytesTransferred  int64
	BytesTotal        int64
	Elapsed           time.Duration
}

// SessionStarted records a newly accepted or dialed session.
func (c *Collector) SessionStarted() {
	c.sessionsStarted.Add(1)
	c.sessionsActive.Add(1)
}

// SessionCompleted records a session that ended with a verified transfer.
func (c *Collector) SessionCompleted() {
	c.sessionsActive.Add(-1)
	c.sessionsCompleted.Add(1)
}

// SessionFailed records a session that ended with an error.
func (c *Collector) SessionFailed() {
	c.sessionsActive.Add(-1)
	c.sessionsFailed.Add(1)
}

func (c *Collector) AddLockConflicts(n int64)    { c.lockConflicts.Add(n) }
func (c *Collector) AddSizeMismatches(n int64)   { c.sizeMismatches.Add(n) }
func (c *Collector) AddTimeouts(n int64)         { c.timeouts.Add(n) }
func (c *Collector) AddBytesTransferred(n int64) { c.bytesTransferred.Add(n) }
func (c *Collector) AddBytesTotal(n int64)       { c.bytesTotal.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		SessionsStarted:   c.sessionsStarted.Load(),
		SessionsActive:    c.sessionsActive.Load(),
		SessionsCompleted: c.sessionsCompleted.Load(),
		SessionsFailed:    c.sessionsFailed.Load(),
		LockConflicts:     c.lockConflicts.Load(),
		SizeMismatches:    c.sizeMismatches.Load(),
		Timeouts:          c.timeouts.Load(),
		BytesTransferred:  c.bytesTransferred.Load(),
		BytesTotal:        c.bytesTotal.Load(),
		Elapsed:           c.Elapsed(),
	}
}

// Tick snapshots the byte delta into the ring buffer. Called 1/sec by the presenter.
func (c *Collector) Tick() {
	current := c.bytesTransferred.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// ETA estimates remaining time based on rolling speed and remaining bytes.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesTransferred.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"sessions=%d active=%d completed=%d failed=%d conflicts=%d mismatches=%d timeouts=%d bytes=%d",
		s.SessionsStarted, s.SessionsActive, s.SessionsCompleted, s.SessionsFailed,
		s.LockConflicts, s.SizeMismatches, s.Timeouts, s.BytesTransferred,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
