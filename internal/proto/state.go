package proto

import (
	"time"

	"github.com/bamsammich/transdata/internal/event"
	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/stats"
)

// State is a phase of a transfer session.
type State int

const (
	Init State = iota
	MetadataExchanged
	ResourceAcquired
	Transferring
	Verified
	Closed
	Aborted
)

var stateNames = [...]string{
	Init:              "INIT",
	MetadataExchanged: "METADATA_EXCHANGED",
	ResourceAcquired:  "RESOURCE_ACQUIRED",
	Transferring:      "TRANSFERRING",
	Verified:          "VERIFIED",
	Closed:            "CLOSED",
	Aborted:           "ABORTED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == Closed || s == Aborted }

// Result describes a finished session on either side.
type Result struct {
	Started     time.Time
	Finished    time.Time
	SessionID   string
	Remote      string // peer address
	Name        string // file name as carried in the metadata record
	Path        string // destination path (server only)
	Digest      string // BLAKE3 hex digest of the transferred bytes
	Size        int64  // advertised size
	Transferred int64  // bulk bytes sent or received
	State       State
}

// tracker moves a session through its states and reports each transition.
type tracker struct {
	events chan<- event.Event
	res    *Result
}

func newTracker(events chan<- event.Event, res *Result) *tracker {
	res.State = Init
	t := &tracker{events: events, res: res}
	event.Emit(events, t.base(event.SessionStarted))
	return t
}

// enter transitions to s. Terminal states are absorbing.
func (t *tracker) enter(s State) {
	if t.res.State.Terminal() {
		return
	}
	t.res.State = s
	ev := t.base(event.StateChanged)
	ev.State = s.String()
	event.Emit(t.events, ev)
}

func (t *tracker) progress(n int64) {
	ev := t.base(event.TransferProgress)
	ev.Size = n
	ev.Total = t.res.Size
	event.Emit(t.events, ev)
}

func (t *tracker) base(typ event.Type) event.Event {
	path := t.res.Name
	if t.res.Path != "" {
		path = t.res.Path
	}
	return event.Event{
		Type:      typ,
		SessionID: t.res.SessionID,
		Remote:    t.res.Remote,
		Path:      path,
		Size:      t.res.Size,
	}
}

// finish records the session outcome. On a timeout the connection is reset
// before the failure is reported so the peer is never left half-open. The
// terminal event waits for room on the events channel; all others may drop.
func finish(conn *Conn, t *tracker, st *stats.Collector, err error) {
	t.res.Finished = time.Now()
	if err == nil {
		t.enter(Closed)
		st.SessionCompleted()
		ev := t.base(event.SessionCompleted)
		ev.Digest = t.res.Digest
		event.Deliver(t.events, ev)
		return
	}

	kind := fault.KindOf(err)
	if kind == fault.Timeout && conn != nil {
		conn.Abort() //nolint:errcheck // the timeout is the failure being reported
	}
	t.enter(Aborted)

	switch kind {
	case fault.LockExists:
		st.AddLockConflicts(1)
	case fault.SizeMismatch:
		st.AddSizeMismatches(1)
	case fault.Timeout:
		st.AddTimeouts(1)
	}
	st.SessionFailed()

	ev := t.base(event.SessionFailed)
	ev.Error = err
	event.Deliver(t.events, ev)
}
