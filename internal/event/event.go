package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	SessionStarted Type = iota + 1
	StateChanged
	TransferProgress
	SessionCompleted
	SessionFailed
)

var typeNames = [...]string{
	SessionStarted:   "SessionStarted",
	StateChanged:     "StateChanged",
	TransferProgress: "TransferProgress",
	SessionCompleted: "SessionCompleted",
	SessionFailed:    "SessionFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is a notification about a transfer session.
type Event struct {
	Type      Type
	Timestamp time.Time
	SessionID string
	Remote    string // peer address
	Path      string // file name or destination path
	State     string // session state after a StateChanged
	Digest    string // BLAKE3 hex digest (SessionCompleted)
	Size      int64  // advertised size, or bytes-so-far for TransferProgress
	Total     int64  // advertised size (TransferProgress)
	Error     error
}

// Emit sends ev on ch without blocking. Events are dropped when ch is nil or
// full; the sender never waits on a slow consumer.
func Emit(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case ch <- ev:
	default:
	}
}

// Deliver sends ev on ch, waiting for the consumer when ch is full. It is
// used for the one terminal event of a session so that event is never lost
// to a burst of progress events. A nil ch is a no-op.
func Deliver(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ch <- ev
}
