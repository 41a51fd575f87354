// Package fault defines the closed set of failure kinds a transfer session
// can end with. Every session returns exactly one error; KindOf recovers its
// kind for logging, journaling and exit-code selection.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind int

const (
	ArgumentInvalid Kind = iota + 1
	FileOpenFailed
	SocketSetupFailed // socket, bind or listen
	ConnectFailed
	SendFailed
	ReceiveFailed
	Timeout
	SizeMismatch
	BufferOverflow
	LockExists
	LockCreateFailed
	LockRemoveFailed
	Internal
)

var kindNames = [...]string{
	0:                 "ok",
	ArgumentInvalid:   "argument invalid",
	FileOpenFailed:    "file open failed",
	SocketSetupFailed: "socket setup failed",
	ConnectFailed:     "connect failed",
	SendFailed:        "send failed",
	ReceiveFailed:     "receive failed",
	Timeout:           "timeout",
	SizeMismatch:      "size mismatch",
	BufferOverflow:    "buffer overflow",
	LockExists:        "lock exists",
	LockCreateFailed:  "lock create failed",
	LockRemoveFailed:  "lock remove failed",
	Internal:          "internal error",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Error is a failure of a given Kind raised by operation Op.
type Error struct {
	Err  error
	Op   string
	Kind Kind
}

// New wraps err (which may be nil) as a failure of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a failure whose cause is a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the outermost *Error in err's chain. A nil error
// has kind 0 ("ok"); an error carrying no kind is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RemoteMessage is the text of an error record received from the peer.
type RemoteMessage string

func (m RemoteMessage) Error() string { return "remote rejected: " + string(m) }

// Remote builds the failure surfaced when the peer aborts the session with an
// error record. kind is the local interpretation of the rejection.
func Remote(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Err: RemoteMessage(message)}
}

// IsRemote reports whether err originated from an error record sent by the
// peer, and returns the peer's message.
func IsRemote(err error) (string, bool) {
	var m RemoteMessage
	if errors.As(err, &m) {
		return string(m), true
	}
	return "", false
}
