package proto

import (
	"errors"

	"github.com/bamsammich/transdata/internal/fault"
)

// Messages carried by error records. Peers match on the exact text, so these
// are part of the wire contract.
const (
	MsgLockExists   = "lock file exist."
	MsgLockCreate   = "lock file create error."
	MsgLockGeneric  = "error occurred related to the lock file."
	MsgSizeMismatch = "The specified file size does not match the received file size."
	MsgInvalidName  = "invalid file name."
	MsgInvalidSize  = "invalid file size."
	MsgPathTooLong  = "file path too long."
)

// peerMessage returns the error-record text for failures the peer must hear
// about. Failures confined to this side report false.
func peerMessage(kind fault.Kind) (string, bool) {
	switch kind {
	case fault.LockExists:
		return MsgLockExists, true
	case fault.LockCreateFailed:
		return MsgLockCreate, true
	case fault.LockRemoveFailed:
		return MsgLockGeneric, true
	case fault.SizeMismatch:
		return MsgSizeMismatch, true
	case fault.ArgumentInvalid:
		return MsgInvalidName, true
	case fault.BufferOverflow:
		return MsgPathTooLong, true
	default:
		return "", false
	}
}

// remoteKind interprets an error record from the server. Unknown messages
// fall back to the kind implied by the phase the record arrived in.
func remoteKind(msg string, fallback fault.Kind) fault.Kind {
	switch msg {
	case MsgLockExists:
		return fault.LockExists
	case MsgLockCreate, MsgLockGeneric:
		return fault.LockCreateFailed
	case MsgSizeMismatch:
		return fault.SizeMismatch
	case MsgInvalidName, MsgInvalidSize:
		return fault.ArgumentInvalid
	case MsgPathTooLong:
		return fault.BufferOverflow
	default:
		return fallback
	}
}

// notify tells the peer why the session is ending, when the failure is one it
// needs to hear about. A failed send is dropped: err is what gets reported.
func notify(conn *Conn, err error) {
	msg, ok := peerMessage(fault.KindOf(err))
	if !ok {
		return
	}
	if errors.Is(err, errInvalidSize) {
		msg = MsgInvalidSize
	}
	conn.SendError(msg) //nolint:errcheck // the session failure wins
}
