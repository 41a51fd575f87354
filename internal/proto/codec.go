package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a record's bytes do not have the layout its
// tag requires.
var ErrMalformed = errors.New("malformed record")

// EncodeMetadata returns the wire form of m. Names longer than
// MaxFileNameLen bytes are truncated so the field stays NUL-terminated.
func EncodeMetadata(m Metadata) []byte {
	buf := make([]byte, MetadataSize)
	buf[0] = TagMetadata
	binary.LittleEndian.PutUint64(buf[1:9], m.FileSize)
	putCString(buf[9:], m.FileName)
	return buf
}

// DecodeMetadata parses a metadata record.
func DecodeMetadata(b []byte) (Metadata, error) {
	if err := checkRecord(b, TagMetadata, MetadataSize); err != nil {
		return Metadata{}, err
	}
	name, err := cString(b[9:])
	if err != nil {
		return Metadata{}, fmt.Errorf("file name: %w", err)
	}
	return Metadata{
		FileSize: binary.LittleEndian.Uint64(b[1:9]),
		FileName: name,
	}, nil
}

// EncodeAck returns the wire form of an acknowledgment.
func EncodeAck() []byte {
	return []byte{TagAck}
}

// DecodeAck checks that b is an acknowledgment record.
func DecodeAck(b []byte) error {
	return checkRecord(b, TagAck, AckSize)
}

// EncodeError returns the wire form of an error record carrying msg,
// truncated to MaxErrorMessageLen bytes.
func EncodeError(msg string) []byte {
	buf := make([]byte, ErrorSize)
	buf[0] = TagError
	putCString(buf[1:], msg)
	return buf
}

// DecodeError parses an error record.
func DecodeError(b []byte) (ErrorRecord, error) {
	if err := checkRecord(b, TagError, ErrorSize); err != nil {
		return ErrorRecord{}, err
	}
	msg, err := cString(b[1:])
	if err != nil {
		return ErrorRecord{}, fmt.Errorf("error message: %w", err)
	}
	return ErrorRecord{Message: msg}, nil
}

func checkRecord(b []byte, tag byte, size int) error {
	if len(b) != size {
		return fmt.Errorf("%w: %q record is %d bytes, want %d", ErrMalformed, tag, len(b), size)
	}
	if b[0] != tag {
		return fmt.Errorf("%w: tag %q, want %q", ErrMalformed, b[0], tag)
	}
	return nil
}

// putCString copies s into the zeroed field dst, leaving at least one
// trailing NUL.
func putCString(dst []byte, s string) {
	copy(dst[:len(dst)-1], s)
}

// cString returns the bytes of field up to its first NUL. A field with no
// terminator is malformed.
func cString(field []byte) (string, error) {
	i := bytes.IndexByte(field, 0)
	if i < 0 {
		return "", fmt.Errorf("%w: missing NUL terminator", ErrMalformed)
	}
	return string(field[:i]), nil
}
