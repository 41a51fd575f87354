package proto

// Record tags. The tag is the first byte of every record and alone determines
// the record's total size on the wire; there is no length prefix.
const (
	TagMetadata byte = 'F'
	TagAck      byte = 'A'
	TagError    byte = 'E'
)

const (
	// FileNameSize is the width of the NUL-padded file name field.
	FileNameSize = 200
	// ErrorMessageSize is the width of the NUL-padded error message field.
	ErrorMessageSize = 1024

	// MetadataSize is tag(1) + file size(8, little-endian) + file name(200).
	MetadataSize = 1 + 8 + FileNameSize
	// AckSize is the tag alone.
	AckSize = 1
	// ErrorSize is tag(1) + error message(1024).
	ErrorSize = 1 + ErrorMessageSize

	// MaxFileNameLen is the longest name that survives encoding intact.
	MaxFileNameLen = FileNameSize - 1
	// MaxErrorMessageLen is the longest message that survives encoding intact.
	MaxErrorMessageLen = ErrorMessageSize - 1
)

// Metadata announces the file a client is about to push.
type Metadata struct {
	FileName string
	FileSize uint64
}

// ErrorRecord explains why the sender is aborting the session.
type ErrorRecord struct {
	Message string
}

// RecordSize returns the wire size of the record introduced by tag.
func RecordSize(tag byte) (int, bool) {
	switch tag {
	case TagMetadata:
		return MetadataSize, true
	case TagAck:
		return AckSize, true
	case TagError:
		return ErrorSize, true
	default:
		return 0, false
	}
}
