package pbf

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a decode failure. Every kind is fatal for the stream
// it was raised on.
type ErrorKind int

const (
	// KindTruncation: input ended inside a block.
	KindTruncation ErrorKind = iota + 1
	// KindSizeLimitExceeded: a header or blob is larger than the format allows.
	KindSizeLimitExceeded
	// KindSizeMismatch: inflated length differs from the declared raw_size.
	KindSizeMismatch
	// KindUnsupportedEncoding: a compression or block kind this package does not handle.
	KindUnsupportedEncoding
	// KindSchemaViolation: well-framed bytes whose contents break the schema.
	KindSchemaViolation
	// KindCorrupt: the zlib stream itself is damaged.
	KindCorrupt
)

func (k ErrorKind) String() string {
	switch k {
	case KindTruncation:
		return "truncation"
	case KindSizeLimitExceeded:
		return "size limit exceeded"
	case KindSizeMismatch:
		return "size mismatch"
	case KindUnsupportedEncoding:
		return "unsupported encoding"
	case KindSchemaViolation:
		return "schema violation"
	case KindCorrupt:
		return "corrupt data"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrTruncated           = &Error{Kind: KindTruncation}
	ErrSizeLimitExceeded   = &Error{Kind: KindSizeLimitExceeded}
	ErrSizeMismatch        = &Error{Kind: KindSizeMismatch}
	ErrUnsupportedEncoding = &Error{Kind: KindUnsupportedEncoding}
	ErrSchemaViolation     = &Error{Kind: KindSchemaViolation}
	ErrCorrupt             = &Error{Kind: KindCorrupt}
)

// Error is returned by every failing operation in this package.
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "read header"
	// Offset is the stream offset of the block's length prefix, or -1 when
	// the error was not raised while reading a stream.
	Offset int64
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := "pbf: " + e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Offset >= 0 && e.Op != "" {
		msg += fmt.Sprintf(" (block at offset %d)", e.Offset)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Offset: -1, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Offset: -1, Err: err}
}

// withOffset stamps the block offset onto err when it is one of ours.
func withOffset(err error, offset int64) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Offset < 0 {
		cp := *pe
		cp.Offset = offset
		return &cp
	}
	return err
}

// KindOf returns the kind of err, or 0 when err was not produced by this package.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
