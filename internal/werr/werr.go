// Package werr defines the typed error kinds surfaced by the wormtable
// engine and helpers for wrapping and classifying them, built on
// github.com/cockroachdb/errors.
package werr

import (
	"github.com/cockroachdb/errors"
)

// Kind identifies one of the mutually exclusive error categories a core
// operation can fail with.
type Kind int

const (
	// InvalidArgument covers bad column specs, out-of-range column
	// indexes, malformed key prefixes, unsupported sizes/types, empty or
	// duplicate column names.
	InvalidArgument Kind = iota
	// ValueOutOfRange: a scalar exceeds its column's declared range.
	ValueOutOfRange
	// CountMismatch: wrong element count for a fixed-count column,
	// the variable element limit exceeded, or char length mismatch.
	CountMismatch
	// RowTooLarge: the encoded row exceeds the maximum row size.
	RowTooLarge
	// OutOfRange: a row-id is beyond num_rows.
	OutOfRange
	// NotFound: table/index absent on read open, or a prefix probe with
	// no match.
	NotFound
	// AlreadyOpen: a lifecycle violation, opening an open database.
	AlreadyOpen
	// NotOpen: an operation requiring an open database found it closed.
	NotOpen
	// WrongMode: an operation valid only in read or write mode was
	// attempted in the other mode.
	WrongMode
	// OperationOnClosed: a cursor was advanced after its database closed.
	OperationOnClosed
	// IOError: the underlying ordered-key store or file system failed.
	IOError
	// CorruptMetadata: a sidecar failed to parse or its schema version
	// is unsupported.
	CorruptMetadata
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case ValueOutOfRange:
		return "ValueOutOfRange"
	case CountMismatch:
		return "CountMismatch"
	case RowTooLarge:
		return "RowTooLarge"
	case OutOfRange:
		return "OutOfRange"
	case NotFound:
		return "NotFound"
	case AlreadyOpen:
		return "AlreadyOpen"
	case NotOpen:
		return "NotOpen"
	case WrongMode:
		return "WrongMode"
	case OperationOnClosed:
		return "OperationOnClosed"
	case IOError:
		return "IOError"
	case CorruptMetadata:
		return "CorruptMetadata"
	default:
		return "Unknown"
	}
}

// Error is a wormtable error tagged with a Kind.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

// New constructs a new Kind-tagged error from a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, err: errors.New(msg)}
}

// Newf constructs a new Kind-tagged error with a formatted message, safe
// for structured redaction the way cockroachdb/errors expects.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, err: errors.Newf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it in the chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: errors.Wrap(err, msg)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: errors.Wrapf(err, format, args...)}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.err
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}

// KindOf returns the Kind of the first *Error found in err's chain, and
// false if neither err nor anything in its chain is a *Error.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		err = errors.Unwrap(err)
	}
	return 0, false
}
