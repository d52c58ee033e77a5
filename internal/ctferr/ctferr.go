package ctferr

import (
	"errors"
	"fmt"
)

// Kind classifies writer errors so callers can branch with errors.Is.
type Kind int

const (
	KindUnknown Kind = iota
	KindTypeMismatch
	KindOutOfRange
	KindDuplicateField
	KindDuplicateName
	KindDuplicateID
	KindRangeConflict
	KindFrozenSchema
	KindForeignEventClass
	KindNoSuchField
	KindIndexOutOfBounds
	KindIOFailure
	KindInternalInconsistency
	KindInvalidArgument
	KindStreamFailed
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindTypeMismatch:          "type mismatch",
	KindOutOfRange:            "out of range",
	KindDuplicateField:        "duplicate field",
	KindDuplicateName:         "duplicate name",
	KindDuplicateID:           "duplicate id",
	KindRangeConflict:         "range conflict",
	KindFrozenSchema:          "frozen schema",
	KindForeignEventClass:     "foreign event class",
	KindNoSuchField:           "no such field",
	KindIndexOutOfBounds:      "index out of bounds",
	KindIOFailure:             "i/o failure",
	KindInternalInconsistency: "internal inconsistency",
	KindInvalidArgument:       "invalid argument",
	KindStreamFailed:          "stream failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error implements errors.Is against the per-kind sentinels below, so
// errors.Is(err, ErrOutOfRange) holds for any *Error of that kind.
func (k Kind) Error() string { return k.String() }

// Sentinels for errors.Is.
var (
	ErrTypeMismatch          error = KindTypeMismatch
	ErrOutOfRange            error = KindOutOfRange
	ErrDuplicateField        error = KindDuplicateField
	ErrDuplicateName         error = KindDuplicateName
	ErrDuplicateID           error = KindDuplicateID
	ErrRangeConflict         error = KindRangeConflict
	ErrFrozenSchema          error = KindFrozenSchema
	ErrForeignEventClass     error = KindForeignEventClass
	ErrNoSuchField           error = KindNoSuchField
	ErrIndexOutOfBounds      error = KindIndexOutOfBounds
	ErrIOFailure             error = KindIOFailure
	ErrInternalInconsistency error = KindInternalInconsistency
	ErrInvalidArgument       error = KindInvalidArgument
	ErrStreamFailed          error = KindStreamFailed
)

// Error carries the failing operation and, for I/O failures, the path involved.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	if s != "" {
		s += ": "
	}
	s += e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return false
}

// New builds an error of the given kind with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IO wraps an underlying file system error as an IOFailure.
func IO(op, path string, err error) *Error {
	return &Error{Kind: KindIOFailure, Op: op, Path: path, Err: err}
}

// KindOf reports the Kind of err, or KindUnknown if err is not a writer error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindUnknown
}
