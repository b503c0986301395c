// Package pdferr defines the error taxonomy shared by the parsing and
// writing layers. Every error carries enough position context (object
// number, generation, byte offset) for a precise diagnostic.
package pdferr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for policy decisions by callers.
type Kind int

const (
	// KindFormat marks malformed input that is always surfaced:
	// bad table records, invalid EOL, missing trailer or EOF marker.
	KindFormat Kind = iota
	// KindRecoverableOffset marks a wrong byte offset that triggers a
	// bounded re-scan before being surfaced.
	KindRecoverableOffset
	// KindCycle marks a revisited offset in the Prev chain or a
	// reference self-loop. Never silently broken.
	KindCycle
	// KindAuthentication marks a failed password check. Surfaced
	// distinctly so callers can re-prompt without re-parsing.
	KindAuthentication
	// KindBrokenObject marks an individual object that failed to load.
	// Lenient policy converts it to a free entry, strict aborts.
	KindBrokenObject
	// KindRecursionLimit marks a depth guard trip. Converts unbounded
	// recursion into a deterministic error.
	KindRecursionLimit
	// KindNotFound marks a lookup of a free or unknown handle.
	KindNotFound
	// KindValueOutOfRange marks a numeric field outside its legal range.
	KindValueOutOfRange
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format error"
	case KindRecoverableOffset:
		return "recoverable offset error"
	case KindCycle:
		return "cycle detected"
	case KindAuthentication:
		return "authentication failed"
	case KindBrokenObject:
		return "broken object"
	case KindRecursionLimit:
		return "recursion limit exceeded"
	case KindNotFound:
		return "object not found"
	case KindValueOutOfRange:
		return "value out of range"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type produced by the engine.
type Error struct {
	Kind   Kind
	Msg    string
	Offset int64 // byte offset in the source, -1 if unknown
	ObjNum int
	ObjGen int
	Err    error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.ObjNum > 0 {
		s += fmt.Sprintf(" (object %d %d R)", e.ObjNum, e.ObjGen)
	}
	if e.Offset >= 0 {
		s += fmt.Sprintf(" (offset %d)", e.Offset)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so callers can compare against
// the exported sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrFormat            = &Error{Kind: KindFormat, Offset: -1}
	ErrRecoverableOffset = &Error{Kind: KindRecoverableOffset, Offset: -1}
	ErrCycle             = &Error{Kind: KindCycle, Offset: -1}
	ErrAuthentication    = &Error{Kind: KindAuthentication, Offset: -1}
	ErrBrokenObject      = &Error{Kind: KindBrokenObject, Offset: -1}
	ErrRecursionLimit    = &Error{Kind: KindRecursionLimit, Offset: -1}
	ErrNotFound          = &Error{Kind: KindNotFound, Offset: -1}
	ErrValueOutOfRange   = &Error{Kind: KindValueOutOfRange, Offset: -1}
)

// New builds an Error with no position context.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Offset: -1}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Offset: -1}
}

// At returns a copy of the error annotated with a byte offset.
func (e *Error) At(offset int64) *Error {
	dup := *e
	dup.Offset = offset
	return &dup
}

// ForObject returns a copy annotated with an object number and generation.
func (e *Error) ForObject(num, gen int) *Error {
	dup := *e
	dup.ObjNum = num
	dup.ObjGen = gen
	return &dup
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	dup := *e
	dup.Err = err
	return &dup
}

// KindOf extracts the Kind from err, if it is or wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
