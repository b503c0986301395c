// Package recovery holds the repository-wide policy switch that decides
// whether malformed input is tolerated or surfaced as a hard error.
package recovery

// Strategy is consulted whenever a component encounters malformed input
// that it could either repair or propagate.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location pins an error to a position in the source document.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	// ActionFail propagates the error to the caller.
	ActionFail Action = iota
	// ActionSkip drops the offending element and continues.
	ActionSkip
	// ActionFix applies the component's best-effort repair.
	ActionFix
	// ActionWarn records the error and continues without repair.
	ActionWarn
)
