package recovery

import (
	"fmt"

	"pdfcore/observability"
)

// StrictStrategy fails on the first malformed element.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy { return &StrictStrategy{} }

func (s *StrictStrategy) OnError(err error, location Location) Action {
	return ActionFail
}

// LenientStrategy repairs what it can and accumulates warnings.
// It is the default policy: broken objects become free entries and
// out-of-place markers are tolerated.
type LenientStrategy struct {
	Log    observability.Logger
	Errors []error
}

func NewLenientStrategy(log observability.Logger) *LenientStrategy {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &LenientStrategy{Log: log}
}

func (s *LenientStrategy) OnError(err error, location Location) Action {
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	s.Log.Warn("recovered from malformed input",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Int("object", location.ObjectNum),
		observability.Error("err", err))
	return ActionFix
}
