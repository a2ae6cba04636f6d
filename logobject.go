package faultline

import (
	"github.com/rs/zerolog"
)

func (f StackFrame) MarshalZerologObject(e *zerolog.Event) {
	e.Str("function", orUnknown(f.Function)).Str("file", orUnknown(f.File)).Int("line", f.Line)
}

// MarshalZerologArray adds the frames of the StackTrace, followed by those of its parents.
func (st StackTrace) MarshalZerologArray(a *zerolog.Array) {
	for {
		for _, f := range st.Frames {
			a.Object(f)
		}
		if st.Parent == nil {
			return
		}
		st = *st.Parent
	}
}

func (f *Fault) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message", f.msg).
		Bool("fatal", f.fatal).
		Str("function", orUnknown(f.function)).
		Str("file", orUnknown(f.file)).
		Int("line", f.line).
		Uint64("goroutine", f.goroutine)
	if f.cause != nil {
		e.AnErr("cause", f.cause)
	}
	e.Array("stack", f.trace)
}
