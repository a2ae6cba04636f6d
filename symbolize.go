package faultline

import (
	"runtime"
	"sync/atomic"

	"github.com/ianlancetaylor/demangle"
)

// Symbolizer resolves raw program counters, as returned by [runtime.Callers], into frames.
//
// Implementations must not panic, and must return frames innermost first. A single program counter
// may expand to more than one frame if calls were inlined.
type Symbolizer interface {
	Symbolize(pcs []uintptr) []StackFrame
}

// RuntimeSymbolizer resolves frames with the Go runtime's own tables, falling back to the native
// object files (ELF symbol tables and DWARF line info, where supported) for program counters the
// runtime doesn't know about, e.g. C code called through cgo.
//
// All function names are demangled, so C++ and Rust symbols are readable.
type RuntimeSymbolizer struct {
	// DisableNative turns off the fallback to native object files
	DisableNative bool
}

func (s RuntimeSymbolizer) Symbolize(pcs []uintptr) []StackFrame {
	if len(pcs) == 0 {
		return nil
	}

	iter := runtime.CallersFrames(pcs)
	frames := make([]StackFrame, 0, len(pcs))
	for more := true; more; {
		var frame runtime.Frame
		frame, more = iter.Next()

		sf := StackFrame{
			PC:       frame.PC,
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		}

		if sf.Function == "" && !s.DisableNative {
			if fn, file, line, ok := resolveNative(frame.PC); ok {
				sf.Function, sf.File, sf.Line = fn, file, line
			}
		}

		sf.Function = demangleName(sf.Function)
		frames = append(frames, sf)
	}

	return frames
}

func demangleName(name string) string {
	if name == "" {
		return name
	}
	return demangle.Filter(name)
}

type symbolizerBox struct{ s Symbolizer }

var defaultSymbolizer atomic.Pointer[symbolizerBox]

// SetSymbolizer replaces the Symbolizer used by [GetStackTrace] for the whole process, returning
// the previous one. Passing nil restores the default [RuntimeSymbolizer].
func SetSymbolizer(s Symbolizer) Symbolizer {
	var box *symbolizerBox
	if s != nil {
		box = &symbolizerBox{s: s}
	}

	old := defaultSymbolizer.Swap(box)
	if old == nil {
		return RuntimeSymbolizer{}
	}
	return old.s
}

func currentSymbolizer() Symbolizer {
	if box := defaultSymbolizer.Load(); box != nil {
		return box.s
	}
	return RuntimeSymbolizer{}
}
