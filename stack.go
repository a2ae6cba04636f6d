package faultline

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// MaxFrames is the maximum number of frames collected by [GetStackTrace]. Deeper stacks are
// truncated, keeping the innermost frames.
const MaxFrames = 64

// StackTrace is a captured call stack, innermost frame first.
//
// Parent optionally links the StackTrace of whatever spawned the goroutine the trace was captured
// on, so that traces can be followed across goroutines.
type StackTrace struct {
	Frames []StackFrame
	Parent *StackTrace
}

// StackFrame is a single resolved frame in a [StackTrace]. Fields that could not be resolved are
// left empty (or zero), and are rendered as "??" and 0.
type StackFrame struct {
	PC       uintptr
	Function string
	File     string
	Line     int
}

// GetStackTrace captures the current goroutine's stack, skipping the first skip frames above the
// caller of GetStackTrace. Callers that wrap GetStackTrace must add one to skip for each level of
// wrapping.
//
// GetStackTrace never panics. If capturing fails for any reason, the returned StackTrace has no
// frames.
func GetStackTrace(parent *StackTrace, skip uint) StackTrace {
	frames := getFrames(skip + 1) // skip the additional frame introduced by GetStackTrace
	return StackTrace{Frames: frames, Parent: parent}
}

const emptyStack = "<empty, possibly corrupt>\n"

// String renders the StackTrace, one line per frame:
//
//	    [0]   0x00000000004a1b2c: main.run                                          | /src/main.go:42
//
// Traces with no frames are rendered as "<empty, possibly corrupt>". Parent traces follow, each
// separated by a "--- spawned from ---" line.
func (st StackTrace) String() string {
	var buf strings.Builder

	for {
		if len(st.Frames) == 0 {
			buf.WriteString(emptyStack)
		} else {
			for i, f := range st.Frames {
				f.writeTo(&buf, i)
			}
		}

		if st.Parent == nil {
			break
		}

		buf.WriteString("--- spawned from ---\n")
		st = *st.Parent
	}

	return buf.String()
}

// Empty returns whether the StackTrace and all of its parents have no frames
func (st StackTrace) Empty() bool {
	for {
		if len(st.Frames) != 0 {
			return false
		} else if st.Parent == nil {
			return true
		}
		st = *st.Parent
	}
}

func (f StackFrame) writeTo(buf *strings.Builder, idx int) {
	fmt.Fprintf(buf, "    [%d]   0x%016x: %-60s| %s:%d\n", idx, f.PC, orUnknown(f.Function), orUnknown(f.File), f.Line)
}

// String returns the frame as "function (file:line)"
func (f StackFrame) String() string {
	return fmt.Sprintf("%s (%s:%d)", orUnknown(f.Function), orUnknown(f.File), f.Line)
}

func orUnknown(s string) string {
	if s == "" {
		return "??"
	}
	return s
}

// withoutPanicFrames returns the frames above the most recent call to panic, dropping the
// runtime's own panic machinery.
//
// When a trace is captured inside a deferred recover, the frames of the function that panicked
// are still on the stack, underneath the deferred call and runtime.gopanic.
func withoutPanicFrames(frames []StackFrame) []StackFrame {
	idx := -1
	for i, f := range frames {
		if f.Function == "runtime.gopanic" {
			idx = i
		}
	}
	if idx == -1 {
		return frames
	}

	frames = frames[idx+1:]
	// runtime errors go through e.g. runtime.panicmem and runtime.sigpanic first
	for len(frames) != 0 && strings.HasPrefix(frames[0].Function, "runtime.") {
		frames = frames[1:]
	}
	return frames
}

var pcBufPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, MaxFrames)
		return &buf
	},
}

// CaptureRawFrames fills buf with the program counters of the current goroutine's stack, skipping
// the first skip frames above the caller, and returns the filled portion. The result can be resolved
// later with a [Symbolizer].
func CaptureRawFrames(skip uint, buf []uintptr) []uintptr {
	// skip runtime.Callers and this function, in addition to what was requested
	n := runtime.Callers(int(skip)+2, buf)
	return buf[:n]
}

func getFrames(skip uint) (frames []StackFrame) {
	defer func() {
		if recover() != nil {
			frames = nil
		}
	}()

	pcBuf := pcBufPool.Get().(*[]uintptr)
	defer pcBufPool.Put(pcBuf)

	pcs := CaptureRawFrames(skip+1, *pcBuf)
	if len(pcs) == 0 {
		return nil
	}

	frames = currentSymbolizer().Symbolize(pcs)
	if len(frames) > MaxFrames {
		frames = frames[:MaxFrames]
	}
	return frames
}
