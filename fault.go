package faultline

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ErrUnknown is the cause of faults produced from panics with values that aren't errors
var ErrUnknown = errors.New("unknown fatal error occurred")

// Fault is an error that carries where it happened: the source location, a captured
// [StackTrace], whether it's fatal, and the host context at the time.
//
// Everything about a Fault is computed when it's created, including the full human-readable
// report ([Fault.Report]). After that, a Fault is immutable, and all of its methods are pure
// reads that are safe to call from any goroutine.
type Fault struct {
	msg       string
	file      string
	function  string
	line      int
	fatal     bool
	cause     error
	trace     StackTrace
	details   string
	time      time.Time
	goroutine uint64

	report string

	// set once a Supervisor has sent the Fault to its owner
	routed atomic.Bool
}

// NewFault creates a new Fault with the message, capturing the stack and source location of the
// caller, skipping skip additional frames.
//
// A nil env uses [DefaultEnvironment].
func NewFault(env Environment, msg string, fatal bool, skip uint) *Fault {
	trace := GetStackTrace(nil, skip+1)
	return newFault(env, msg, fatal, nil, trace)
}

// NewFaultAt is like NewFault, but with an explicitly given source location. The stack trace is
// still captured from the caller of NewFaultAt.
//
// It's meant for faults that originate somewhere other than Go code, like a script interpreter or
// a C library reporting its own location.
func NewFaultAt(env Environment, msg, file, function string, line int, fatal bool) *Fault {
	trace := GetStackTrace(nil, 1)
	f := newFault(env, msg, fatal, nil, trace)
	f.file, f.function, f.line = file, function, line
	f.report = f.render()
	return f
}

// WrapFault creates a new Fault from err, capturing the stack and source location of the caller,
// skipping skip additional frames. The message of the Fault is err.Error(), and err is its cause.
//
// If err is already a *Fault, it is returned unchanged. WrapFault returns nil if err is nil.
func WrapFault(env Environment, err error, fatal bool, skip uint) *Fault {
	if err == nil {
		return nil
	} else if f, ok := err.(*Fault); ok {
		return f
	}

	trace := GetStackTrace(nil, skip+1)
	return newFault(env, err.Error(), fatal, err, trace)
}

// newFault renders a Fault with the location taken from the innermost frame of trace
func newFault(env Environment, msg string, fatal bool, cause error, trace StackTrace) *Fault {
	env = orDefaultEnvironment(env)

	f := &Fault{
		msg:       msg,
		fatal:     fatal,
		cause:     cause,
		trace:     trace,
		details:   env.SystemDetails(),
		time:      time.Now(),
		goroutine: goroutineID(),
	}

	if len(trace.Frames) != 0 {
		top := trace.Frames[0]
		f.file, f.function, f.line = top.File, top.Function, top.Line
	}

	f.report = f.render()
	return f
}

func (f *Fault) render() string {
	var buf strings.Builder

	buf.WriteString(f.Error())
	buf.WriteString("\nin `")
	buf.WriteString(orUnknown(f.function))
	buf.WriteString("` at `")
	buf.WriteString(orUnknown(f.file))
	buf.WriteString(":")
	buf.WriteString(strconv.Itoa(f.line))
	buf.WriteString("`\n\n")
	buf.WriteString(f.details)
	buf.WriteString("STACK TRACE:\n\n")
	buf.WriteString(f.trace.String())

	return buf.String()
}

// Error returns the message of the Fault, prefixed by "FATAL " if it's fatal
func (f *Fault) Error() string {
	if f.fatal {
		return "FATAL " + f.msg
	}
	return f.msg
}

// Message returns the message the Fault was created with
func (f *Fault) Message() string { return f.msg }

// File returns the source file the Fault was raised in, or "" if unknown
func (f *Fault) File() string { return f.file }

// Function returns the fully-qualified function the Fault was raised in, or "" if unknown
func (f *Fault) Function() string { return f.function }

// Line returns the line number the Fault was raised at, or 0 if unknown
func (f *Fault) Line() int { return f.line }

// Fatal returns whether the Fault is fatal, i.e. whether the application is expected to exit after
// handling it
func (f *Fault) Fatal() bool { return f.fatal }

// Trace returns the stack trace captured when the Fault was created
func (f *Fault) Trace() StackTrace { return f.trace }

// Time returns when the Fault was created
func (f *Fault) Time() time.Time { return f.time }

// Goroutine returns the id of the goroutine the Fault was created on
func (f *Fault) Goroutine() uint64 { return f.goroutine }

// Report returns the full report for the Fault: message, location, system details, and stack
// trace.
func (f *Fault) Report() string { return f.report }

// Unwrap returns the error the Fault was created from, if any
func (f *Fault) Unwrap() error { return f.cause }

// Cause is equivalent to Unwrap, for compatibility with [errors.Cause]
func (f *Fault) Cause() error { return f.cause }

// Format implements fmt.Formatter. The verbs %s and %v produce the same as Error, and %+v produces
// the full report.
func (f *Fault) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, f.report)
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, f.Error())
	case 'q':
		fmt.Fprintf(s, "%q", f.Error())
	}
}

// AsFault returns the first *Fault in err's chain, if there is one
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
