package faultline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Thread is a handle to a goroutine started with [Supervisor.Go].
//
// A Thread is Running until its function finishes, after which it may be joined exactly once with
// [Thread.Join]. Any fault captured from the goroutine has, by then, also been deposited for the
// Supervisor's owner.
type Thread struct {
	name        string
	spawnedFrom StackTrace
	done        chan struct{}
	fault       *Fault
	joined      atomic.Bool
}

// Go starts fn in a new supervised goroutine with the given name.
//
// If fn returns an error or panics, the result is captured as a [Fault] (see [Protect]) and
// deposited into the Supervisor's [FaultChannel], to be picked up by the owner's next
// [Supervisor.Checkpoint]. Stack traces captured in the goroutine are linked to where Go was
// called.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(context.Context) error) *Thread {
	return s.spawn(ctx, s.threads, name, fn, 1)
}

// spawn starts fn as a supervised goroutine counted in tg. The spawn trace skips the given number
// of frames above spawn's caller.
func (s *Supervisor) spawn(ctx context.Context, tg *ThreadGroup, name string, fn func(context.Context) error, skip uint) *Thread {
	t := &Thread{
		name:        name,
		spawnedFrom: GetStackTrace(nil, skip+1),
		done:        make(chan struct{}),
	}

	tg.Add(name)
	go func() {
		defer close(t.done)
		defer tg.Done(name)

		gid := goroutineID()
		s.running.Store(gid, t)
		defer s.running.Delete(gid)

		if s.panicOnFault {
			debug.SetPanicOnFault(true)
		}

		t.fault = Protect(s.env, &t.spawnedFrom, func() error { return fn(ctx) })
		if t.fault != nil {
			s.log.Error().Str("thread", name).Object("fault", t.fault).Msg("Supervised goroutine failed")
			s.deposit(t.fault)
		}
	}()

	return t
}

// Name returns the name the Thread was started with
func (t *Thread) Name() string { return t.name }

// Done returns a channel that is closed once the goroutine has finished
func (t *Thread) Done() <-chan struct{} { return t.done }

// Finished returns whether the goroutine has finished
func (t *Thread) Finished() bool { return isClosed(t.done) }

// Joinable returns whether the Thread has not yet been joined
func (t *Thread) Joinable() bool { return !t.joined.Load() }

// Join waits for the goroutine to finish, returning the Fault captured from it, if there was one.
//
// Join may only be called once; subsequent calls return ErrAlreadyJoined without waiting.
func (t *Thread) Join() error {
	if !t.joined.CompareAndSwap(false, true) {
		return ErrAlreadyJoined
	}

	<-t.done
	if t.fault == nil {
		return nil
	}
	return t.fault
}

// Protect calls fn, converting anything that escapes it into a Fault:
//
//   - A returned or panicked *Fault is returned unchanged.
//   - Any other error becomes a fatal Fault with that error as its cause. The stack trace is the
//     one recorded by the error, if it has one (like those from github.com/pkg/errors), otherwise
//     the panic site, or the point where fn returned.
//   - Panics with any other value become a fatal Fault caused by [ErrUnknown].
//
// Protect returns nil if fn returns nil, or if fn calls [runtime.Goexit]. Traces captured by
// Protect have parent as their parent. A nil env uses [DefaultEnvironment].
func Protect(env Environment, parent *StackTrace, fn func() error) (f *Fault) {
	returned := false
	defer func() {
		if returned {
			return
		}
		// r is nil only for runtime.Goexit; panic(nil) produces *runtime.PanicNilError
		if r := recover(); r != nil {
			f = faultFromPanic(env, parent, r, panicTrace(parent))
		}
	}()

	err := fn()
	returned = true
	return faultFromError(env, parent, err)
}

func panicTrace(parent *StackTrace) StackTrace {
	st := GetStackTrace(parent, 1)
	st.Frames = withoutPanicFrames(st.Frames)
	return st
}

func faultFromPanic(env Environment, parent *StackTrace, r any, trace StackTrace) *Fault {
	switch v := r.(type) {
	case *Fault:
		return v
	case error:
		if st, ok := recordedTrace(v, parent); ok {
			trace = st
		}
		return newFault(env, v.Error(), true, v, trace)
	default:
		cause := errors.WithMessage(ErrUnknown, fmt.Sprint(r))
		return newFault(env, ErrUnknown.Error()+": "+fmt.Sprint(r), true, cause, trace)
	}
}

func faultFromError(env Environment, parent *StackTrace, err error) *Fault {
	if err == nil {
		return nil
	} else if f, ok := AsFault(err); ok {
		return f
	}

	trace, ok := recordedTrace(err, parent)
	if !ok {
		// skip faultFromError; the innermost frame is Protect
		trace = GetStackTrace(parent, 1)
	}
	return newFault(env, err.Error(), true, err, trace)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// recordedTrace returns the stack recorded by the innermost error in err's chain that has one
func recordedTrace(err error, parent *StackTrace) (StackTrace, bool) {
	var pcs []uintptr
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			frames := st.StackTrace()
			pcs = pcs[:0]
			for _, fr := range frames {
				// errors.Frame is the return address, like runtime.Callers
				pcs = append(pcs, uintptr(fr))
			}
		}
	}
	if len(pcs) == 0 {
		return StackTrace{}, false
	}

	frames := currentSymbolizer().Symbolize(pcs)
	if len(frames) > MaxFrames {
		frames = frames[:MaxFrames]
	}
	return StackTrace{Frames: frames, Parent: parent}, true
}

// unexported helpers relating to channels

var alwaysClosed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func isClosed(c <-chan struct{}) bool {
	if c == nil {
		return false
	}

	select {
	case <-c:
		return true
	default:
		return false
	}
}
