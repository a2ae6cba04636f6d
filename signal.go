package faultline

import (
	"context"
	"os"
	ossignal "os/signal" // rename so we can have function args named 'signal'
	"sync"
	"syscall"
)

// SignalRegister is the interface for registering callbacks on a signal, implemented by
// [SignalManager] and the value returned by [SignalManager.WithErrorHandler].
type SignalRegister interface {
	On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error
	WithErrorHandler(handler func(context.Context, error) error) SignalRegister
}

// SignalManager runs callbacks when a signal happens, exactly once per signal.
//
// A signal can be any comparable value. Signals are triggered manually with
// [SignalManager.Trigger], except for [syscall.Signal] values: registering interest in one (with
// [SignalManager.On] or [SignalManager.Context]) starts forwarding it from the operating system,
// and stops the OS from handling it the default way. Other [os.Signal] implementations are only
// ever triggered manually.
//
// Callbacks for a signal run sequentially, in the reverse order of registration. The first
// unhandled error stops the remaining callbacks.
type SignalManager struct {
	mu sync.Mutex

	signals map[any]signalState
	stopped bool
}

type signalRegisterWithErrorHandler struct {
	m          *SignalManager
	errHandler func(context.Context, error) error
}

type signalState struct {
	ctx    context.Context
	cancel context.CancelFunc

	callbacks []callback
	cleanup   func()
	triggered bool
	ignored   bool
}

type callback struct {
	f     func(context.Context) error
	onErr func(context.Context, error) error
}

// NewSignalManager creates a new SignalManager, with no signals registered
func NewSignalManager() *SignalManager {
	return &SignalManager{
		signals: make(map[any]signalState),
	}
}

func (m *SignalManager) setupOSSignal(s *signalState, signal any) {
	if s.triggered || s.cleanup != nil {
		return
	}

	// os/signal only delivers syscall.Signal values
	sig, ok := signal.(syscall.Signal)
	if !ok {
		return
	}

	ch := make(chan os.Signal, 1)
	ossignal.Notify(ch, sig)
	stop := make(chan struct{})
	s.cleanup = func() {
		ossignal.Stop(ch)
		close(stop)
	}
	go func() {
		for {
			select {
			case <-ch:
				_ = m.triggerOS(signal)
			case <-stop:
				return
			}
		}
	}()
}

// On registers callbacks to run when the signal is triggered. If it's already been triggered, the
// callbacks are run immediately (in reverse order), with immediateCtx.
func (m *SignalManager) On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error {
	return m.on(signal, immediateCtx, nil, callbacks...)
}

// WithErrorHandler returns a SignalRegister that passes errors from its callbacks through handler.
// If handler returns nil, the error is considered handled.
func (m *SignalManager) WithErrorHandler(handler func(context.Context, error) error) SignalRegister {
	return &signalRegisterWithErrorHandler{m: m, errHandler: handler}
}

func (r *signalRegisterWithErrorHandler) On(signal any, ctx context.Context, callbacks ...func(context.Context) error) error {
	return r.m.on(signal, ctx, r.errHandler, callbacks...)
}

func (r *signalRegisterWithErrorHandler) WithErrorHandler(handler func(context.Context, error) error) SignalRegister {
	outer := r.errHandler
	return &signalRegisterWithErrorHandler{
		m: r.m,
		errHandler: func(ctx context.Context, err error) error {
			if err = handler(ctx, err); err != nil {
				err = outer(ctx, err)
			}
			return err
		},
	}
}

func (m *SignalManager) on(signal any, ctx context.Context, errHandler func(context.Context, error) error, callbacks ...func(context.Context) error) error {
	m.mu.Lock()
	locked := true
	defer func() {
		if locked {
			m.mu.Unlock()
		}
	}()

	if m.stopped {
		return nil
	}

	s := m.signals[signal]
	m.setupOSSignal(&s, signal)

	// if the signal already happened, do the callbacks ourselves, right now
	if s.triggered {
		locked = false
		m.mu.Unlock()

		for i := len(callbacks) - 1; i >= 0; i -= 1 {
			err := callbacks[i](ctx)
			if err != nil && errHandler != nil {
				err = errHandler(ctx, err)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	for _, f := range callbacks {
		s.callbacks = append(s.callbacks, callback{f: f, onErr: errHandler})
	}

	m.signals[signal] = s
	return nil
}

var canceledContext = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// Context returns a context that is canceled when the signal is triggered
func (m *SignalManager) Context(signal any) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return canceledContext
	}

	s := m.signals[signal]
	if s.triggered {
		return canceledContext
	} else if s.ctx != nil {
		return s.ctx
	}

	m.setupOSSignal(&s, signal)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	m.signals[signal] = s
	return s.ctx
}

// Triggered returns whether the signal has been triggered
func (m *SignalManager) Triggered(signal any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.signals[signal].triggered
}

// Trigger triggers the signal, running all of its callbacks with ctx. Triggering a signal more
// than once has no effect.
//
// Trigger returns the first unhandled error from a callback.
func (m *SignalManager) Trigger(signal any, ctx context.Context) error {
	return m.trigger(signal, ctx, true)
}

func (m *SignalManager) triggerOS(signal any) error {
	return m.trigger(signal, context.Background(), false)
}

func (m *SignalManager) trigger(signal any, ctx context.Context, explicit bool) error {
	m.mu.Lock()
	locked := true
	defer func() {
		if locked {
			m.mu.Unlock()
		}
	}()

	if m.stopped {
		return nil
	}

	s := m.signals[signal]
	if s.triggered || (s.ignored && !explicit) {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.triggered = true // prevents all further writes to the callbacks
	m.signals[signal] = s

	// Release the lock while running callbacks; they may be reentrant. Reading s.callbacks is still
	// ok, because s.triggered = true prevents anyone else from writing to it.
	locked = false
	m.mu.Unlock()

	var err error
	for i := len(s.callbacks) - 1; i >= 0 && err == nil; i -= 1 {
		cb := s.callbacks[i]
		err = cb.f(ctx)
		if err != nil && cb.onErr != nil {
			err = cb.onErr(ctx, err)
		}
	}

	m.mu.Lock()
	locked = true
	// unset callbacks so they can be garbage collected
	s = m.signals[signal]
	s.callbacks = nil
	m.signals[signal] = s
	return err
}

// Ignore stops the signal from being triggered by the operating system. Explicit calls to
// [SignalManager.Trigger] still trigger it.
func (m *SignalManager) Ignore(signal any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.signals[signal]
	s.ignored = true
	m.signals[signal] = s
}

// Stop stops forwarding all signals from the operating system, restoring their default behavior.
// After Stop, no callbacks will be run.
func (m *SignalManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	m.stopped = true
	for sig, s := range m.signals {
		if s.cleanup != nil {
			s.cleanup()
			s.cleanup = nil
			m.signals[sig] = s
		}
	}
}
