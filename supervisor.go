package faultline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrNotOwner is returned by [Supervisor.Checkpoint] when called from a goroutine other than the
	// Supervisor's owner, or before an owner has been established.
	ErrNotOwner = errors.New("checkpoint called from a goroutine that does not own the supervisor")
	// ErrAlreadyJoined is returned by [Thread.Join] when the Thread has already been joined
	ErrAlreadyJoined = errors.New("thread has already been joined")
)

// Exit codes for faults reaching the top of an application, see [ExitCode]
const (
	ExitOK       = 0
	ExitFault    = 2
	ExitError    = 3
	ExitUnknown  = 4
	ExitNotOwner = 13
)

// Supervisor is the shared context for capturing faults across goroutines.
//
// One goroutine owns the Supervisor (by default, the one that created it). Faults raised on the
// owner are returned directly, to be handled like any other error. Faults raised anywhere else
// (including panics and errors escaping goroutines started with [Supervisor.Go]) are deposited in
// the Supervisor's [FaultChannel], for the owner to pick up by periodically calling
// [Supervisor.Checkpoint].
type Supervisor struct {
	env    Environment
	log    zerolog.Logger
	owner  atomic.Uint64
	faults *FaultChannel

	threads      *ThreadGroup
	running      sync.Map // goroutine id -> *Thread
	panicOnFault bool
}

// Option configures a [Supervisor]
type Option func(*supervisorConfig)

type supervisorConfig struct {
	logger       zerolog.Logger
	backlog      int
	panicOnFault bool
	notifier     func(*Fault)
	noOwner      bool
}

// WithLogger sets the logger used by the Supervisor. The default is [zerolog.Nop].
func WithLogger(l zerolog.Logger) Option {
	return func(c *supervisorConfig) { c.logger = l }
}

// WithBacklog sets the number of faults that can be waiting for [Supervisor.Checkpoint] before
// the oldest is dropped. The default is one.
func WithBacklog(n int) Option {
	return func(c *supervisorConfig) { c.backlog = n }
}

// WithPanicOnFault makes goroutines started by [Supervisor.Go] turn unexpected memory faults (e.g.
// from memory-mapped files) into panics, so they are captured as faults instead of crashing the
// process. See [runtime/debug.SetPanicOnFault].
func WithPanicOnFault(enabled bool) Option {
	return func(c *supervisorConfig) { c.panicOnFault = enabled }
}

// WithNotifier sets a function to call whenever a fault is deposited for the owner, e.g. to wake up
// a UI event loop so that it calls [Supervisor.Checkpoint] promptly.
func WithNotifier(notify func(*Fault)) Option {
	return func(c *supervisorConfig) { c.notifier = notify }
}

// WithoutOwner creates the Supervisor without an owner, until one calls
// [Supervisor.ClaimOwnership]. Until then, every goroutine is treated as a non-owner.
func WithoutOwner() Option {
	return func(c *supervisorConfig) { c.noOwner = true }
}

// NewSupervisor creates a new Supervisor, owned by the calling goroutine (unless [WithoutOwner] is
// given). A nil env uses [DefaultEnvironment].
func NewSupervisor(env Environment, opts ...Option) *Supervisor {
	cfg := supervisorConfig{logger: zerolog.Nop(), backlog: 1}
	for _, o := range opts {
		o(&cfg)
	}

	env = orDefaultEnvironment(env)
	s := &Supervisor{
		env:          env,
		log:          cfg.logger,
		faults:       NewFaultChannel(cfg.backlog),
		threads:      NewThreadGroup(env.AppName()),
		panicOnFault: cfg.panicOnFault,
	}

	s.faults.OnOverwrite(func(dropped *Fault) {
		s.log.Warn().Object("fault", dropped).Msg("Fault dropped before it could be handled")
	})
	if cfg.notifier != nil {
		s.faults.OnDeposit(cfg.notifier)
	}

	if !cfg.noOwner {
		s.owner.Store(goroutineID())
	}
	return s
}

// Environment returns the Environment the Supervisor was created with
func (s *Supervisor) Environment() Environment { return s.env }

// Logger returns the Supervisor's logger
func (s *Supervisor) Logger() zerolog.Logger { return s.log }

// Channel returns the FaultChannel that faults from non-owner goroutines are deposited into
func (s *Supervisor) Channel() *FaultChannel { return s.faults }

// Threads returns the ThreadGroup tracking goroutines started with [Supervisor.Go]
func (s *Supervisor) Threads() *ThreadGroup { return s.threads }

// Owner returns the goroutine id of the owner, or zero if there isn't one
func (s *Supervisor) Owner() uint64 { return s.owner.Load() }

// IsOwner returns whether the calling goroutine owns the Supervisor
func (s *Supervisor) IsOwner() bool {
	owner := s.owner.Load()
	return owner != 0 && owner == goroutineID()
}

// ClaimOwnership makes the calling goroutine the owner of the Supervisor
func (s *Supervisor) ClaimOwnership() {
	s.owner.Store(goroutineID())
}

// Raise creates a recoverable Fault at the caller's location and routes it: on the owner goroutine,
// it's only returned; elsewhere, it's also deposited for the owner's next [Supervisor.Checkpoint].
//
// Either way, Raise returns the Fault, so the typical use is:
//
//	if err := sv.Raise("failed to do thing"); err != nil {
//		return err
//	}
func (s *Supervisor) Raise(msg string) error {
	return s.route(s.newFault(msg, false, nil, 1))
}

// Raisef is like Raise, with a formatted message
func (s *Supervisor) Raisef(format string, args ...any) error {
	return s.route(s.newFault(fmt.Sprintf(format, args...), false, nil, 1))
}

// Fatal is like Raise, but creates a fatal Fault
func (s *Supervisor) Fatal(msg string) error {
	return s.route(s.newFault(msg, true, nil, 1))
}

// Fatalf is like Fatal, with a formatted message
func (s *Supervisor) Fatalf(format string, args ...any) error {
	return s.route(s.newFault(fmt.Sprintf(format, args...), true, nil, 1))
}

// Report routes an existing error the same way as [Supervisor.Raise], wrapping it in a recoverable
// Fault at the caller's location if it isn't one already. Report returns nil if err is nil.
func (s *Supervisor) Report(err error) error {
	if err == nil {
		return nil
	}

	f, ok := err.(*Fault)
	if !ok {
		f = s.newFault(err.Error(), false, err, 1)
	}
	return s.route(f)
}

// Expects raises a fatal Fault if the pre-condition cond is not met, and otherwise returns nil
func (s *Supervisor) Expects(cond bool, what string) error {
	if cond {
		return nil
	}
	return s.route(s.newFault("Pre-condition failed: "+what, true, nil, 1))
}

// Ensures raises a fatal Fault if the post-condition cond is not met, and otherwise returns nil
func (s *Supervisor) Ensures(cond bool, what string) error {
	if cond {
		return nil
	}
	return s.route(s.newFault("Post-condition failed: "+what, true, nil, 1))
}

// Checkpoint takes the oldest fault deposited by another goroutine and returns it, or nil if there
// isn't one. It's meant to be called periodically by the owner, e.g. once per iteration of its
// main loop.
//
// Checkpoint returns ErrNotOwner if the calling goroutine isn't the owner. In that case, pending
// faults are left for the owner.
func (s *Supervisor) Checkpoint() error {
	if !s.IsOwner() {
		return ErrNotOwner
	}

	f := s.faults.Drain()
	if f == nil {
		return nil
	}

	s.log.Debug().Str("fault", f.Error()).Uint64("from", f.Goroutine()).Msg("Raising fault deposited by another goroutine")
	return f
}

// Shutdown waits for all goroutines started by [Supervisor.Go] to finish. If the context is done
// first, the returned error lists the goroutines that are still running.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	return s.waitFor(ctx, s.threads)
}

func (s *Supervisor) waitFor(ctx context.Context, tg *ThreadGroup) error {
	if err := tg.TryWait(ctx); err != nil {
		tree := tg.Tree()
		s.log.Warn().Str("running", tree.String()).Msg("Gave up waiting for goroutines to finish")
		return errors.Wrapf(err, "goroutines still running:\n%s", tree)
	}
	return nil
}

// ExitCode returns the process exit code conventionally used for an error reaching the top of an
// application: [ExitFault] for faults, [ExitUnknown] for faults from unknown panics, [ExitNotOwner]
// for misuse of [Supervisor.Checkpoint], and [ExitError] for anything else.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	} else if errors.Is(err, ErrNotOwner) {
		return ExitNotOwner
	}

	if f, ok := AsFault(err); ok {
		if errors.Is(f, ErrUnknown) {
			return ExitUnknown
		}
		return ExitFault
	}

	return ExitError
}

func (s *Supervisor) newFault(msg string, fatal bool, cause error, skip uint) *Fault {
	trace := GetStackTrace(s.spawnTrace(), skip+1)
	return newFault(s.env, msg, fatal, cause, trace)
}

// spawnTrace returns where the calling goroutine was started, if it was started by s.Go
func (s *Supervisor) spawnTrace() *StackTrace {
	if t, ok := s.running.Load(goroutineID()); ok {
		return &t.(*Thread).spawnedFrom
	}
	return nil
}

func (s *Supervisor) route(f *Fault) error {
	if s.IsOwner() {
		return f
	}

	s.deposit(f)
	return f
}

// deposit hands f to the owner, unless it was already handed over. A fault raised in a supervised
// goroutine and then returned from it reaches the owner once, even if the owner drained it in
// between.
func (s *Supervisor) deposit(f *Fault) {
	if !f.routed.CompareAndSwap(false, true) {
		return
	}
	if s.faults.Deposit(f) {
		s.log.Debug().Str("fault", f.Error()).Msg("Deposited fault for owner")
	}
}
