package faultline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// CrashExitCode is the exit code used by the [CrashHandler] after recording a crash
const CrashExitCode = 1

// CrashHandler records fatal signals and exits.
//
// On receiving one of its signals, the CrashHandler renders a crash report (see [CrashReport]),
// writes it with a single call to an already-open output (stderr by default), writes a crash
// dump file to the Environment's crash dump directory, and exits with [CrashExitCode]. It never
// returns control to the application, even if recording the crash fails partway through.
//
// Signals are received through a [SignalManager], so the signals it handles are only those that
// are delivered asynchronously (e.g. by kill(2)). Synchronous faults in Go code become panics
// instead, and crashes inside the runtime are written by the runtime itself to the crash output
// file set up by InstallCrashHandler (see [runtime/debug.SetCrashOutput]).
type CrashHandler struct {
	env     Environment
	log     zerolog.Logger
	out     *os.File
	exit    func(int)
	signals []os.Signal

	runtimeOutput bool
	runtimeFile   *os.File
	runtimeHeader int64

	handling atomic.Bool
	lastDump atomic.Pointer[string]
}

// CrashOption configures a [CrashHandler]
type CrashOption func(*CrashHandler)

// WithEmergencyOutput sets the already-open file that crash reports are written to. The default is
// os.Stderr.
func WithEmergencyOutput(f *os.File) CrashOption {
	return func(h *CrashHandler) { h.out = f }
}

// WithExit replaces os.Exit as the function used to terminate the process after a crash
func WithExit(exit func(code int)) CrashOption {
	return func(h *CrashHandler) { h.exit = exit }
}

// WithCrashSignals sets the signals that are handled as crashes. The default on unix systems is
// SIGSEGV, SIGBUS, SIGABRT, and SIGTERM.
func WithCrashSignals(sigs ...os.Signal) CrashOption {
	return func(h *CrashHandler) { h.signals = sigs }
}

// WithoutRuntimeCrashOutput disables redirecting the Go runtime's own crash output to a file
func WithoutRuntimeCrashOutput() CrashOption {
	return func(h *CrashHandler) { h.runtimeOutput = false }
}

// WithCrashLogger sets the logger used for problems setting up or tearing down the CrashHandler.
// It's never used while handling a crash.
func WithCrashLogger(l zerolog.Logger) CrashOption {
	return func(h *CrashHandler) { h.log = l }
}

// InstallCrashHandler creates a new CrashHandler and registers it with mgr for each of its
// signals. A nil env uses [DefaultEnvironment].
//
// Everything that can be done ahead of time is: the crash dump directory is created, and the
// runtime crash output file is opened.
func InstallCrashHandler(env Environment, mgr *SignalManager, opts ...CrashOption) (*CrashHandler, error) {
	h := &CrashHandler{
		env:           orDefaultEnvironment(env),
		log:           zerolog.Nop(),
		out:           os.Stderr,
		exit:          os.Exit,
		signals:       defaultCrashSignals(),
		runtimeOutput: true,
	}
	for _, o := range opts {
		o(h)
	}

	if err := os.MkdirAll(h.env.CrashDumpDir(), 0o755); err != nil {
		return nil, errors.Wrap(err, "could not create crash dump directory")
	}

	if h.runtimeOutput {
		if err := h.setupRuntimeOutput(); err != nil {
			return nil, err
		}
	}

	for _, sig := range h.signals {
		sig := sig
		err := mgr.On(sig, context.Background(), func(context.Context) error {
			h.handle(sig)
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "could not register handler for %v", sig)
		}
	}

	return h, nil
}

func (h *CrashHandler) setupRuntimeOutput() error {
	name := h.env.AppName() + "-runtime-crash-" + FileTimestamp(h.env.StartTime()) + ".txt"
	path := filepath.Join(h.env.CrashDumpDir(), name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "could not open runtime crash output")
	}

	header := h.env.AppName() + " runtime crash output\n\n" + h.env.SystemDetails()
	n, err := f.WriteString(header)
	if err != nil {
		_ = f.Close()
		return errors.Wrap(err, "could not write runtime crash output header")
	}

	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return errors.Wrap(err, "could not set runtime crash output")
	}

	h.runtimeFile = f
	h.runtimeHeader = int64(n)
	return nil
}

// Close stops sending the runtime's crash output to a file, removing the file if nothing was
// written to it. Close does not unregister the signal handlers.
func (h *CrashHandler) Close() error {
	if h.runtimeFile == nil {
		return nil
	}

	f := h.runtimeFile
	h.runtimeFile = nil

	if err := debug.SetCrashOutput(nil, debug.CrashOptions{}); err != nil {
		h.log.Warn().Err(err).Msg("Could not reset runtime crash output")
	}

	info, statErr := f.Stat()
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "could not close runtime crash output")
	}
	if statErr == nil && info.Size() <= h.runtimeHeader {
		if err := os.Remove(f.Name()); err != nil {
			return errors.Wrap(err, "could not remove unused runtime crash output")
		}
	}
	return nil
}

// LastDump returns the path of the most recent crash dump written by the handler, if any
func (h *CrashHandler) LastDump() (string, bool) {
	if p := h.lastDump.Load(); p != nil {
		return *p, true
	}
	return "", false
}

func (h *CrashHandler) handle(sig os.Signal) {
	// a second crash while handling the first goes straight to exit
	if !h.handling.CompareAndSwap(false, true) {
		h.exit(CrashExitCode)
		return
	}

	// deferred in this order so the recover always runs before exiting
	defer h.exit(CrashExitCode)
	defer func() { _ = recover() }()

	crashTime := time.Now()
	trace := GetStackTrace(nil, 1)
	report := CrashReport(h.env, sig, crashTime, trace, allGoroutines())

	_, _ = h.out.Write([]byte(report))

	if path, err := WriteCrashDump(h.env, crashTime, report); err == nil {
		h.lastDump.Store(&path)
		_, _ = h.out.Write([]byte("crash dump written to " + path + "\n"))
	}
}

// CrashReport renders the report for a crash from sig at crashTime. The goroutines, if not empty,
// are the output of runtime.Stack for all goroutines.
func CrashReport(env Environment, sig os.Signal, crashTime time.Time, trace StackTrace, goroutines []byte) string {
	env = orDefaultEnvironment(env)

	var buf strings.Builder
	buf.WriteString(env.AppName())
	buf.WriteString(" Crashed! :'(\n\n")
	if sig != nil {
		buf.WriteString("SIGNAL: ")
		buf.WriteString(sig.String())
		buf.WriteString("\n\n")
	}
	buf.WriteString("TIME:\n\n")
	buf.WriteString("    Start Time   : " + Timestamp(env.StartTime()) + "\n")
	buf.WriteString("    Crash Time   : " + Timestamp(crashTime) + "\n\n")
	buf.WriteString(env.SystemDetails())
	buf.WriteString("STACK TRACE:\n\n")
	buf.WriteString(trace.String())
	if len(goroutines) != 0 {
		buf.WriteString("\nGOROUTINES:\n\n")
		buf.Write(goroutines)
		buf.WriteString("\n")
	}
	return buf.String()
}

// CrashDumpName returns the file name of a crash dump for the application at crashTime
func CrashDumpName(appName string, crashTime time.Time) string {
	if appName == "" {
		return "crashdump-" + FileTimestamp(crashTime) + ".txt"
	}
	return appName + "-crashdump-" + FileTimestamp(crashTime) + ".txt"
}

// WriteCrashDump writes the report to a new crash dump file in env.CrashDumpDir(), returning its
// path.
func WriteCrashDump(env Environment, crashTime time.Time, report string) (string, error) {
	env = orDefaultEnvironment(env)

	dir := env.CrashDumpDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "could not create crash dump directory")
	}

	path := filepath.Join(dir, CrashDumpName(env.AppName(), crashTime))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "could not create crash dump")
	}

	if _, err := f.WriteString(report); err != nil {
		_ = f.Close()
		return path, errors.Wrap(err, "could not write crash dump")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return path, errors.Wrap(err, "could not sync crash dump")
	}
	return path, errors.Wrap(f.Close(), "could not close crash dump")
}

func allGoroutines() []byte {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= 8<<20 {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}
