package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sharnoff/faultline"
	"github.com/sharnoff/faultline/hostinfo"
	"github.com/sharnoff/faultline/sink"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	checkpointInterval = 10 * time.Millisecond
	shutdownTimeout    = time.Second
)

// ways for the worker to fail
const (
	failNone  = "none"
	failFault = "fault" // raises a fatal fault
	failError = "error" // returns a plain error
	failPanic = "panic" // panics with a value that isn't an error
	failCrash = "crash" // panics outside of any supervised thread
)

var runFlags struct {
	fail     string
	after    time.Duration
	duration time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run supervised workers until one of them fails",
	Long: `Run starts a worker that logs periodically and another that fails in the way given by --fail.
The main thread checks for faults every 10ms, and exits with a status that depends on the fault.

Failure modes: none, fault, error, panic, crash.`,
	DisableFlagsInUseLine: true,
	Args:                  cobra.NoArgs,
	RunE:                  wrap(runRun),
}

func init() {
	RootCmd.AddCommand(runCmd)

	addRunFlags(runCmd.Flags())
}

// addRunFlags defines the flags shared by the "run" and "monitor" commands
func addRunFlags(f *pflag.FlagSet) {
	f.StringVar(&runFlags.fail, "fail", failFault, "how the worker fails")
	f.DurationVar(&runFlags.after, "after", 100*time.Millisecond, "how long the worker runs before failing")
	f.DurationVar(&runFlags.duration, "duration", 0, "stop after this long, even without a fault (0 means no limit)")
}

// app is everything set up for a run from the configuration
type app struct {
	info    *hostinfo.Info
	log     zerolog.Logger
	stream  *sink.Stream
	signals *faultline.SignalManager
	crash   *faultline.CrashHandler
}

func setupApp(opt *handlerOpt) (*app, error) {
	c := opt.Conf
	level, err := c.LogLevel()
	if err != nil {
		return nil, err
	}

	a := &app{
		info:    c.Environment(),
		stream:  sink.NewStream(),
		signals: faultline.NewSignalManager(),
	}

	console := sink.NewConsole(os.Stderr)
	a.stream.Register("console", console)
	sinkLog := sink.NewLogger(console, level, a.info.Name).With().Str("component", "sink").Logger()

	if c.Log.File {
		fw, err := sink.NewFileWriter(a.info.LogDir, a.info.Name,
			sink.WithPollInterval(c.Queue.PollInterval), sink.WithLogger(sinkLog))
		if err != nil {
			a.close()
			return nil, err
		}
		a.stream.Register("file", fw)
	}
	if c.Blast.Enabled {
		b, err := sink.NewBlaster(c.Blast.Addr, sink.WithLogger(sinkLog))
		if err != nil {
			a.close()
			return nil, err
		}
		a.stream.Register("blast", b)
	}

	a.log = sink.NewLogger(a.stream, level, a.info.Name)

	if c.Crash.Enabled {
		opts := []faultline.CrashOption{faultline.WithCrashLogger(a.log)}
		if !c.Crash.RuntimeOutput {
			opts = append(opts, faultline.WithoutRuntimeCrashOutput())
		}
		a.crash, err = faultline.InstallCrashHandler(a.info, a.signals, opts...)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.log.Info().Str("logs", a.info.LogDir).Str("crashdumps", a.info.CrashDir).Strs("sinks", a.stream.Names()).Msg("started")
	return a, nil
}

func (a *app) close() {
	a.signals.Stop()
	if a.crash != nil {
		if err := a.crash.Close(); err != nil {
			a.log.Warn().Err(err).Msg("could not remove crash handler")
		}
	}
	if err := a.stream.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "could not close log sinks:", err)
	}
}

func runRun(opt *handlerOpt) error {
	switch runFlags.fail {
	case failNone, failFault, failError, failPanic, failCrash:
	default:
		return errors.Wrapf(errInvalidArgs, "unknown failure mode %q", runFlags.fail)
	}

	a, err := setupApp(opt)
	if err != nil {
		return err
	}
	defer a.close()

	sv := faultline.NewSupervisor(a.info,
		faultline.WithLogger(a.log),
		faultline.WithBacklog(opt.Conf.Faults.Backlog),
		faultline.WithPanicOnFault(true),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sv.Go(ctx, "heartbeat", func(ctx context.Context) error {
		ticker := time.NewTicker(opt.Conf.Queue.PollInterval)
		defer ticker.Stop()
		for beats := 1; ; beats += 1 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.log.Debug().Int("beat", beats).Msg("heartbeat")
			}
		}
	})
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	workers := sv.NewGroup("workers")
	workers.Go(workerCtx, "worker", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(runFlags.after):
		}
		return fail(sv, runFlags.fail)
	})

	runErr := superviseUntilDone(sv, a, runFlags.duration)

	// workers stop first, so the heartbeat keeps logging while they wind down
	cancelWorkers()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := workers.Wait(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("workers did not finish in time")
	}
	cancel()
	if err := sv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("threads did not finish in time")
	}

	if f, ok := faultline.AsFault(runErr); ok {
		a.log.Error().Object("fault", f).Int("exit", faultline.ExitCode(f)).Msg("fault reached main thread")
		fmt.Fprintf(opt.Stderr, "%+v", f)
	}
	return runErr
}

// superviseUntilDone checkpoints until a fault arrives, the process is interrupted, or the
// duration (if any) has passed
func superviseUntilDone(sv *faultline.Supervisor, a *app, duration time.Duration) error {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if duration > 0 {
		deadline = time.After(duration)
	}
	interrupted := a.signals.Context(os.Interrupt)

	for {
		select {
		case <-interrupted.Done():
			a.log.Info().Msg("interrupted")
			return nil
		case <-deadline:
			a.log.Info().Dur("duration", duration).Msg("finished without faults")
			return nil
		case <-ticker.C:
			if err := sv.Checkpoint(); err != nil {
				return err
			}
		}
	}
}

func fail(sv *faultline.Supervisor, mode string) error {
	switch mode {
	case failFault:
		return sv.Fatalf("worker gave up after %s", runFlags.after)
	case failError:
		return errors.New("worker could not continue")
	case failPanic:
		panic(struct{ Reason string }{"worker panicked"})
	case failCrash:
		go func() {
			var m map[string]int
			m["unsupervised"] = 1
		}()
		select {}
	default:
		return nil
	}
}
