// obligatory // comment

/*
Package faultline captures failures that would otherwise be fatal or lost (errors escaping
goroutines, panics, fatal signals) along with where they happened, and gets them to somewhere they
can be handled, without blocking or crashing the goroutine that found them.

Broadly, the tools belong to a few distinct groups:

- Fault capture and propagation: [Fault], [Supervisor], [Thread], [FaultChannel], [Protect]
- Stack trace collection and symbolization: [StackTrace], [GetStackTrace], [Symbolizer]
- Crash handling: [CrashHandler], [SignalManager], [Monitor]
- Plumbing for asynchronous consumers: [Queue], [ThreadGroup]

Host details for reports come from an [Environment]; see the hostinfo package. The sink package has
consumers (log files, UDP broadcast) built on [Queue].

# Faults and supervision

A [Fault] is an error with a source location, a [StackTrace], a fatal flag, and a fully rendered
report, all computed when it's created. It's safe to pass anywhere once created.

A [Supervisor] is owned by one goroutine, typically main. Faults raised on the owner (with
[Supervisor.Raise] and friends) are simply returned. Faults raised elsewhere, including anything
escaping a goroutine started with [Supervisor.Go], are deposited into the Supervisor's
[FaultChannel] instead. The owner picks them up by calling [Supervisor.Checkpoint] in its main
loop:

	sv := faultline.NewSupervisor(env)
	sv.Go(ctx, "worker", work)
	for range time.Tick(10 * time.Millisecond) {
		if err := sv.Checkpoint(); err != nil {
			fmt.Fprintf(os.Stderr, "%+v", err)
			os.Exit(faultline.ExitCode(err))
		}
	}

# Stack traces

[GetStackTrace] captures up to [MaxFrames] frames, and never panics. Traces may be given a parent
[StackTrace], which is how traces from supervised goroutines link back to where they were started.

Frames are resolved by the process's [Symbolizer], which by default uses the Go runtime and falls
back to ELF symbol tables and DWARF line information for frames outside of Go (on Linux). Names
are demangled.

# Crashes

[InstallCrashHandler] registers a [CrashHandler] for fatal signals with a [SignalManager]. It writes
a crash report with a single write to an already-open file, best-effort writes a crash dump file,
and exits. Crashes inside the Go runtime itself are written by the runtime to a file opened ahead of
time.
*/
package faultline
