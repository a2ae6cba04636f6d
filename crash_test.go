package faultline_test

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sharnoff/faultline"
)

// fakeSignal is an os.Signal that the OS never delivers, so it can only be triggered explicitly
type fakeSignal string

func (s fakeSignal) String() string { return string(s) }
func (fakeSignal) Signal()          {}

func crashEnv(t *testing.T) faultline.StaticEnvironment {
	env := testEnv
	env.DumpDir = filepath.Join(t.TempDir(), "crashes")
	return env
}

func TestCrashHandlerRecordsAndExits(t *testing.T) {
	t.Parallel()

	env := crashEnv(t)
	out, err := os.CreateTemp(t.TempDir(), "emergency")
	assert(err == nil)
	defer out.Close()

	var exitCodes []int
	mgr := faultline.NewSignalManager()
	defer mgr.Stop()

	sig := fakeSignal("fake segfault")
	h, err := faultline.InstallCrashHandler(env, mgr,
		faultline.WithEmergencyOutput(out),
		faultline.WithExit(func(code int) { exitCodes = append(exitCodes, code) }),
		faultline.WithCrashSignals(sig),
		faultline.WithoutRuntimeCrashOutput(),
	)
	if err != nil {
		t.Fatalf("unexpected error installing crash handler: %s", err)
	}
	defer h.Close()

	// the crash dump directory is created up front
	info, err := os.Stat(env.DumpDir)
	assert(err == nil && info.IsDir())

	assert(mgr.Trigger(sig, context.Background()) == nil)

	if len(exitCodes) != 1 || exitCodes[0] != faultline.CrashExitCode {
		t.Fatalf("expected a single exit with code %d, got %v", faultline.CrashExitCode, exitCodes)
	}

	written, err := os.ReadFile(out.Name())
	assert(err == nil)
	report := string(written)
	for _, s := range []string{
		"faultline-test Crashed! :'(",
		"SIGNAL: fake segfault",
		"Start Time   : 2024-03-01 14:02:59.000000000 UTC",
		"Crash Time   : ",
		"SYSTEM DETAILS:",
		"STACK TRACE:",
		"GOROUTINES:",
		"crash dump written to ",
	} {
		if !strings.Contains(report, s) {
			t.Fatalf("emergency output does not contain %q:\n%s", s, report)
		}
	}

	path, ok := h.LastDump()
	assert(ok)
	assert(filepath.Dir(path) == env.DumpDir)
	assert(regexp.MustCompile(`^faultline-test-crashdump-\d{4}-\d{2}-\d{2}T\d{6}\.\d{3}Z\.txt$`).MatchString(filepath.Base(path)))

	dump, err := os.ReadFile(path)
	assert(err == nil)
	assert(strings.HasPrefix(report, string(dump)))
}

func TestCrashHandlerOnlyOnce(t *testing.T) {
	t.Parallel()

	env := crashEnv(t)
	out, err := os.CreateTemp(t.TempDir(), "emergency")
	assert(err == nil)
	defer out.Close()

	var exitCodes []int
	mgr := faultline.NewSignalManager()
	defer mgr.Stop()

	first, second := fakeSignal("first"), fakeSignal("second")
	_, err = faultline.InstallCrashHandler(env, mgr,
		faultline.WithEmergencyOutput(out),
		faultline.WithExit(func(code int) { exitCodes = append(exitCodes, code) }),
		faultline.WithCrashSignals(first, second),
		faultline.WithoutRuntimeCrashOutput(),
	)
	assert(err == nil)

	assert(mgr.Trigger(first, context.Background()) == nil)
	assert(mgr.Trigger(second, context.Background()) == nil)

	// the second crash exits immediately, without writing anything
	assert(len(exitCodes) == 2)
	written, _ := os.ReadFile(out.Name())
	assert(strings.Count(string(written), "Crashed!") == 1)

	entries, _ := os.ReadDir(env.DumpDir)
	assert(len(entries) == 1)
}

func TestCrashReportFormat(t *testing.T) {
	t.Parallel()

	crashTime := time.Date(2024, 3, 1, 15, 0, 0, 5, time.UTC)
	trace := faultline.StackTrace{Frames: []faultline.StackFrame{{PC: 1, Function: "main.crash", File: "/src/main.go", Line: 9}}}

	report := faultline.CrashReport(testEnv, nil, crashTime, trace, nil)
	expectedPrefix := "faultline-test Crashed! :'(\n\n" +
		"TIME:\n\n" +
		"    Start Time   : 2024-03-01 14:02:59.000000000 UTC\n" +
		"    Crash Time   : 2024-03-01 15:00:00.000000005 UTC\n\n" +
		testEnv.Details +
		"STACK TRACE:\n\n"
	assert(strings.HasPrefix(report, expectedPrefix))
	assert(strings.HasSuffix(report, trace.String()))
	assert(!strings.Contains(report, "GOROUTINES:"))
}

func TestWriteCrashDump(t *testing.T) {
	t.Parallel()

	env := crashEnv(t)
	crashTime := time.Date(2024, 3, 1, 15, 4, 5, 678_000_000, time.UTC)

	path, err := faultline.WriteCrashDump(env, crashTime, "report text")
	assert(err == nil)
	assert(path == filepath.Join(env.DumpDir, "faultline-test-crashdump-2024-03-01T150405.678Z.txt"))

	content, err := os.ReadFile(path)
	assert(err == nil && string(content) == "report text")

	// dumps are never overwritten
	_, err = faultline.WriteCrashDump(env, crashTime, "other")
	assert(err != nil)
}

func TestMonitorReport(t *testing.T) {
	t.Parallel()

	report := faultline.MonitorReport(testEnv, time.Now(), "panic: oh no\n\ngoroutine 1 [running]:\n")
	assert(strings.HasPrefix(report, "faultline-test Crashed! :'("))
	assert(strings.Contains(report, "GOROUTINES:\n\npanic: oh no"))
}

// not parallel: the runtime crash output is process-wide
func TestCrashHandlerRuntimeOutput(t *testing.T) {
	env := crashEnv(t)
	mgr := faultline.NewSignalManager()
	defer mgr.Stop()

	h, err := faultline.InstallCrashHandler(env, mgr,
		faultline.WithExit(func(int) {}),
		faultline.WithCrashSignals(fakeSignal("unused")),
	)
	if err != nil {
		t.Fatalf("unexpected error installing crash handler: %s", err)
	}

	entries, err := os.ReadDir(env.DumpDir)
	assert(err == nil)
	assert(len(entries) == 1)
	assert(strings.HasPrefix(entries[0].Name(), "faultline-test-runtime-crash-"))

	// nothing crashed, so the file is removed
	assert(h.Close() == nil)
	entries, _ = os.ReadDir(env.DumpDir)
	assert(len(entries) == 0)
	assert(h.Close() == nil)
}
