package faultline

import (
	"time"

	"github.com/bugsnag/panicwrap"
	"github.com/pkg/errors"
)

// Monitor re-executes the current program as a child process and watches it for unrecovered
// panics, which no in-process handler can record. When the child panics, a crash report built from
// its panic output is written as a crash dump, and passed to onCrash (if not nil) along with the
// path of the dump.
//
// Monitor returns immediately in the child, where the program should continue as normal. In the
// monitoring process it does not return; the process exits with the child's exit status.
func Monitor(env Environment, onCrash func(report, dumpPath string)) error {
	env = orDefaultEnvironment(env)

	err := panicwrap.BasicMonitor(func(output string) {
		crashTime := time.Now()
		report := MonitorReport(env, crashTime, output)
		path, _ := WriteCrashDump(env, crashTime, report)
		if onCrash != nil {
			onCrash(report, path)
		}
	})
	return errors.Wrap(err, "could not start panic monitor")
}

// MonitorReport renders the report for a panic observed by [Monitor]. The panic output from the
// child takes the place of the stack trace.
func MonitorReport(env Environment, crashTime time.Time, panicOutput string) string {
	return CrashReport(env, nil, crashTime, StackTrace{}, []byte(panicOutput))
}
