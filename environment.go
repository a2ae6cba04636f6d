package faultline

import (
	"os"
	"path/filepath"
	"time"
)

// Environment provides the static host and application context included in fault reports and
// crash dumps.
//
// Implementations must return values that were computed ahead of time: the methods may be called
// while handling a crash, and must not block or perform I/O. See the hostinfo package for the
// usual implementation.
type Environment interface {
	// AppName returns the name of the application, used in reports and crash dump file names
	AppName() string
	// SystemDetails returns a pre-rendered block of text describing the host and application. It
	// is included verbatim in reports, and should end in a blank line.
	SystemDetails() string
	// StartTime returns the time that the application started
	StartTime() time.Time
	// CrashDumpDir returns the directory that crash dumps are written into
	CrashDumpDir() string
}

// StaticEnvironment is a fixed [Environment], mostly useful for tests and small programs.
type StaticEnvironment struct {
	Name    string
	Details string
	Started time.Time
	DumpDir string
}

func (e StaticEnvironment) AppName() string       { return e.Name }
func (e StaticEnvironment) SystemDetails() string { return e.Details }
func (e StaticEnvironment) StartTime() time.Time  { return e.Started }
func (e StaticEnvironment) CrashDumpDir() string  { return e.DumpDir }

var processStart = time.Now()

// DefaultEnvironment returns the Environment used when none is provided: the executable's name,
// no system details, and crash dumps written to the working directory.
func DefaultEnvironment() Environment {
	name := "app"
	if len(os.Args) != 0 && os.Args[0] != "" {
		name = filepath.Base(os.Args[0])
	}
	return StaticEnvironment{Name: name, Started: processStart, DumpDir: "."}
}

func orDefaultEnvironment(env Environment) Environment {
	if env == nil {
		return DefaultEnvironment()
	}
	return env
}
