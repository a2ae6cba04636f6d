// Package hostinfo collects static information about the host and application, for inclusion in
// fault reports and crash dumps.
//
// Everything is gathered once, by [Collect]. After that, an [Info] only renders what it already
// has, so it's safe to use while handling a crash.
package hostinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Info is the static description of the host and application
type Info struct {
	Name         string
	Version      string
	Organization string

	GoVersion string
	Revision  string // VCS revision from the build, if known
	Modified  bool   // whether the build had uncommitted changes

	OS            string
	Arch          string
	KernelType    string
	KernelVersion string
	Hostname      string
	MachineID     string
	PID           int

	Started  time.Time
	LogDir   string
	CrashDir string
}

// Collect gathers information about the current host and process, for the application with the
// given name, version, and organization.
//
// Nothing that fails to be collected is an error; it's just left empty.
func Collect(name, version, org string) *Info {
	info := &Info{
		Name:         name,
		Version:      version,
		Organization: org,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		PID:          os.Getpid(),
		Started:      time.Now(),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Revision = s.Value
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}

	info.KernelType, info.KernelVersion = kernel()
	info.Hostname, _ = os.Hostname()
	info.MachineID = machineID()

	base := DataDir(name, org)
	info.LogDir = filepath.Join(base, "logs")
	info.CrashDir = filepath.Join(base, "crashdumps")

	return info
}

// DataDir returns the per-user directory for the application's logs and crash dumps: the user's
// cache directory (or the system temp directory, if there isn't one), then the organization, if
// any, and the application name.
func DataDir(name, org string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	if org != "" {
		base = filepath.Join(base, org)
	}
	return filepath.Join(base, name)
}

func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if b, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(b)); id != "" {
				return id
			}
		}
	}
	return ""
}

// AppName returns i.Name
func (i *Info) AppName() string { return i.Name }

// StartTime returns i.Started
func (i *Info) StartTime() time.Time { return i.Started }

// CrashDumpDir returns i.CrashDir
func (i *Info) CrashDumpDir() string { return i.CrashDir }

// SystemDetails renders the "SYSTEM DETAILS" block of fault reports, ending in a blank line.
func (i *Info) SystemDetails() string {
	var buf strings.Builder

	line := func(label, value string) {
		if value == "" {
			value = "??"
		}
		fmt.Fprintf(&buf, "    %-13s: %s\n", label, value)
	}

	revision := i.Revision
	if revision != "" && i.Modified {
		revision += " (modified)"
	}

	kernel := strings.TrimSpace(i.KernelType + " " + i.KernelVersion)

	buf.WriteString("SYSTEM DETAILS:\n\n")
	line("Application", strings.TrimSpace(i.Name+" "+i.Version))
	if i.Organization != "" {
		line("Organization", i.Organization)
	}
	line("Go Version", i.GoVersion)
	line("Revision", revision)
	line("Platform", i.OS+"/"+i.Arch)
	line("Kernel", kernel)
	line("Host Name", i.Hostname)
	line("Host ID", i.MachineID)
	line("PID", fmt.Sprint(i.PID))
	buf.WriteString("\n")

	return buf.String()
}
