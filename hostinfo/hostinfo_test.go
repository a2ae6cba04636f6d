package hostinfo_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sharnoff/faultline"
	"github.com/sharnoff/faultline/hostinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Info is usable wherever an Environment is needed
var _ faultline.Environment = (*hostinfo.Info)(nil)

func TestCollect(t *testing.T) {
	a := assert.New(t)

	before := time.Now()
	info := hostinfo.Collect("myapp", "1.2.3", "acme")

	a.Equal("myapp", info.AppName())
	a.Equal("1.2.3", info.Version)
	a.Equal(runtime.GOOS, info.OS)
	a.Equal(runtime.GOARCH, info.Arch)
	a.Equal(runtime.Version(), info.GoVersion)
	a.Equal(os.Getpid(), info.PID)
	a.False(info.StartTime().Before(before))

	a.Equal("crashdumps", filepath.Base(info.CrashDumpDir()))
	a.Equal("logs", filepath.Base(info.LogDir))
	a.True(strings.HasSuffix(filepath.Dir(info.LogDir), filepath.Join("acme", "myapp")))
}

func TestSystemDetails(t *testing.T) {
	a := assert.New(t)

	info := &hostinfo.Info{
		Name:          "myapp",
		Version:       "1.2.3",
		GoVersion:     "go1.23.0",
		Revision:      "abc123",
		Modified:      true,
		OS:            "linux",
		Arch:          "amd64",
		KernelType:    "Linux",
		KernelVersion: "6.1.0",
		Hostname:      "box",
		PID:           42,
	}

	expected := "SYSTEM DETAILS:\n\n" +
		"    Application  : myapp 1.2.3\n" +
		"    Go Version   : go1.23.0\n" +
		"    Revision     : abc123 (modified)\n" +
		"    Platform     : linux/amd64\n" +
		"    Kernel       : Linux 6.1.0\n" +
		"    Host Name    : box\n" +
		"    Host ID      : ??\n" +
		"    PID          : 42\n" +
		"\n"
	a.Equal(expected, info.SystemDetails())
}

func TestSystemDetailsInFault(t *testing.T) {
	info := hostinfo.Collect("myapp", "", "")
	f := faultline.NewFault(info, "something", false, 0)

	require.NotNil(t, f)
	assert.Contains(t, f.Report(), "SYSTEM DETAILS:")
	assert.Contains(t, f.Report(), "Application  : myapp")
}

func TestDataDir(t *testing.T) {
	a := assert.New(t)

	withOrg := hostinfo.DataDir("app", "org")
	withoutOrg := hostinfo.DataDir("app", "")
	a.Equal(filepath.Join(filepath.Dir(withoutOrg), "org", "app"), withOrg)
	a.Equal("app", filepath.Base(withoutOrg))
}
