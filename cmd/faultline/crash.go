package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var crashCmd = &cobra.Command{
	Use:   "crash",
	Short: "Send a segmentation fault to this process, to exercise the crash handler",
	Long: `Crash installs the crash handler (regardless of crash.enabled) and then sends SIGSEGV to itself.
The handler writes a crash report to stderr and a crash dump to the crash dump directory, then exits.`,
	DisableFlagsInUseLine: true,
	Args:                  cobra.NoArgs,
	RunE:                  wrap(runCrash),
}

func init() {
	RootCmd.AddCommand(crashCmd)
}

func runCrash(opt *handlerOpt) error {
	opt.Conf.Crash.Enabled = true

	a, err := setupApp(opt)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprintln(opt.Stderr, "sending SIGSEGV")
	if err := raiseSegfault(); err != nil {
		return err
	}

	// the handler exits the process
	time.Sleep(5 * time.Second)
	return errors.New("crash handler did not exit the process")
}
