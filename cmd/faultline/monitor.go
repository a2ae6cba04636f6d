package main

import (
	"fmt"
	"os"

	"github.com/sharnoff/faultline"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Like run, but unrecovered panics are caught by a monitoring process",
	Long: `Monitor behaves like run, with the same flags. A separate monitoring process watches the output,
so that panics outside of supervised threads (--fail=crash) still produce a crash dump.`,
	DisableFlagsInUseLine: true,
	Args:                  cobra.NoArgs,
	RunE:                  wrap(runMonitor),
}

func init() {
	RootCmd.AddCommand(monitorCmd)

	addRunFlags(monitorCmd.Flags())
}

func runMonitor(opt *handlerOpt) error {
	err := faultline.Monitor(opt.Conf.Environment(), func(report, dumpPath string) {
		fmt.Fprint(os.Stderr, report)
		if dumpPath != "" {
			fmt.Fprintf(os.Stderr, "crash dump written to %s\n", dumpPath)
		}
	})
	if err != nil {
		return err
	}
	return runRun(opt)
}
