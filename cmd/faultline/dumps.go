package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var dumpsCmd = &cobra.Command{
	Use:                   "dumps",
	Short:                 "List crash dumps",
	DisableFlagsInUseLine: true,
	Args:                  cobra.NoArgs,
	RunE:                  wrap(runDumps),
}

func init() {
	RootCmd.AddCommand(dumpsCmd)
}

func runDumps(opt *handlerOpt) error {
	dir := opt.Conf.Environment().CrashDumpDir()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		fmt.Fprintf(opt.Stdout, "No crash dumps in %s\n", dir)
		return nil
	} else if err != nil {
		return errors.Wrap(err, "could not list crash dumps")
	}

	fmt.Fprintf(opt.Stdout, "Crash dumps in %s\n", dir)
	fmt.Fprintln(opt.Stdout, "================")

	tbl := defaultTable(opt.Stdout)
	tbl.SetHeader([]string{"Name", "Kind", "Size", "Modified"})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed while listing
			continue
		}
		tbl.Append([]string{
			e.Name(),
			dumpKind(e.Name()),
			fmt.Sprint(info.Size()),
			info.ModTime().Format("2006-01-02 15:04:05"),
		})
	}
	tbl.Render()
	return nil
}

func dumpKind(name string) string {
	switch {
	case strings.Contains(name, "-crashdump-"):
		return "signal"
	case strings.Contains(name, "-runtime-crash-"):
		return "runtime"
	default:
		return "?"
	}
}
