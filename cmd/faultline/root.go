package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/sharnoff/faultline"
	"github.com/sharnoff/faultline/config"
	"github.com/spf13/cobra"
)

var errInvalidArgs = errors.New("invalid args")

var cfgFile string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "faultline",
	Short: "Fault capture and crash reporting demo",

	// Silence unnecessary messages.
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the command line, returning the process exit code
func Execute() int {
	err := RootCmd.Execute()
	switch {
	case err == nil:
		return faultline.ExitOK
	case errors.Is(err, errInvalidArgs):
		fmt.Fprintln(os.Stderr, err)
		// EX_USAGE
		return 64
	}

	// faults were already reported in full by the command
	if _, ok := faultline.AsFault(err); !ok {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return faultline.ExitCode(err)
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment and built-in defaults)")
}

type cobraHandler func(cmd *cobra.Command, args []string) error

type handlerOpt struct {
	Conf   *config.Config
	Cmd    *cobra.Command
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

func wrap(fn func(*handlerOpt) error) cobraHandler {
	return func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		return fn(&handlerOpt{
			Conf:   c,
			Cmd:    cmd,
			Args:   args,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		})
	}
}

func defaultTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetColumnSeparator(" ")
	table.SetCenterSeparator(" ")
	table.SetRowSeparator("-")
	table.SetColWidth(120)
	return table
}
