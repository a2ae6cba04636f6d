package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sharnoff/faultline"
	"github.com/sharnoff/faultline/sink"
	"github.com/spf13/cobra"
)

var receiveFlags struct {
	addr  string
	count int
}

var receiveCmd = &cobra.Command{
	Use:                   "receive",
	Short:                 "Print log lines sent by the UDP blaster of another run",
	DisableFlagsInUseLine: true,
	Args:                  cobra.NoArgs,
	RunE:                  wrap(runReceive),
}

func init() {
	RootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVar(&receiveFlags.addr, "addr", "", "address to listen on (default: blast.addr from the configuration)")
	receiveCmd.Flags().IntVarP(&receiveFlags.count, "count", "n", 0, "exit after this many lines (0 means no limit)")
}

func runReceive(opt *handlerOpt) error {
	addr := receiveFlags.addr
	if addr == "" {
		addr = opt.Conf.Blast.Addr
	}

	r, err := sink.Listen(addr)
	if err != nil {
		return err
	}
	defer r.Close()

	signals := faultline.NewSignalManager()
	defer signals.Stop()
	ctx := signals.Context(os.Interrupt)

	fmt.Fprintf(opt.Stderr, "listening on %s\n", r.Addr())
	for n := 0; receiveFlags.count == 0 || n < receiveFlags.count; n += 1 {
		line, err := r.Next(ctx)
		if err == context.Canceled {
			return nil
		} else if err != nil {
			return err
		}
		fmt.Fprintln(opt.Stdout, line)
	}
	return nil
}
