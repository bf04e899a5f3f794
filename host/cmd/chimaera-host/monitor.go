package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print messages the device sends on its own",
	Long: `Print every packet that is not a reply, such as the /debug log stream,
until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	l, info, err := openLink()
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Connection: %s\nPress Ctrl+C to exit\n\n", info)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	for {
		select {
		case m, ok := <-l.Messages():
			if !ok {
				return l.Err()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
				time.Now().Format("15:04:05.000"), m.Path, formatValues(m.Format, m.Args))
		case <-sig:
			return nil
		}
	}
}
