package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <path> <format> [args...]",
	Short: "Send a message without waiting for a reply",
	Long: `Send one OSC message. format lists the type tags without ','; every tag
with a payload takes one argument.`,
	Example: `  chimaera-host -a 192.168.1.177:4444 send /sensors/group/attributes/0/min f 0.1`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runSend,
}

var setCmd = &cobra.Command{
	Use:   "set <path> <format> [args...]",
	Short: "Set a value and wait for the device to confirm",
	Example: `  chimaera-host -p /dev/ttyACM0 set /debug/enabled T
  chimaera-host -p /dev/ttyACM0 set /comm/ip s 192.168.1.50`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSet,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(setCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	values, err := parseArgs(args[1], args[2:])
	if err != nil {
		return err
	}
	l, _, err := openLink()
	if err != nil {
		return err
	}
	defer l.Close()
	return l.Send(args[0], args[1], values...)
}

func runSet(cmd *cobra.Command, args []string) error {
	values, err := parseArgs(args[1], args[2:])
	if err != nil {
		return err
	}
	l, _, err := openLink()
	if err != nil {
		return err
	}
	defer l.Close()

	ctx, cancel := requestContext(cmd)
	defer cancel()
	m, err := l.Request(ctx, args[0], args[1], values...)
	if err != nil {
		return err
	}
	if len(m.Args) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), formatValues(m.Format, m.Args))
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
	}
	return nil
}
