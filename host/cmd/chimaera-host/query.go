package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var describe bool

var queryCmd = &cobra.Command{
	Use:   "query <path>",
	Short: "Read a value or describe an item",
	Long: `Read the current values of a method, or with --describe (or a trailing
"!") print the item's JSON description.`,
	Example: `  chimaera-host -a 192.168.1.177:4444 query /info/version
  chimaera-host -p /dev/ttyACM0 query --describe /sensors/group/attributes/`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVarP(&describe, "describe", "d", false, "Print the item description")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	l, _, err := openLink()
	if err != nil {
		return err
	}
	defer l.Close()

	ctx, cancel := requestContext(cmd)
	defer cancel()

	path, desc := strings.CutSuffix(args[0], "!")
	if desc || describe {
		s, err := l.Describe(ctx, path)
		if err != nil {
			return err
		}
		var out bytes.Buffer
		if json.Indent(&out, []byte(s), "", "  ") != nil {
			out.Reset()
			out.WriteString(s)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.String())
		return nil
	}

	m, err := l.Get(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatValues(m.Format, m.Args))
	return nil
}
