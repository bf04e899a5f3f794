package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chimaera/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with device configuration files",
}

var configCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s, %s)\n", args[0], cfg.Chip, cfg.Network.IP)
		return nil
	},
}

var configDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the factory configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Marshal(config.Default())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Write the network and debug settings of a file to the device",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigPush,
}

func init() {
	configCmd.AddCommand(configCheckCmd, configDefaultCmd, configPushCmd)
	rootCmd.AddCommand(configCmd)
}

// pushRequests lists the requests that apply cfg on a device.
func pushRequests(cfg *config.Config) []struct {
	path   string
	format string
	value  any
} {
	enabled := "F"
	if cfg.Debug.Enabled {
		enabled = "T"
	}
	return []struct {
		path   string
		format string
		value  any
	}{
		{"/comm/mac", "s", cfg.Network.MAC},
		{"/comm/subnet", "s", cfg.Network.Subnet},
		{"/comm/gateway", "s", cfg.Network.Gateway},
		{"/comm/ip", "s", cfg.Network.IP},
		{"/debug/host", "s", cfg.Debug.Host},
		{"/debug/level", "s", cfg.Debug.Level},
		{"/debug/enabled", enabled, nil},
	}
}

func runConfigPush(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	l, _, err := openLink()
	if err != nil {
		return err
	}
	defer l.Close()

	for _, r := range pushRequests(cfg) {
		ctx, cancel := requestContext(cmd)
		var values []any
		if r.value != nil {
			values = append(values, r.value)
		}
		_, err := l.Request(ctx, r.path, r.format, values...)
		cancel()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", r.path)
	}
	return nil
}
