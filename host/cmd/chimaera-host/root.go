package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chimaera/host/link"
	"chimaera/host/serial"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// UDP connection flag
	addr string

	timeout time.Duration
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chimaera-host",
	Short: "Configure and monitor a chimaera device",
	Long: `chimaera-host talks to a device with OSC configuration requests.

Connection modes:
  Serial: --port /dev/ttyACM0 [--baud 115200]   (SLIP framed)
  UDP:    --addr 192.168.1.177:4444             (one packet per datagram)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", "", "Device config port as ip:port")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "Reply timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log link diagnostics")
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openLink connects using the serial or UDP flags.
func openLink() (*link.Link, string, error) {
	switch {
	case portName != "" && addr != "":
		return nil, "", errors.New("--port and --addr are mutually exclusive")
	case portName != "":
		cfg := serial.DefaultConfig(portName)
		cfg.Baud = baudRate
		port, err := serial.Open(cfg)
		if err != nil {
			return nil, "", err
		}
		port.Flush()
		log := logger()
		log.Debug("serial port open", slog.String("device", port.Device()), slog.Int("baud", cfg.Baud))
		return link.New(link.SLIP(port), log), fmt.Sprintf("serial %s @ %d", port.Device(), cfg.Baud), nil
	case addr != "":
		conn, err := net.Dial("udp", addr)
		if err != nil {
			return nil, "", err
		}
		return link.New(link.Datagram(conn), logger()), "udp " + addr, nil
	default:
		return nil, "", errors.New("no connection: use --port or --addr")
	}
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
