// Package serial opens the USB or UART serial line of a device for the
// host tool.
package serial

import (
	"errors"
	"io"
	"time"
)

// ErrNoDevice is returned by Open when no device path is configured.
var ErrNoDevice = errors.New("serial: no device given")

// Port is an open serial line.
type Port interface {
	io.ReadWriteCloser

	// Flush discards buffered input and output.
	Flush() error

	// Device returns the path the port was opened with.
	Device() string
}

// Config holds serial port settings.
type Config struct {
	// Device path, e.g. "/dev/ttyACM0" or "COM3"
	Device string

	// Baud rate; USB CDC devices ignore it
	Baud int

	// ReadTimeout bounds a single Read, zero blocks
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings of the device's debug UART.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}
