//go:build rp2040

package main

import (
	"machine"

	"chimaera/config"
	"chimaera/wiz"
)

// Wiring of the network chip on SPI0.
const (
	pinSCK = machine.GPIO18
	pinSDO = machine.GPIO19
	pinSDI = machine.GPIO16
	pinCS  = machine.GPIO17
	pinRST = machine.GPIO20
	pinINT = machine.GPIO21
)

// openBus configures SPI0 for the chip and returns a port that toggles the
// active low chip select around each transfer.
func openBus(cfg config.SPIConfig) (*wiz.SPIPort, error) {
	spi := machine.SPI0
	err := spi.Configure(machine.SPIConfig{
		Frequency: cfg.Frequency,
		SCK:       pinSCK,
		SDO:       pinSDO,
		SDI:       pinSDI,
		Mode:      cfg.Mode,
	})
	if err != nil {
		return nil, err
	}
	pinCS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinCS.High()
	return wiz.NewSPIPort(spi, func(on bool) { pinCS.Set(!on) }), nil
}
