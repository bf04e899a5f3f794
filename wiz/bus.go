package wiz

import (
	"tinygo.org/x/drivers"
)

// Transfer is one DMA pass on the bus. Header and Write are clocked out
// back to back; when Write is nil while Read is set, zeros are clocked out
// instead. Read captures the bytes received during the payload window.
type Transfer struct {
	Header []byte
	Write  []byte
	Read   []byte
}

// Bus is the SPI peripheral driving the chip. Start begins a transfer and
// returns; the function registered with Attach is called exactly once per
// Start, from interrupt context on hardware, with any DMA or SPI error.
type Bus interface {
	Attach(complete func(error))
	Select(on bool)
	Start(t Transfer)
	// Busy reports whether the shift register is still draining after the
	// DMA completed.
	Busy() bool
}

// SPIPort runs transfers synchronously on a blocking SPI driver. The
// completion callback is invoked before Start returns.
type SPIPort struct {
	spi      drivers.SPI
	cs       func(on bool)
	complete func(error)
}

// NewSPIPort wraps spi. cs is called with true to assert chip select.
func NewSPIPort(spi drivers.SPI, cs func(on bool)) *SPIPort {
	return &SPIPort{spi: spi, cs: cs}
}

func (p *SPIPort) Attach(complete func(error)) { p.complete = complete }

func (p *SPIPort) Select(on bool) {
	if p.cs != nil {
		p.cs(on)
	}
}

func (p *SPIPort) Start(t Transfer) {
	var err error
	if len(t.Header) > 0 {
		err = p.spi.Tx(t.Header, nil)
	}
	if err == nil && (len(t.Write) > 0 || len(t.Read) > 0) {
		err = p.spi.Tx(t.Write, t.Read)
	}
	p.complete(err)
}

func (p *SPIPort) Busy() bool { return false }
