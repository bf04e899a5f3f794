package wiz

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
)

var (
	// ErrVersion is returned by Init when the version register does not
	// identify the expected chip.
	ErrVersion = errors.New("wiz: unexpected chip version")

	// ErrLayout is returned for buffer sizes the chip cannot provide.
	ErrLayout = errors.New("wiz: invalid socket buffer layout")

	// ErrAddress is returned for addresses that are not IPv4.
	ErrAddress = errors.New("wiz: not an IPv4 address")

	// ErrTimeout is returned when a blocking socket operation is cut short
	// by its context.
	ErrTimeout = errors.New("wiz: timeout")
)

// Options configure Chip.Init.
type Options struct {
	TxSizes [NumSockets]uint8 // KB per socket
	RxSizes [NumSockets]uint8

	// RetryTime is the retransmission timeout in units of 100 µs, zero
	// keeps the chip default.
	RetryTime  uint16
	RetryCount uint8
}

// DefaultOptions returns the power-on layout.
func DefaultOptions() Options {
	return Options{TxSizes: DefaultLayout(), RxSizes: DefaultLayout()}
}

// Chip is one W5200 or W5500 with its job scheduler and sockets.
type Chip struct {
	sched   *Scheduler
	addr    Addressing
	regs    *CommonRegisters
	sockets [NumSockets]Socket
	imr     uint8
	scratch [8]byte

	log *slog.Logger
}

// NewChip creates a chip driver on bus. log may be nil.
func NewChip(bus Bus, addr Addressing, log *slog.Logger) *Chip {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Chip{
		sched: NewScheduler(bus, addr, log),
		addr:  addr,
		regs:  addr.Registers(),
		log:   log,
	}
	for i := range c.sockets {
		c.sockets[i] = Socket{c: c, id: uint8(i), txSize: 2048, rxSize: 2048}
	}
	return c
}

// Scheduler returns the job scheduler of the chip.
func (c *Chip) Scheduler() *Scheduler { return c.sched }

// Socket returns hardware socket n.
func (c *Chip) Socket(n int) *Socket { return &c.sockets[n] }

// enqueue adds a job, draining the queue first when it is full. Errors of
// the drained jobs are left for the caller's RunBlock.
func (c *Chip) enqueue(t Target, dir Direction, tx, rx []byte) Handle {
	h, err := c.sched.Enqueue(t, dir, tx, rx)
	if errors.Is(err, ErrQueueFull) {
		c.sched.drain()
		h, _ = c.sched.Enqueue(t, dir, tx, rx)
	}
	return h
}

// read fetches len(buf) bytes at t and waits for them.
func (c *Chip) read(t Target, buf []byte) error {
	c.enqueue(t, DirRx, nil, buf)
	return c.sched.RunBlock()
}

// write queues a write of data to t without waiting.
func (c *Chip) write(t Target, data []byte) Handle {
	return c.enqueue(t, DirTx, data, nil)
}

// ReadCommon reads common registers starting at reg.
func (c *Chip) ReadCommon(reg uint16, buf []byte) error {
	return c.read(c.addr.Common(reg), buf)
}

// WriteCommon writes common registers starting at reg and waits for the
// write to complete.
func (c *Chip) WriteCommon(reg uint16, data []byte) error {
	c.write(c.addr.Common(reg), data)
	return c.sched.RunBlock()
}

func (c *Chip) readByte(t Target) (byte, error) {
	err := c.read(t, c.scratch[:1])
	return c.scratch[0], err
}

// Init resets the chip, verifies its version and programs the buffer
// layout, retry parameters and interrupt masks.
func (c *Chip) Init(ctx context.Context, opt Options) error {
	if !ValidLayout(opt.TxSizes, TotalTxKB) || !ValidLayout(opt.RxSizes, TotalRxKB) {
		return ErrLayout
	}

	c.write(c.addr.Common(MR), []byte{MRReset})
	for {
		mr, err := c.readByte(c.addr.Common(MR))
		if err == nil && mr&MRReset == 0 {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("wiz: reset: %w", ErrTimeout)
		}
	}

	v, err := c.Version()
	if err != nil {
		return err
	}
	if v != c.regs.VersionID {
		return fmt.Errorf("%w: got %#02x, want %#02x", ErrVersion, v, c.regs.VersionID)
	}

	for i := range c.sockets {
		s := &c.sockets[i]
		c.write(c.addr.Socket(s.id, SnTXBUF), []byte{opt.TxSizes[i]})
		c.write(c.addr.Socket(s.id, SnRXBUF), []byte{opt.RxSizes[i]})
		c.write(c.addr.Socket(s.id, SnIMR), []byte{0})
		s.txSize = uint16(opt.TxSizes[i]) << 10
		s.rxSize = uint16(opt.RxSizes[i]) << 10
		s.mode = ModeClosed
	}
	c.addr.Layout(opt.TxSizes, opt.RxSizes)

	if opt.RetryTime != 0 {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], opt.RetryTime)
		c.write(c.addr.Common(c.regs.RTR), b[:])
	}
	if opt.RetryCount != 0 {
		c.write(c.addr.Common(c.regs.RCR), []byte{opt.RetryCount})
	}
	c.imr = 0
	c.write(c.addr.Common(c.regs.SocketIMR), []byte{0})
	if err := c.sched.RunBlock(); err != nil {
		return err
	}

	c.log.Info("wiz: chip ready", slog.Int("version", int(v)),
		slog.Any("tx_kb", opt.TxSizes), slog.Any("rx_kb", opt.RxSizes))
	return nil
}

// Version reads the chip version register.
func (c *Chip) Version() (uint8, error) {
	return c.readByte(c.addr.Common(c.regs.Version))
}

// LinkUp reports the PHY link state.
func (c *Chip) LinkUp() (bool, error) {
	phy, err := c.readByte(c.addr.Common(c.regs.PHY))
	return phy&c.regs.LinkMask != 0, err
}

// SetMAC programs the source hardware address.
func (c *Chip) SetMAC(mac [6]byte) error {
	return c.WriteCommon(SHAR, mac[:])
}

// SetIP programs the source IP address.
func (c *Chip) SetIP(ip netip.Addr) error {
	return c.writeAddr(SIPR, ip)
}

// SetGateway programs the default gateway.
func (c *Chip) SetGateway(ip netip.Addr) error {
	return c.writeAddr(GAR, ip)
}

// SetSubnet programs the subnet mask.
func (c *Chip) SetSubnet(mask netip.Addr) error {
	return c.writeAddr(SUBR, mask)
}

func (c *Chip) writeAddr(reg uint16, ip netip.Addr) error {
	if !ip.Is4() {
		return fmt.Errorf("%w: %s", ErrAddress, ip)
	}
	b := ip.As4()
	return c.WriteCommon(reg, b[:])
}

// IP reads back the source IP address.
func (c *Chip) IP() (netip.Addr, error) {
	var b [4]byte
	if err := c.ReadCommon(SIPR, b[:]); err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4(b), nil
}

// ServiceIRQ handles a falling edge on the chip's interrupt line: every
// socket with pending interrupt flags gets them cleared and its callback
// invoked. It runs in the main context.
func (c *Chip) ServiceIRQ() error {
	pending, err := c.readByte(c.addr.Common(c.regs.SocketIR))
	if err != nil {
		return err
	}
	for i := range c.sockets {
		if pending&(1<<i) == 0 {
			continue
		}
		s := &c.sockets[i]
		ir, err := c.readByte(c.addr.Socket(s.id, SnIR))
		if err != nil {
			return err
		}
		c.write(c.addr.Socket(s.id, SnIR), []byte{ir})
		if s.irq != nil && ir&s.irqMask != 0 {
			s.irq(s, ir&s.irqMask)
		}
	}
	c.sched.RunNonblocking()
	return nil
}
