package wiz

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
)

var (
	// ErrClosed is returned for operations on a closed socket.
	ErrClosed = errors.New("wiz: socket closed")

	// ErrTooLarge is returned when a payload exceeds the socket buffer.
	ErrTooLarge = errors.New("wiz: payload exceeds socket buffer")

	// ErrMACRAW is returned when MACRAW mode is requested on a socket other
	// than 0.
	ErrMACRAW = errors.New("wiz: MACRAW is only available on socket 0")

	// ErrConnect is returned when a TCP connection attempt fails.
	ErrConnect = errors.New("wiz: connection failed")
)

// IRQFunc is called from Chip.ServiceIRQ with the pending Sn_IR bits that
// were enabled with SetIRQ.
type IRQFunc func(s *Socket, ir uint8)

// Socket is one hardware socket. The chip's TX write and RX read pointers
// are mirrored locally after Open and only written back, never re-read.
type Socket struct {
	c    *Chip
	id   uint8
	mode Mode

	txWr   uint16
	rxRd   uint16
	txSize uint16
	rxSize uint16

	lastSend Handle

	irqMask uint8
	irq     IRQFunc

	framing Framing
	carry   int
	discard bool // dropping an oversized SLIP frame up to its End

	scratch [8]byte
}

// ID returns the hardware socket number.
func (s *Socket) ID() int { return int(s.id) }

// Mode returns the mode the socket was opened in.
func (s *Socket) Mode() Mode { return s.mode }

func (s *Socket) reg(r uint16) Target { return s.c.addr.Socket(s.id, r) }

func (s *Socket) writeReg(r uint16, data []byte) {
	s.c.write(s.reg(r), data)
}

func (s *Socket) writeUint16(r uint16, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	s.c.write(s.reg(r), b[:])
}

func (s *Socket) command(cmd uint8) Handle {
	return s.c.write(s.reg(SnCR), []byte{cmd})
}

func (s *Socket) readByte(r uint16) (uint8, error) {
	return s.c.readByte(s.reg(r))
}

func (s *Socket) readUint16(r uint16) (uint16, error) {
	err := s.c.read(s.reg(r), s.scratch[:2])
	return binary.BigEndian.Uint16(s.scratch[:2]), err
}

// readUint16Stable reads a free-running 16-bit register until two reads agree.
func (s *Socket) readUint16Stable(r uint16) (uint16, error) {
	prev, err := s.readUint16(r)
	if err != nil {
		return 0, err
	}
	for {
		v, err := s.readUint16(r)
		if err != nil || v == prev {
			return v, err
		}
		prev = v
	}
}

// Status reads Sn_SR.
func (s *Socket) Status() (uint8, error) {
	return s.readByte(SnSR)
}

func (s *Socket) waitStatus(ctx context.Context, op string, want ...uint8) error {
	for {
		st, err := s.Status()
		if err == nil && slices.Contains(want, st) {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("wiz: socket %d %s: %w", s.id, op, ErrTimeout)
		}
	}
}

// Open closes any previous session and opens the socket in mode on the
// local port. multicast joins the UDP group set with SetRemote beforehand.
// It blocks until the chip reports the mode's open state or ctx is done.
func (s *Socket) Open(ctx context.Context, mode Mode, port uint16, multicast bool) error {
	if mode == ModeMACRAW && s.id != 0 {
		return ErrMACRAW
	}
	if s.mode != ModeClosed {
		if err := s.Close(ctx); err != nil {
			return err
		}
	}

	mr := mode
	if multicast && mode == ModeUDP {
		mr |= ModeMulticast
	}
	s.writeReg(SnIR, []byte{0xFF})
	s.writeReg(SnMR, []byte{uint8(mr)})
	s.writeUint16(SnPORT, port)
	s.command(CmdOpen)

	var want uint8
	switch mode {
	case ModeUDP:
		want = StatusUDP
	case ModeMACRAW:
		want = StatusMACRAW
	default:
		want = StatusInit
	}
	if err := s.waitStatus(ctx, "open", want); err != nil {
		return err
	}

	var err error
	if s.txWr, err = s.readUint16(SnTX_WR); err != nil {
		return err
	}
	if s.rxRd, err = s.readUint16(SnRX_RD); err != nil {
		return err
	}
	s.mode = mode
	s.carry = 0
	s.discard = false
	s.c.log.Debug("wiz: socket open", slog.Int("sock", int(s.id)),
		slog.String("mode", mode.String()), slog.Int("port", int(port)))
	return nil
}

// Close disconnects (TCP) and closes the socket, blocking until the chip
// reports it closed. A TCP server socket may report listening instead.
func (s *Socket) Close(ctx context.Context) error {
	if s.mode == ModeTCP {
		s.command(CmdDiscon)
	}
	s.command(CmdClose)
	want := []uint8{StatusClosed}
	if s.mode == ModeTCP {
		want = append(want, StatusListen)
	}
	if err := s.waitStatus(ctx, "close", want...); err != nil {
		return err
	}
	s.writeReg(SnIR, []byte{0xFF})
	s.c.sched.RunNonblocking()
	s.mode = ModeClosed
	return nil
}

// SetRemote sets the destination address for UDP sends and TCP connects.
// Multicast groups also get the derived 01:00:5e destination MAC.
func (s *Socket) SetRemote(remote netip.AddrPort) error {
	ip := remote.Addr()
	if !ip.Is4() {
		return fmt.Errorf("%w: %s", ErrAddress, ip)
	}
	if ip.IsMulticast() {
		mac := MulticastMAC(ip)
		s.writeReg(SnDHAR, mac[:])
	}
	b := ip.As4()
	s.writeReg(SnDIPR, b[:])
	s.writeUint16(SnDPORT, remote.Port())
	s.c.sched.RunNonblocking()
	return nil
}

// MulticastMAC maps an IPv4 multicast group to its Ethernet address.
func MulticastMAC(ip netip.Addr) [6]byte {
	b := ip.As4()
	return [6]byte{0x01, 0x00, 0x5E, b[1] & 0x7F, b[2], b[3]}
}

// SetIRQ enables the Sn_IR bits in mask for this socket and registers fn
// to be called for them from Chip.ServiceIRQ. A zero mask disables the
// socket's interrupt.
func (s *Socket) SetIRQ(mask uint8, fn IRQFunc) {
	s.irqMask = mask
	s.irq = fn
	s.writeReg(SnIMR, []byte{mask})
	if mask != 0 {
		s.c.imr |= 1 << s.id
	} else {
		s.c.imr &^= 1 << s.id
	}
	s.c.write(s.c.addr.Common(s.c.regs.SocketIMR), []byte{s.c.imr})
	s.c.sched.RunNonblocking()
}

// Free reads the free space of the TX buffer.
func (s *Socket) Free() (int, error) {
	n, err := s.readUint16Stable(SnTX_FSR)
	return int(n), err
}

// Available reads the number of received bytes waiting in the RX buffer.
func (s *Socket) Available() (int, error) {
	n, err := s.readUint16Stable(SnRX_RSR)
	return int(n), err
}

// Send queues buf for transmission and returns without waiting. A write
// that crosses the end of the circular TX buffer is split in two jobs.
// buf must not be modified until the send completed; see SendBlock and
// Sent.
func (s *Socket) Send(buf []byte) bool {
	if s.mode == ModeClosed || len(buf) == 0 || len(buf) > int(s.txSize) {
		return false
	}
	mask := s.txSize - 1
	off := s.txWr & mask
	if tail := s.txSize - off; int(tail) < len(buf) {
		s.c.enqueue(s.c.addr.TxBuffer(s.id, off), DirTx, buf[:tail], nil)
		s.c.enqueue(s.c.addr.TxBuffer(s.id, 0), DirTx, buf[tail:], nil)
	} else {
		s.c.enqueue(s.c.addr.TxBuffer(s.id, off), DirTx, buf, nil)
	}
	s.txWr += uint16(len(buf))
	s.writeUint16(SnTX_WR, s.txWr)
	s.lastSend = s.command(CmdSend)
	s.c.sched.RunNonblocking()
	return true
}

// Sent reports whether every job of the last Send has run.
func (s *Socket) Sent() bool {
	return s.c.sched.Completed(s.lastSend)
}

// SendBlock sends buf and waits for the chip's SEND_OK. An ARP timeout is
// cleared and polling continues; only ctx ends the wait early.
func (s *Socket) SendBlock(ctx context.Context, buf []byte) error {
	if s.mode == ModeClosed {
		return ErrClosed
	}
	if len(buf) > int(s.txSize) {
		return ErrTooLarge
	}
	// Flags left over from an earlier Send must not confirm this one.
	s.writeReg(SnIR, []byte{IRSendOK | IRTimeout})
	if !s.Send(buf) {
		return nil
	}
	if err := s.c.sched.RunBlock(); err != nil {
		return err
	}
	for {
		ir, err := s.readByte(SnIR)
		if err == nil {
			if ir&IRSendOK != 0 {
				s.writeReg(SnIR, []byte{IRSendOK})
				s.c.sched.RunNonblocking()
				return nil
			}
			if ir&IRTimeout != 0 {
				s.writeReg(SnIR, []byte{IRTimeout})
			}
		}
		if ctx.Err() != nil {
			return fmt.Errorf("wiz: socket %d send: %w", s.id, ErrTimeout)
		}
	}
}

// read queues jobs fetching len(buf) bytes starting off bytes past the
// local read pointer. The pointer itself does not move.
func (s *Socket) read(off uint16, buf []byte) {
	mask := s.rxSize - 1
	pos := (s.rxRd + off) & mask
	if tail := s.rxSize - pos; int(tail) < len(buf) {
		s.c.enqueue(s.c.addr.RxBuffer(s.id, pos), DirRx, nil, buf[:tail])
		s.c.enqueue(s.c.addr.RxBuffer(s.id, 0), DirRx, nil, buf[tail:])
	} else {
		s.c.enqueue(s.c.addr.RxBuffer(s.id, pos), DirRx, nil, buf)
	}
}

// consume advances the read pointer by n and queues the RECV commit.
func (s *Socket) consume(n int) {
	s.rxRd += uint16(n)
	s.writeUint16(SnRX_RD, s.rxRd)
	s.command(CmdRecv)
}

// Receive reads len(buf) bytes from the RX buffer and commits them. The
// caller checks Available first.
func (s *Socket) Receive(buf []byte) error {
	if s.mode == ModeClosed {
		return ErrClosed
	}
	if len(buf) > int(s.rxSize) {
		return ErrTooLarge
	}
	s.read(0, buf)
	if err := s.c.sched.RunBlock(); err != nil {
		return err
	}
	s.consume(len(buf))
	s.c.sched.RunNonblocking()
	return nil
}
