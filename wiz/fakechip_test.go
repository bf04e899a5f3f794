package wiz

import (
	"context"
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
)

var errFakeBus = errors.New("fake bus error")

type region int

const (
	regionCommon region = iota
	regionSocket
	regionTx
	regionRx
)

// frame is one decoded chip transaction.
type frame struct {
	target Target
	write  bool
	n      int
}

// fakeChip simulates a W5200 or W5500 behind the Bus interface. It decodes
// the real SPI frame headers and keeps enough register semantics for the
// socket layer: commands, write-1-to-clear interrupt flags, circular
// buffers and the derived size registers.
type fakeChip struct {
	w5500    bool
	regs     *CommonRegisters
	complete func(error)

	common [0x10000]byte
	sregs  [NumSockets][socketSpan]byte
	tx     [NumSockets][16 << 10]byte
	rx     [NumSockets][16 << 10]byte

	// current frame
	hdr    []byte
	target Target
	write  bool
	n      int

	frames     []frame
	sent       [NumSockets][][]byte
	starts     int
	failAt     int // fail the n-th Start, counted from 1
	stuck      bool
	refuse     bool
	badVersion bool

	arpTimeouts int
	sendOKLater [NumSockets]bool
}

func newFakeChip(w5500 bool) *fakeChip {
	f := &fakeChip{w5500: w5500}
	if w5500 {
		f.regs = &w5500Registers
	} else {
		f.regs = &w5200Registers
	}
	f.reset()
	return f
}

func (f *fakeChip) reset() {
	f.common = [0x10000]byte{}
	f.sregs = [NumSockets][socketSpan]byte{}
	f.common[f.regs.Version] = f.regs.VersionID
	if f.badVersion {
		f.common[f.regs.Version] = 0x99
	}
	for i := range NumSockets {
		f.sregs[i][SnTXBUF] = 2
		f.sregs[i][SnRXBUF] = 2
		f.updateFree(i)
	}
}

func (f *fakeChip) Attach(complete func(error)) { f.complete = complete }

func (f *fakeChip) Select(on bool) {
	if on {
		f.hdr = f.hdr[:0]
		f.n = 0
		return
	}
	f.frames = append(f.frames, frame{target: f.target, write: f.write, n: f.n})
}

func (f *fakeChip) Busy() bool { return false }

func (f *fakeChip) headerLen() int {
	if f.w5500 {
		return 3
	}
	return 4
}

func (f *fakeChip) Start(t Transfer) {
	f.starts++
	if f.starts == f.failAt {
		f.complete(errFakeBus)
		return
	}
	for _, b := range t.Header {
		f.hdr = append(f.hdr, b)
		if len(f.hdr) == f.headerLen() {
			f.decodeHeader()
		}
	}
	switch {
	case len(t.Write) > 0:
		for i, b := range t.Write {
			if f.write {
				f.store(b)
			} else if i < len(t.Read) {
				t.Read[i] = f.load()
			}
		}
	case len(t.Read) > 0:
		for i := range t.Read {
			t.Read[i] = f.load()
		}
	}
	f.complete(nil)
}

func (f *fakeChip) decodeHeader() {
	f.target.Addr = binary.BigEndian.Uint16(f.hdr[0:2])
	if f.w5500 {
		f.target.Opcode = f.hdr[2] &^ 0x07
		f.write = f.hdr[2]&w5500Write != 0
	} else {
		f.target.Opcode = 0
		f.write = f.hdr[2]&0x80 != 0
	}
}

func (f *fakeChip) size(sock int, reg uint16) int {
	return int(f.sregs[sock][reg]) << 10
}

// resolve maps the current frame position to a region, socket and offset.
func (f *fakeChip) resolve() (region, int, int) {
	if f.w5500 {
		addr := int(uint16(int(f.target.Addr) + f.n))
		b := int(f.target.Opcode >> bsbShift)
		if b == 0 {
			return regionCommon, 0, addr
		}
		sock, block := (b-1)/4, (b-1)%4
		return region(block + 1), sock, addr
	}
	addr := int(f.target.Addr) + f.n
	switch {
	case addr < w5200SocketBase:
		return regionCommon, 0, addr
	case addr < w5200TxBase:
		return regionSocket, (addr - w5200SocketBase) >> 8, addr & 0xFF
	case addr < w5200RxBase:
		base := w5200TxBase
		for i := range NumSockets {
			if addr < base+f.size(i, SnTXBUF) {
				return regionTx, i, addr - base
			}
			base += f.size(i, SnTXBUF)
		}
	default:
		base := w5200RxBase
		for i := range NumSockets {
			if addr < base+f.size(i, SnRXBUF) {
				return regionRx, i, addr - base
			}
			base += f.size(i, SnRXBUF)
		}
	}
	panic("fake chip: address outside buffer layout")
}

func (f *fakeChip) load() byte {
	r, sock, addr := f.resolve()
	f.n++
	switch r {
	case regionCommon:
		if addr == int(f.regs.SocketIR) {
			var pending byte
			for i := range NumSockets {
				if f.sregs[i][SnIR]&f.sregs[i][SnIMR] != 0 {
					pending |= 1 << i
				}
			}
			return pending
		}
		return f.common[addr]
	case regionSocket:
		return f.sregs[sock][addr]
	case regionTx:
		return f.tx[sock][addr&(f.size(sock, SnTXBUF)-1)]
	default:
		return f.rx[sock][addr&(f.size(sock, SnRXBUF)-1)]
	}
}

func (f *fakeChip) store(b byte) {
	r, sock, addr := f.resolve()
	f.n++
	switch r {
	case regionCommon:
		if addr == MR && b&MRReset != 0 {
			f.reset()
			return
		}
		f.common[addr] = b
	case regionSocket:
		switch addr {
		case SnCR:
			f.command(sock, b)
		case SnIR:
			f.sregs[sock][SnIR] &^= b
			if b&IRTimeout != 0 && f.sendOKLater[sock] {
				f.sendOKLater[sock] = false
				f.sregs[sock][SnIR] |= IRSendOK
			}
		default:
			f.sregs[sock][addr] = b
		}
	case regionTx:
		f.tx[sock][addr&(f.size(sock, SnTXBUF)-1)] = b
	case regionRx:
		f.rx[sock][addr&(f.size(sock, SnRXBUF)-1)] = b
	}
}

func (f *fakeChip) reg16(sock int, reg uint16) uint16 {
	return binary.BigEndian.Uint16(f.sregs[sock][reg:])
}

func (f *fakeChip) setReg16(sock int, reg uint16, v uint16) {
	binary.BigEndian.PutUint16(f.sregs[sock][reg:], v)
}

func (f *fakeChip) updateFree(sock int) {
	used := f.reg16(sock, SnTX_WR) - f.reg16(sock, SnTX_RD)
	f.setReg16(sock, SnTX_FSR, uint16(f.size(sock, SnTXBUF))-used)
}

func (f *fakeChip) updateReceived(sock int) {
	f.setReg16(sock, SnRX_RSR, f.reg16(sock, SnRX_WR)-f.reg16(sock, SnRX_RD))
}

func (f *fakeChip) command(sock int, cmd byte) {
	sr := &f.sregs[sock][SnSR]
	switch cmd {
	case CmdOpen:
		if f.stuck {
			break
		}
		switch Mode(f.sregs[sock][SnMR]) &^ ModeMulticast {
		case ModeTCP:
			*sr = StatusInit
		case ModeUDP:
			*sr = StatusUDP
		case ModeMACRAW:
			*sr = StatusMACRAW
		}
		f.updateFree(sock)
		f.updateReceived(sock)
	case CmdClose, CmdDiscon:
		if !f.stuck {
			*sr = StatusClosed
		}
	case CmdListen:
		*sr = StatusListen
	case CmdConnect:
		if f.refuse {
			*sr = StatusClosed
			f.sregs[sock][SnIR] |= IRTimeout
		} else {
			*sr = StatusEstablished
			f.sregs[sock][SnIR] |= IRCon
		}
	case CmdSend:
		size := f.size(sock, SnTXBUF)
		rd, wr := f.reg16(sock, SnTX_RD), f.reg16(sock, SnTX_WR)
		var out []byte
		for p := rd; p != wr; p++ {
			out = append(out, f.tx[sock][int(p)&(size-1)])
		}
		f.sent[sock] = append(f.sent[sock], out)
		f.setReg16(sock, SnTX_RD, wr)
		f.updateFree(sock)
		if f.arpTimeouts > 0 {
			f.arpTimeouts--
			f.sregs[sock][SnIR] |= IRTimeout
			f.sendOKLater[sock] = true
		} else {
			f.sregs[sock][SnIR] |= IRSendOK
		}
	case CmdRecv:
		f.updateReceived(sock)
	}
	f.sregs[sock][SnCR] = 0
}

// inject places data into the RX buffer as if it had been received.
func (f *fakeChip) inject(sock int, data []byte) {
	size := f.size(sock, SnRXBUF)
	wr := f.reg16(sock, SnRX_WR)
	for _, b := range data {
		f.rx[sock][int(wr)&(size-1)] = b
		wr++
	}
	f.setReg16(sock, SnRX_WR, wr)
	f.updateReceived(sock)
	f.sregs[sock][SnIR] |= IRRecv
}

func (f *fakeChip) injectUDP(sock int, src netip.AddrPort, payload []byte) {
	var hdr [udpHeaderLen]byte
	ip := src.Addr().As4()
	copy(hdr[0:4], ip[:])
	binary.BigEndian.PutUint16(hdr[4:6], src.Port())
	binary.BigEndian.PutUint16(hdr[6:8], uint16(len(payload)))
	f.inject(sock, append(hdr[:], payload...))
}

// framesTo returns the payload frames that targeted a buffer region of sock.
func (f *fakeChip) framesTo(r region, sock int) []frame {
	var out []frame
	for _, fr := range f.frames {
		saved := f.target
		savedN := f.n
		f.target, f.n = fr.target, 0
		got, s, _ := f.resolve()
		f.target, f.n = saved, savedN
		if got == r && s == sock {
			out = append(out, fr)
		}
	}
	return out
}

func addressingFor(w5500 bool) Addressing {
	if w5500 {
		return NewW5500()
	}
	return NewW5200()
}

func variantName(w5500 bool) string {
	if w5500 {
		return "W5500"
	}
	return "W5200"
}

// newTestChip returns an initialized chip on a simulated bus.
func newTestChip(t *testing.T, w5500 bool) (*Chip, *fakeChip) {
	t.Helper()
	f := newFakeChip(w5500)
	c := NewChip(f, addressingFor(w5500), nil)
	if err := c.Init(context.Background(), DefaultOptions()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c, f
}
