package wiz

// Target is the physical location of one transaction: a 16-bit address and,
// on the W5500, the control phase block select byte.
type Target struct {
	Addr   uint16
	Opcode uint8
}

// Addressing translates logical chip locations into SPI frame headers.
// One implementation exists per chip variant; the choice is made when the
// Chip is constructed.
type Addressing interface {
	// Common addresses a common register.
	Common(reg uint16) Target
	// Socket addresses a register of socket sock.
	Socket(sock uint8, reg uint16) Target
	// TxBuffer addresses offset off inside the TX buffer of sock. off must
	// already be reduced modulo the buffer size.
	TxBuffer(sock uint8, off uint16) Target
	// RxBuffer addresses offset off inside the RX buffer of sock.
	RxBuffer(sock uint8, off uint16) Target
	// Header encodes the frame header for an n byte access into dst and
	// returns its length.
	Header(dst []byte, t Target, n int, write bool) int
	// HeaderLen is the number of header bytes per frame.
	HeaderLen() int
	// Registers returns the variant specific common register map.
	Registers() *CommonRegisters
	// Layout records the per-socket buffer sizes in KB.
	Layout(tx, rx [NumSockets]uint8)
}

// W5200 addressing: one flat 16-bit address space. Socket registers start
// at 0x4000 in 0x100 steps, TX memory at 0x8000 and RX memory at 0xC000 with
// per-socket bases derived from the buffer layout. The header carries the
// read/write bit and a 15-bit length.
type W5200 struct {
	txBase [NumSockets]uint16
	rxBase [NumSockets]uint16
}

const (
	w5200SocketBase = 0x4000
	w5200TxBase     = 0x8000
	w5200RxBase     = 0xC000
)

// NewW5200 returns W5200 addressing with the power-on layout of 2 KB per
// socket.
func NewW5200() *W5200 {
	a := &W5200{}
	a.Layout(DefaultLayout(), DefaultLayout())
	return a
}

func (a *W5200) Common(reg uint16) Target {
	return Target{Addr: reg}
}

func (a *W5200) Socket(sock uint8, reg uint16) Target {
	return Target{Addr: w5200SocketBase + uint16(sock)*socketSpan + reg}
}

func (a *W5200) TxBuffer(sock uint8, off uint16) Target {
	return Target{Addr: a.txBase[sock] + off}
}

func (a *W5200) RxBuffer(sock uint8, off uint16) Target {
	return Target{Addr: a.rxBase[sock] + off}
}

func (a *W5200) Header(dst []byte, t Target, n int, write bool) int {
	dst[0] = byte(t.Addr >> 8)
	dst[1] = byte(t.Addr)
	dst[2] = byte(n>>8) & 0x7F
	if write {
		dst[2] |= 0x80
	}
	dst[3] = byte(n)
	return 4
}

func (a *W5200) HeaderLen() int { return 4 }

func (a *W5200) Registers() *CommonRegisters { return &w5200Registers }

// Layout stacks the socket buffers in socket order.
func (a *W5200) Layout(tx, rx [NumSockets]uint8) {
	var toff, roff uint16
	for i := range NumSockets {
		a.txBase[i] = w5200TxBase + toff
		a.rxBase[i] = w5200RxBase + roff
		toff += uint16(tx[i]) << 10
		roff += uint16(rx[i]) << 10
	}
}

// W5500 addressing: every socket owns three 64 KB blocks (registers, TX and
// RX buffer) selected by the block select bits of the control phase byte.
// Frames use variable length mode, so the length is given by chip select.
type W5500 struct{}

// W5500 control phase bits
const (
	w5500Write = 0x04
	bsbShift   = 3
)

func bsb(sock uint8, block uint8) uint8 {
	return (sock*4 + block) << bsbShift
}

// NewW5500 returns W5500 addressing.
func NewW5500() *W5500 { return &W5500{} }

func (W5500) Common(reg uint16) Target {
	return Target{Addr: reg}
}

func (W5500) Socket(sock uint8, reg uint16) Target {
	return Target{Addr: reg, Opcode: bsb(sock, 1)}
}

func (W5500) TxBuffer(sock uint8, off uint16) Target {
	return Target{Addr: off, Opcode: bsb(sock, 2)}
}

func (W5500) RxBuffer(sock uint8, off uint16) Target {
	return Target{Addr: off, Opcode: bsb(sock, 3)}
}

func (W5500) Header(dst []byte, t Target, n int, write bool) int {
	dst[0] = byte(t.Addr >> 8)
	dst[1] = byte(t.Addr)
	dst[2] = t.Opcode
	if write {
		dst[2] |= w5500Write
	}
	return 3
}

func (W5500) HeaderLen() int { return 3 }

func (W5500) Registers() *CommonRegisters { return &w5500Registers }

func (W5500) Layout(tx, rx [NumSockets]uint8) {}

// DefaultLayout is the power-on buffer size of 2 KB for every socket.
func DefaultLayout() [NumSockets]uint8 {
	return [NumSockets]uint8{2, 2, 2, 2, 2, 2, 2, 2}
}

// ValidLayout reports whether every size is one the chips support and the
// sum stays within total.
func ValidLayout(sizes [NumSockets]uint8, total int) bool {
	sum := 0
	for _, kb := range sizes {
		switch kb {
		case 0, 1, 2, 4, 8, 16:
		default:
			return false
		}
		sum += int(kb)
	}
	return sum <= total
}
