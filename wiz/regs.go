package wiz

// NumSockets is the number of hardware sockets on both chip variants.
const NumSockets = 8

// Total buffer memory shared by all sockets, in KB.
const (
	TotalTxKB = 16
	TotalRxKB = 16
)

// Socket register offsets, identical on W5200 and W5500.
const (
	SnMR       = 0x00
	SnCR       = 0x01
	SnIR       = 0x02
	SnSR       = 0x03
	SnPORT     = 0x04
	SnDHAR     = 0x06
	SnDIPR     = 0x0C
	SnDPORT    = 0x10
	SnMSSR     = 0x12
	SnTOS      = 0x15
	SnTTL      = 0x16
	SnRXBUF    = 0x1E
	SnTXBUF    = 0x1F
	SnTX_FSR   = 0x20
	SnTX_RD    = 0x22
	SnTX_WR    = 0x24
	SnRX_RSR   = 0x26
	SnRX_RD    = 0x28
	SnRX_WR    = 0x2A
	SnIMR      = 0x2C
	socketSpan = 0x100
)

// Common register offsets shared by both variants. Registers that moved
// between the chips live in CommonRegisters.
const (
	MR   = 0x00
	GAR  = 0x01
	SUBR = 0x05
	SHAR = 0x09
	SIPR = 0x0F
	IR   = 0x15
)

// MR bits
const (
	MRReset = 0x80
)

// Mode is the protocol selected in Sn_MR.
type Mode uint8

// Socket modes
const (
	ModeClosed Mode = 0x00
	ModeTCP    Mode = 0x01
	ModeUDP    Mode = 0x02
	ModeMACRAW Mode = 0x04

	// ModeMulticast is or-ed into ModeUDP to join the group in Sn_DIPR.
	ModeMulticast Mode = 0x80
)

func (m Mode) String() string {
	switch m &^ ModeMulticast {
	case ModeClosed:
		return "closed"
	case ModeTCP:
		return "tcp"
	case ModeUDP:
		return "udp"
	case ModeMACRAW:
		return "macraw"
	}
	return "unknown"
}

// Sn_CR commands
const (
	CmdOpen     = 0x01
	CmdListen   = 0x02
	CmdConnect  = 0x04
	CmdDiscon   = 0x08
	CmdClose    = 0x10
	CmdSend     = 0x20
	CmdSendMAC  = 0x21
	CmdSendKeep = 0x22
	CmdRecv     = 0x40
)

// Sn_IR bits
const (
	IRCon     = 0x01
	IRDiscon  = 0x02
	IRRecv    = 0x04
	IRTimeout = 0x08
	IRSendOK  = 0x10
)

// Sn_SR states
const (
	StatusClosed      = 0x00
	StatusInit        = 0x13
	StatusListen      = 0x14
	StatusSynSent     = 0x15
	StatusSynRecv     = 0x16
	StatusEstablished = 0x17
	StatusFinWait     = 0x18
	StatusClosing     = 0x1A
	StatusTimeWait    = 0x1B
	StatusCloseWait   = 0x1C
	StatusLastAck     = 0x1D
	StatusUDP         = 0x22
	StatusMACRAW      = 0x42
)

// CommonRegisters holds the common register addresses that differ between
// the chip variants.
type CommonRegisters struct {
	SocketIR  uint16 // one bit per socket with a pending Sn_IR
	SocketIMR uint16
	RTR       uint16
	RCR       uint16
	PHY       uint16
	LinkMask  uint8
	Version   uint16
	VersionID uint8
}

var w5200Registers = CommonRegisters{
	SocketIR:  0x34, // IR2
	SocketIMR: 0x16, // IMR
	RTR:       0x17,
	RCR:       0x19,
	PHY:       0x35, // PHYSTATUS
	LinkMask:  0x20,
	Version:   0x1F,
	VersionID: 0x03,
}

var w5500Registers = CommonRegisters{
	SocketIR:  0x17, // SIR
	SocketIMR: 0x18, // SIMR
	RTR:       0x19,
	RCR:       0x1B,
	PHY:       0x2E, // PHYCFGR
	LinkMask:  0x01,
	Version:   0x39,
	VersionID: 0x04,
}
