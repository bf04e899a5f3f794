package wiz

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"chimaera/slip"
)

var variants = []bool{false, true}

func TestChipInit(t *testing.T) {
	for _, w5500 := range variants {
		t.Run(variantName(w5500), func(t *testing.T) {
			c, f := newTestChip(t, w5500)
			v, err := c.Version()
			if err != nil || v != f.regs.VersionID {
				t.Errorf("Version = %#x, %v", v, err)
			}

			f.common[f.regs.PHY] = f.regs.LinkMask
			if up, err := c.LinkUp(); err != nil || !up {
				t.Errorf("LinkUp = %v, %v", up, err)
			}

			ip := netip.MustParseAddr("192.168.1.50")
			if err := c.SetIP(ip); err != nil {
				t.Fatal(err)
			}
			if got, err := c.IP(); err != nil || got != ip {
				t.Errorf("IP = %v, %v", got, err)
			}
			mac := [6]byte{0x02, 0x00, 0x00, 0xAB, 0xCD, 0xEF}
			if err := c.SetMAC(mac); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(f.common[SHAR:SHAR+6], mac[:]) {
				t.Errorf("SHAR = % x", f.common[SHAR:SHAR+6])
			}
			if err := c.SetGateway(netip.MustParseAddr("::1")); !errors.Is(err, ErrAddress) {
				t.Errorf("IPv6 gateway: err = %v", err)
			}
		})
	}
}

func TestChipInitErrors(t *testing.T) {
	f := newFakeChip(true)
	f.badVersion = true
	c := NewChip(f, NewW5500(), nil)
	if err := c.Init(context.Background(), DefaultOptions()); !errors.Is(err, ErrVersion) {
		t.Errorf("bad version: err = %v", err)
	}

	opt := DefaultOptions()
	opt.TxSizes[0] = 16
	if err := c.Init(context.Background(), opt); !errors.Is(err, ErrLayout) {
		t.Errorf("oversized layout: err = %v", err)
	}
}

func TestQueueFullKeepsError(t *testing.T) {
	c, f := newTestChip(t, true)
	f.failAt = f.starts + 1
	for i := range QueueLen + 1 {
		c.write(c.addr.Common(SIPR), []byte{10, 0, 0, byte(i)})
	}
	if err := c.sched.RunBlock(); !errors.Is(err, ErrTransfer) {
		t.Errorf("err = %v, want ErrTransfer from the job drained on a full queue", err)
	}
	if got := f.common[SIPR+3]; got != QueueLen {
		t.Errorf("last write %d, want %d", got, QueueLen)
	}
}

func TestChipInitLayout(t *testing.T) {
	f := newFakeChip(false)
	c := NewChip(f, NewW5200(), nil)
	opt := Options{
		TxSizes:    [NumSockets]uint8{8, 4, 2, 2},
		RxSizes:    [NumSockets]uint8{4, 4, 4, 4},
		RetryTime:  2000,
		RetryCount: 5,
	}
	if err := c.Init(context.Background(), opt); err != nil {
		t.Fatal(err)
	}
	if f.sregs[0][SnTXBUF] != 8 || f.sregs[4][SnTXBUF] != 0 || f.sregs[3][SnRXBUF] != 4 {
		t.Error("buffer size registers not programmed")
	}
	if got := binary.BigEndian.Uint16(f.common[w5200Registers.RTR:]); got != 2000 {
		t.Errorf("RTR = %d", got)
	}
	if f.common[w5200Registers.RCR] != 5 {
		t.Errorf("RCR = %d", f.common[w5200Registers.RCR])
	}

	// socket 1 TX memory starts behind the 8 KB of socket 0
	s := c.Socket(1)
	if err := s.OpenUDP(context.Background(), 9000); err != nil {
		t.Fatal(err)
	}
	s.SendBlock(context.Background(), []byte("layout"))
	if len(f.sent[1]) != 1 || string(f.sent[1][0]) != "layout" {
		t.Errorf("sent = %q", f.sent[1])
	}
	if fr := f.framesTo(regionTx, 1); len(fr) != 1 || fr[0].target.Addr != 0xA000 {
		t.Errorf("tx frames = %+v", fr)
	}
}

func TestOpenClose(t *testing.T) {
	ctx := context.Background()
	for _, w5500 := range variants {
		t.Run(variantName(w5500), func(t *testing.T) {
			c, f := newTestChip(t, w5500)

			s := c.Socket(2)
			if err := s.OpenUDP(ctx, 8000); err != nil {
				t.Fatal(err)
			}
			if s.Mode() != ModeUDP || f.sregs[2][SnSR] != StatusUDP {
				t.Errorf("mode %v, status %#x", s.Mode(), f.sregs[2][SnSR])
			}
			if f.reg16(2, SnPORT) != 8000 {
				t.Errorf("port = %d", f.reg16(2, SnPORT))
			}

			// reopening closes the UDP session first
			if err := s.OpenTCP(ctx, 8001, FramingLength); err != nil {
				t.Fatal(err)
			}
			if f.sregs[2][SnSR] != StatusInit {
				t.Errorf("tcp status %#x", f.sregs[2][SnSR])
			}
			if err := s.Listen(ctx); err != nil {
				t.Fatal(err)
			}
			if err := s.Close(ctx); err != nil {
				t.Fatal(err)
			}
			if s.Mode() != ModeClosed || f.sregs[2][SnSR] != StatusClosed {
				t.Errorf("after close: mode %v, status %#x", s.Mode(), f.sregs[2][SnSR])
			}
			if s.Send([]byte("x")) {
				t.Error("Send on closed socket succeeded")
			}

			if err := c.Socket(1).OpenMACRAW(ctx); !errors.Is(err, ErrMACRAW) {
				t.Errorf("MACRAW on socket 1: err = %v", err)
			}
		})
	}
}

func TestOpenTimeout(t *testing.T) {
	c, f := newTestChip(t, true)
	f.stuck = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Socket(0).OpenUDP(ctx, 1234)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if c.Socket(0).Mode() != ModeClosed {
		t.Error("socket marked open after timeout")
	}
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	c, f := newTestChip(t, false)
	s := c.Socket(3)
	remote := netip.MustParseAddrPort("10.0.0.2:3333")

	if err := s.OpenTCP(ctx, 4000, FramingLength); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(ctx, remote); err != nil {
		t.Fatal(err)
	}
	if !s.Established() {
		t.Error("not established")
	}
	if got := f.reg16(3, SnDPORT); got != 3333 {
		t.Errorf("DPORT = %d", got)
	}

	f.refuse = true
	s.OpenTCP(ctx, 4000, FramingLength)
	if err := s.Connect(ctx, remote); !errors.Is(err, ErrConnect) {
		t.Errorf("refused connect: err = %v", err)
	}
}

func TestSendWraparound(t *testing.T) {
	for _, w5500 := range variants {
		t.Run(variantName(w5500), func(t *testing.T) {
			c, f := newTestChip(t, w5500)
			f.setReg16(1, SnTX_WR, 2038)
			f.setReg16(1, SnTX_RD, 2038)

			s := c.Socket(1)
			if err := s.OpenUDP(context.Background(), 7000); err != nil {
				t.Fatal(err)
			}
			payload := make([]byte, 30)
			for i := range payload {
				payload[i] = byte(i + 1)
			}
			f.frames = nil
			if !s.Send(payload) {
				t.Fatal("Send failed")
			}
			if err := c.Scheduler().RunBlock(); err != nil {
				t.Fatal(err)
			}
			if !s.Sent() {
				t.Error("Sent() = false after RunBlock")
			}

			fr := f.framesTo(regionTx, 1)
			if len(fr) != 2 {
				t.Fatalf("got %d tx frames, want 2", len(fr))
			}
			if fr[0].target != c.addr.TxBuffer(1, 2038) || fr[0].n != 10 {
				t.Errorf("first job %+v", fr[0])
			}
			if fr[1].target != c.addr.TxBuffer(1, 0) || fr[1].n != 20 {
				t.Errorf("second job %+v", fr[1])
			}
			if len(f.sent[1]) != 1 || !bytes.Equal(f.sent[1][0], payload) {
				t.Errorf("chip sent % x", f.sent[1])
			}
			if got := f.reg16(1, SnTX_WR); got != 2068 {
				t.Errorf("TX_WR = %d, want 2068", got)
			}
		})
	}
}

func TestSendBlock(t *testing.T) {
	c, f := newTestChip(t, true)
	s := c.Socket(0)
	ctx := context.Background()
	if err := s.OpenUDP(ctx, 5000); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRemote(netip.MustParseAddrPort("10.0.0.9:5001")); err != nil {
		t.Fatal(err)
	}

	f.arpTimeouts = 1
	if err := s.SendBlock(ctx, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if f.sregs[0][SnIR]&(IRSendOK|IRTimeout) != 0 {
		t.Errorf("IR = %#x, flags not cleared", f.sregs[0][SnIR])
	}
	if len(f.sent[0]) != 1 || string(f.sent[0][0]) != "ping" {
		t.Errorf("sent = %q", f.sent[0])
	}
	if err := s.SendBlock(ctx, make([]byte, 4096)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("oversized: err = %v", err)
	}
}

func TestSendBlockAfterSend(t *testing.T) {
	c, f := newTestChip(t, true)
	s := c.Socket(0)
	ctx := context.Background()
	if err := s.OpenUDP(ctx, 5000); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRemote(netip.MustParseAddrPort("10.0.0.9:5001")); err != nil {
		t.Fatal(err)
	}

	if !s.Send([]byte("a")) {
		t.Fatal("Send refused")
	}
	if err := c.Scheduler().RunBlock(); err != nil {
		t.Fatal(err)
	}
	if f.sregs[0][SnIR]&IRSendOK == 0 {
		t.Fatal("first send not confirmed by the chip")
	}

	// The second send only completes after its ARP timeout was cleared, so
	// a stale SEND_OK must not end the wait early.
	f.arpTimeouts = 1
	if err := s.SendBlock(ctx, []byte("b")); err != nil {
		t.Fatal(err)
	}
	if f.sendOKLater[0] {
		t.Error("SendBlock returned before its own SEND_OK")
	}
	if f.sregs[0][SnIR]&(IRSendOK|IRTimeout) != 0 {
		t.Errorf("IR = %#x, flags not cleared", f.sregs[0][SnIR])
	}
	if len(f.sent[0]) != 2 || string(f.sent[0][1]) != "b" {
		t.Errorf("sent = %q", f.sent[0])
	}
}

func TestSetRemoteMulticast(t *testing.T) {
	c, f := newTestChip(t, false)
	s := c.Socket(4)
	group := netip.MustParseAddrPort("239.129.2.3:5353")
	if err := s.OpenMulticast(context.Background(), group, 5353); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x01, 0x00, 0x5E, 0x01, 0x02, 0x03}; !bytes.Equal(f.sregs[4][SnDHAR:SnDHAR+6], want) {
		t.Errorf("DHAR = % x, want % x", f.sregs[4][SnDHAR:SnDHAR+6], want)
	}
	if !bytes.Equal(f.sregs[4][SnDIPR:SnDIPR+4], []byte{239, 129, 2, 3}) {
		t.Errorf("DIPR = % x", f.sregs[4][SnDIPR:SnDIPR+4])
	}
	if f.sregs[4][SnMR] != uint8(ModeUDP|ModeMulticast) {
		t.Errorf("MR = %#x", f.sregs[4][SnMR])
	}
}

func TestDispatchUDP(t *testing.T) {
	for _, w5500 := range variants {
		t.Run(variantName(w5500), func(t *testing.T) {
			c, f := newTestChip(t, w5500)
			// the second datagram straddles the end of the RX buffer
			f.setReg16(5, SnRX_WR, 2030)
			f.setReg16(5, SnRX_RD, 2030)
			s := c.Socket(5)
			if err := s.OpenUDP(context.Background(), 3333); err != nil {
				t.Fatal(err)
			}

			a := netip.MustParseAddrPort("10.0.0.1:1000")
			b := netip.MustParseAddrPort("10.0.0.2:2000")
			f.injectUDP(5, a, []byte("hello"))
			f.injectUDP(5, b, bytes.Repeat([]byte{'z'}, 40))
			f.injectUDP(5, b, []byte("world!"))

			type got struct {
				src netip.AddrPort
				msg string
			}
			var out []got
			n, err := s.DispatchUDP(make([]byte, 16), func(src netip.AddrPort, p []byte) {
				out = append(out, got{src, string(p)})
			})
			if err != nil {
				t.Fatal(err)
			}
			if n != 2 || len(out) != 2 {
				t.Fatalf("delivered %d: %+v", n, out)
			}
			if out[0] != (got{a, "hello"}) || out[1] != (got{b, "world!"}) {
				t.Errorf("datagrams = %+v", out)
			}
			if f.reg16(5, SnRX_RSR) != 0 || f.reg16(5, SnRX_RD) != f.reg16(5, SnRX_WR) {
				t.Errorf("RX not fully committed: RSR %d RD %d WR %d",
					f.reg16(5, SnRX_RSR), f.reg16(5, SnRX_RD), f.reg16(5, SnRX_WR))
			}
		})
	}
}

func TestDispatchTCPLength(t *testing.T) {
	c, f := newTestChip(t, true)
	s := c.Socket(6)
	if err := s.OpenTCP(context.Background(), 4000, FramingLength); err != nil {
		t.Fatal(err)
	}

	msg := func(p string) []byte {
		b := binary.BigEndian.AppendUint32(nil, uint32(len(p)))
		return append(b, p...)
	}
	stream := append(msg("abc"), msg("de")...)
	tail := msg("fghij")
	f.inject(6, append(stream, tail[:6]...))

	var got []string
	collect := func(m []byte) { got = append(got, string(m)) }
	buf := make([]byte, 32)
	if n, err := s.DispatchTCP(buf, collect); err != nil || n != 2 {
		t.Fatalf("first dispatch: %d, %v", n, err)
	}
	f.inject(6, tail[6:])
	if n, err := s.DispatchTCP(buf, collect); err != nil || n != 1 {
		t.Fatalf("second dispatch: %d, %v", n, err)
	}
	if len(got) != 3 || got[0] != "abc" || got[1] != "de" || got[2] != "fghij" {
		t.Errorf("messages = %q", got)
	}
}

func TestDispatchTCPSLIP(t *testing.T) {
	c, f := newTestChip(t, false)
	s := c.Socket(7)
	if err := s.OpenTCP(context.Background(), 4001, FramingSLIP); err != nil {
		t.Fatal(err)
	}

	stream := slip.AppendEncode(nil, []byte{1, slip.End, 2})
	stream = slip.AppendEncode(stream, []byte("second"))
	split := len(stream) - 3

	var got [][]byte
	collect := func(m []byte) { got = append(got, append([]byte(nil), m...)) }
	buf := make([]byte, 64)

	f.inject(7, stream[:split])
	if n, _ := s.DispatchTCP(buf, collect); n != 1 {
		t.Errorf("first dispatch delivered %d", n)
	}
	f.inject(7, stream[split:])
	if n, _ := s.DispatchTCP(buf, collect); n != 1 {
		t.Errorf("second dispatch delivered %d", n)
	}
	if len(got) != 2 || !bytes.Equal(got[0], []byte{1, slip.End, 2}) || string(got[1]) != "second" {
		t.Errorf("frames = %q", got)
	}
}

func TestDispatchTCPSLIPOversized(t *testing.T) {
	c, f := newTestChip(t, true)
	s := c.Socket(2)
	if err := s.OpenTCP(context.Background(), 4002, FramingSLIP); err != nil {
		t.Fatal(err)
	}

	stream := slip.AppendEncode(nil, bytes.Repeat([]byte("x"), 40))
	stream = slip.AppendEncode(stream, []byte("ok"))
	f.inject(2, stream)

	var got []string
	buf := make([]byte, 16)
	n, err := s.DispatchTCP(buf, func(m []byte) { got = append(got, string(m)) })
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(got) != 1 || got[0] != "ok" {
		t.Errorf("frames = %q, want only \"ok\"", got)
	}

	f.inject(2, slip.AppendEncode(nil, []byte("next")))
	got = nil
	if _, err := s.DispatchTCP(buf, func(m []byte) { got = append(got, string(m)) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "next" {
		t.Errorf("frames after discard = %q", got)
	}
}

func TestDispatchMACRAW(t *testing.T) {
	c, f := newTestChip(t, true)
	s := c.Socket(0)
	if err := s.OpenMACRAW(context.Background()); err != nil {
		t.Fatal(err)
	}

	eth := []byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
		0x02, 0x11, 0x22, 0x33, 0x44, 0x55,
		0x08, 0x06,
		0xDE, 0xAD, 0xBE, 0xEF,
	}
	rec := binary.BigEndian.AppendUint16(nil, uint16(2+len(eth)))
	f.inject(0, append(rec, eth...))

	var hdr EthernetHeader
	var payload []byte
	n, err := s.DispatchMACRAW(make([]byte, 64), func(h EthernetHeader, p []byte) {
		hdr = h
		payload = append([]byte(nil), p...)
	})
	if err != nil || n != 1 {
		t.Fatalf("DispatchMACRAW = %d, %v", n, err)
	}
	if hdr.Type != 0x0806 || hdr.Src != [6]byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55} || hdr.Dst[0] != 0xFF {
		t.Errorf("header = %+v", hdr)
	}
	if !bytes.Equal(payload, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("payload = % x", payload)
	}
}

func TestReceive(t *testing.T) {
	c, f := newTestChip(t, false)
	s := c.Socket(2)
	if err := s.OpenTCP(context.Background(), 80, FramingLength); err != nil {
		t.Fatal(err)
	}
	f.inject(2, []byte("GET /"))
	n, err := s.Available()
	if err != nil || n != 5 {
		t.Fatalf("Available = %d, %v", n, err)
	}
	buf := make([]byte, n)
	if err := s.Receive(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "GET /" {
		t.Errorf("Receive = %q", buf)
	}
	if n, _ := s.Available(); n != 0 {
		t.Errorf("Available after Receive = %d", n)
	}
}

func TestServiceIRQ(t *testing.T) {
	c, f := newTestChip(t, true)
	s := c.Socket(3)
	if err := s.OpenUDP(context.Background(), 6000); err != nil {
		t.Fatal(err)
	}

	var fired uint8
	s.SetIRQ(IRRecv, func(_ *Socket, ir uint8) { fired |= ir })
	if f.common[f.regs.SocketIMR] != 1<<3 {
		t.Errorf("socket IMR = %#x", f.common[f.regs.SocketIMR])
	}

	f.injectUDP(3, netip.MustParseAddrPort("10.1.1.1:9"), []byte("x"))
	if err := c.ServiceIRQ(); err != nil {
		t.Fatal(err)
	}
	if err := c.Scheduler().RunBlock(); err != nil {
		t.Fatal(err)
	}
	if fired != IRRecv {
		t.Errorf("callback got %#x", fired)
	}
	if f.sregs[3][SnIR] != 0 {
		t.Errorf("Sn_IR not cleared: %#x", f.sregs[3][SnIR])
	}
}
