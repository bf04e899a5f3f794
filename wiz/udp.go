package wiz

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net/netip"
)

// udpHeaderLen is the size of the chip's receive pseudo header: source IP,
// source port and payload length.
const udpHeaderLen = 8

// UDPHandler receives one datagram. payload aliases the dispatch buffer.
type UDPHandler func(src netip.AddrPort, payload []byte)

// OpenUDP opens the socket as a UDP endpoint on port.
func (s *Socket) OpenUDP(ctx context.Context, port uint16) error {
	return s.Open(ctx, ModeUDP, port, false)
}

// OpenMulticast joins group and receives on port.
func (s *Socket) OpenMulticast(ctx context.Context, group netip.AddrPort, port uint16) error {
	if err := s.SetRemote(group); err != nil {
		return err
	}
	return s.Open(ctx, ModeUDP, port, true)
}

// DispatchUDP hands every waiting datagram to fn and returns how many were
// delivered. Datagrams larger than buf are skipped.
func (s *Socket) DispatchUDP(buf []byte, fn UDPHandler) (int, error) {
	if s.mode != ModeUDP {
		return 0, ErrClosed
	}
	count := 0
	for {
		avail, err := s.Available()
		if err != nil {
			return count, err
		}
		if avail < udpHeaderLen {
			return count, nil
		}

		hdr := s.scratch[:udpHeaderLen]
		s.read(0, hdr)
		if err := s.c.sched.RunBlock(); err != nil {
			return count, err
		}
		src := netip.AddrPortFrom(netip.AddrFrom4([4]byte(hdr[0:4])), binary.BigEndian.Uint16(hdr[4:6]))
		size := int(binary.BigEndian.Uint16(hdr[6:8]))

		if size > len(buf) || udpHeaderLen+size > avail {
			s.c.log.Debug("wiz: udp datagram dropped", slog.Int("sock", int(s.id)),
				slog.String("src", src.String()), slog.Int("len", size))
			s.consume(min(udpHeaderLen+size, avail))
			continue
		}

		payload := buf[:size]
		s.read(udpHeaderLen, payload)
		if err := s.c.sched.RunBlock(); err != nil {
			return count, err
		}
		s.consume(udpHeaderLen + size)
		s.c.sched.RunNonblocking()
		fn(src, payload)
		count++
	}
}
