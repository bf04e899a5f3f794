package wiz

import (
	"context"
	"encoding/binary"
)

// EthernetHeaderLen is the size of a MAC header without VLAN tag.
const EthernetHeaderLen = 14

// EthernetHeader is the header of a frame received in MACRAW mode.
type EthernetHeader struct {
	Dst  [6]byte
	Src  [6]byte
	Type uint16
}

// MACRAWHandler receives one Ethernet frame.
type MACRAWHandler func(h EthernetHeader, payload []byte)

// OpenMACRAW opens socket 0 for raw Ethernet frames.
func (s *Socket) OpenMACRAW(ctx context.Context) error {
	return s.Open(ctx, ModeMACRAW, 0, false)
}

// DispatchMACRAW hands every waiting frame to fn. Each frame in the RX
// buffer is preceded by a 2-byte length that counts itself.
func (s *Socket) DispatchMACRAW(buf []byte, fn MACRAWHandler) (int, error) {
	if s.mode != ModeMACRAW {
		return 0, ErrClosed
	}
	count := 0
	for {
		avail, err := s.Available()
		if err != nil {
			return count, err
		}
		if avail < 2 {
			return count, nil
		}
		s.read(0, s.scratch[:2])
		if err := s.c.sched.RunBlock(); err != nil {
			return count, err
		}
		size := int(binary.BigEndian.Uint16(s.scratch[:2]))
		n := size - 2
		if size > avail || n < EthernetHeaderLen || n > len(buf) {
			s.consume(min(max(size, 2), avail))
			continue
		}
		frame := buf[:n]
		s.read(2, frame)
		if err := s.c.sched.RunBlock(); err != nil {
			return count, err
		}
		s.consume(size)
		s.c.sched.RunNonblocking()

		var h EthernetHeader
		copy(h.Dst[:], frame[0:6])
		copy(h.Src[:], frame[6:12])
		h.Type = binary.BigEndian.Uint16(frame[12:14])
		fn(h, frame[EthernetHeaderLen:])
		count++
	}
}
