package wiz

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/netip"

	"chimaera/slip"
)

// Framing selects how DispatchTCP splits the byte stream into messages.
type Framing uint8

const (
	// FramingLength prefixes every message with a 32-bit big-endian length.
	FramingLength Framing = iota
	// FramingSLIP delimits messages with SLIP End bytes.
	FramingSLIP
)

const lengthPrefixLen = 4

// OpenTCP opens the socket in TCP mode on port. Listen or Connect follow.
func (s *Socket) OpenTCP(ctx context.Context, port uint16, framing Framing) error {
	if err := s.Open(ctx, ModeTCP, port, false); err != nil {
		return err
	}
	s.framing = framing
	return nil
}

// Listen puts an opened TCP socket into server mode.
func (s *Socket) Listen(ctx context.Context) error {
	if s.mode != ModeTCP {
		return ErrClosed
	}
	s.command(CmdListen)
	return s.waitStatus(ctx, "listen", StatusListen, StatusEstablished)
}

// Connect connects an opened TCP socket to remote and waits for the
// connection to be established.
func (s *Socket) Connect(ctx context.Context, remote netip.AddrPort) error {
	if s.mode != ModeTCP {
		return ErrClosed
	}
	if err := s.SetRemote(remote); err != nil {
		return err
	}
	s.command(CmdConnect)
	for {
		st, err := s.Status()
		if err == nil {
			switch st {
			case StatusEstablished:
				return nil
			case StatusClosed:
				return fmt.Errorf("%w: %s", ErrConnect, remote)
			}
		}
		if ctx.Err() != nil {
			return fmt.Errorf("wiz: socket %d connect: %w", s.id, ErrTimeout)
		}
	}
}

// Established reports whether a TCP connection is up.
func (s *Socket) Established() bool {
	st, err := s.Status()
	return err == nil && st == StatusEstablished
}

// DispatchTCP reads the waiting stream data and hands every complete
// message to fn. With SLIP framing a partial frame is carried over at the
// start of buf, so the same buf must be passed on every call.
func (s *Socket) DispatchTCP(buf []byte, fn func(msg []byte)) (int, error) {
	if s.mode != ModeTCP {
		return 0, ErrClosed
	}
	if s.framing == FramingSLIP {
		return s.dispatchSLIP(buf, fn)
	}
	return s.dispatchLength(buf, fn)
}

func (s *Socket) dispatchLength(buf []byte, fn func(msg []byte)) (int, error) {
	count := 0
	for {
		avail, err := s.Available()
		if err != nil {
			return count, err
		}
		if avail < lengthPrefixLen {
			return count, nil
		}
		s.read(0, s.scratch[:lengthPrefixLen])
		if err := s.c.sched.RunBlock(); err != nil {
			return count, err
		}
		size := int(binary.BigEndian.Uint32(s.scratch[:lengthPrefixLen]))
		if size < 0 || lengthPrefixLen+size > int(s.rxSize) {
			// cannot ever fit, resynchronize on the next segment
			s.c.log.Debug("wiz: tcp stream dropped", slog.Int("sock", int(s.id)), slog.Int("len", size))
			s.consume(avail)
			continue
		}
		if lengthPrefixLen+size > avail {
			return count, nil
		}
		if size > len(buf) {
			s.consume(lengthPrefixLen + size)
			continue
		}
		msg := buf[:size]
		s.read(lengthPrefixLen, msg)
		if err := s.c.sched.RunBlock(); err != nil {
			return count, err
		}
		s.consume(lengthPrefixLen + size)
		s.c.sched.RunNonblocking()
		fn(msg)
		count++
	}
}

func (s *Socket) dispatchSLIP(buf []byte, fn func(msg []byte)) (int, error) {
	count := 0
	for {
		avail, err := s.Available()
		if err != nil {
			return count, err
		}
		if avail == 0 {
			return count, nil
		}
		if s.carry >= len(buf) {
			s.c.log.Debug("wiz: slip frame exceeds buffer", slog.Int("sock", int(s.id)))
			s.carry = 0
			s.discard = true
		}
		n := min(avail, len(buf)-s.carry)
		s.read(0, buf[s.carry:s.carry+n])
		if err := s.c.sched.RunBlock(); err != nil {
			return count, err
		}
		s.consume(n)
		s.c.sched.RunNonblocking()

		total := s.carry + n
		if s.discard {
			end := bytes.IndexByte(buf[:total], slip.End)
			if end < 0 {
				continue
			}
			s.discard = false
			total = copy(buf, buf[end+1:total])
		}
		used := slip.Split(buf[:total], func(frame []byte) {
			fn(frame)
			count++
		})
		s.carry = copy(buf, buf[used:total])
	}
}
