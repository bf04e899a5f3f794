package link

import (
	"io"
	"net"
	"sync"

	"chimaera/slip"
)

// maxFrame is the largest OSC packet the link accepts.
const maxFrame = 2048

// FrameConn carries whole OSC packets.
type FrameConn interface {
	// ReadFrame blocks for the next packet. The slice is valid until the
	// next call.
	ReadFrame() ([]byte, error)
	WriteFrame(pkt []byte) error
	Close() error
}

// slipConn frames packets on a byte stream.
type slipConn struct {
	rw      io.ReadWriteCloser
	dec     *slip.Decoder
	buf     [256]byte
	pending [][]byte
	wmu     sync.Mutex
	out     []byte
}

// SLIP returns a FrameConn that SLIP encodes packets on rw, as used on the
// serial line.
func SLIP(rw io.ReadWriteCloser) FrameConn {
	return &slipConn{rw: rw, dec: slip.NewDecoder(maxFrame)}
}

func (c *slipConn) ReadFrame() ([]byte, error) {
	for len(c.pending) == 0 {
		n, err := c.rw.Read(c.buf[:])
		c.dec.Write(c.buf[:n], func(frame []byte) {
			c.pending = append(c.pending, append([]byte(nil), frame...))
		})
		if err != nil && len(c.pending) == 0 {
			return nil, err
		}
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

func (c *slipConn) WriteFrame(pkt []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.out = slip.AppendEncode(c.out[:0], pkt)
	_, err := c.rw.Write(c.out)
	return err
}

func (c *slipConn) Close() error { return c.rw.Close() }

// datagramConn maps one packet to one datagram.
type datagramConn struct {
	conn net.Conn
	buf  [maxFrame]byte
}

// Datagram returns a FrameConn over a connected UDP socket, talking to the
// device's config port directly.
func Datagram(conn net.Conn) FrameConn {
	return &datagramConn{conn: conn}
}

func (c *datagramConn) ReadFrame() ([]byte, error) {
	n, err := c.conn.Read(c.buf[:])
	if err != nil {
		return nil, err
	}
	return c.buf[:n], nil
}

func (c *datagramConn) WriteFrame(pkt []byte) error {
	_, err := c.conn.Write(pkt)
	return err
}

func (c *datagramConn) Close() error { return c.conn.Close() }
