// Package link is the host side of the device's configuration protocol:
// OSC requests carrying an int32 id, answered by /success or /error replies
// with the same id. Other packets from the device, such as /debug, are
// delivered on a channel.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"chimaera/osc"
	"chimaera/osc/query"
)

var (
	// ErrClosed is returned for requests on a closed link.
	ErrClosed = errors.New("link: closed")
)

// RemoteError is an /error reply.
type RemoteError struct {
	Path   string
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Message is a decoded OSC message.
type Message struct {
	Timetag osc.Timetag
	Path    string
	Format  string // without ','
	Args    []any
}

func (m Message) String() string {
	return fmt.Sprintf("%s ,%s %v", m.Path, m.Format, m.Args)
}

// Link multiplexes requests and unsolicited messages over a FrameConn.
type Link struct {
	conn   FrameConn
	log    *slog.Logger
	nextID atomic.Int32

	mu      sync.Mutex
	pending map[int32]chan Message
	closed  bool

	wbuf    []byte
	wmu     sync.Mutex
	events  chan Message
	dropped atomic.Uint32
	done    chan struct{}
	err     error
}

// New starts reading from conn. log may be nil.
func New(conn FrameConn, log *slog.Logger) *Link {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	l := &Link{
		conn:    conn,
		log:     log,
		pending: make(map[int32]chan Message),
		wbuf:    make([]byte, maxFrame),
		events:  make(chan Message, 64),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	return l
}

// Messages delivers packets that are not replies. When the channel is full
// new messages are dropped.
func (l *Link) Messages() <-chan Message { return l.events }

// Dropped returns the number of malformed or undeliverable packets.
func (l *Link) Dropped() uint32 { return l.dropped.Load() }

// Send writes a message without waiting for a reply.
func (l *Link) Send(path, format string, args ...any) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	w := osc.NewWriter(l.wbuf)
	if !w.SetVarlist(path, format, args...) {
		return fmt.Errorf("link: encode %s: %w", path, w.Err())
	}
	return l.conn.WriteFrame(w.Bytes())
}

// Request sends path with a fresh request id followed by args and waits
// for the matching reply. The returned message holds the reply values
// after id and path. An /error reply is returned as *RemoteError.
func (l *Link) Request(ctx context.Context, path, format string, args ...any) (Message, error) {
	id := l.nextID.Add(1)
	ch := make(chan Message, 1)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Message{}, ErrClosed
	}
	l.pending[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if err := l.Send(path, "i"+format, append([]any{id}, args...)...); err != nil {
		return Message{}, err
	}

	select {
	case m, ok := <-ch:
		if !ok {
			return Message{}, ErrClosed
		}
		if m.Path == query.PathError {
			reason, _ := m.Args[0].(string)
			return Message{}, &RemoteError{Path: path, Reason: reason}
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("link: %s: %w", path, ctx.Err())
	}
}

// Get reads the current values of a method.
func (l *Link) Get(ctx context.Context, path string) (Message, error) {
	return l.Request(ctx, path, "")
}

// Describe returns the JSON description of the item at path.
func (l *Link) Describe(ctx context.Context, path string) (string, error) {
	m, err := l.Request(ctx, path+query.DescribeSuffix, "")
	if err != nil {
		return "", err
	}
	if len(m.Args) == 0 {
		return "", fmt.Errorf("link: %s: empty description", path)
	}
	s, _ := m.Args[0].(string)
	return s, nil
}

// Close stops the reader and closes the connection.
func (l *Link) Close() error {
	err := l.conn.Close()
	<-l.done
	return err
}

// Err returns the error that ended the reader, if any.
func (l *Link) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *Link) readLoop() {
	defer close(l.done)
	defer func() {
		l.mu.Lock()
		l.closed = true
		for id, ch := range l.pending {
			close(ch)
			delete(l.pending, id)
		}
		l.mu.Unlock()
		close(l.events)
	}()

	for {
		pkt, err := l.conn.ReadFrame()
		if err != nil {
			l.err = err
			return
		}
		if !osc.CheckPacket(pkt) {
			l.dropped.Add(1)
			l.log.Debug("link: malformed packet", slog.Int("len", len(pkt)))
			continue
		}
		l.packet(osc.Immediate, pkt)
	}
}

func (l *Link) packet(tt osc.Timetag, pkt []byte) {
	if pkt[0] == '#' {
		btt, r := osc.Bundle(pkt)
		for item := r.NextItem(); item != nil; item = r.NextItem() {
			l.packet(btt, item)
		}
		return
	}
	m := decode(tt, pkt)
	if m.Path == query.PathSuccess || m.Path == query.PathError {
		if l.reply(m) {
			return
		}
	}
	select {
	case l.events <- m:
	default:
		l.dropped.Add(1)
	}
}

// reply hands a reply to its waiting request, with id and path removed.
func (l *Link) reply(m Message) bool {
	if len(m.Format) < 2 || m.Format[0] != 'i' || m.Format[1] != 's' {
		return false
	}
	id := m.Args[0].(int32)
	l.mu.Lock()
	ch, ok := l.pending[id]
	l.mu.Unlock()
	if !ok {
		l.log.Debug("link: reply without request", slog.Int("id", int(id)))
		return false
	}
	m.Format = m.Format[2:]
	m.Args = m.Args[2:]
	select {
	case ch <- m:
	default:
		l.log.Debug("link: duplicate reply", slog.Int("id", int(id)))
	}
	return true
}

func decode(tt osc.Timetag, pkt []byte) Message {
	r := osc.NewReader(pkt)
	m := Message{Timetag: tt, Path: r.GetPath()}
	m.Format = r.GetFormat()[1:]
	for i := 0; i < len(m.Format); i++ {
		v := r.GetValue(osc.Type(m.Format[i]))
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		m.Args = append(m.Args, v)
	}
	return m
}
