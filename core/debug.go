package core

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"chimaera/osc"
)

// Debug ring dimensions
const (
	DebugRingSize = 8
	DebugMsgLen   = 256
)

// DebugPath is the OSC address of log messages.
const DebugPath = "/debug"

// DebugHandler is a slog.Handler that turns records into "/debug ,s" OSC
// messages. Records are queued in a fixed ring and sent from the main loop
// by Flush; when the ring is full new records are dropped.
type DebugHandler struct {
	slog.Handler
	sink    *debugSink
	enabled *atomic.Bool
	level   *slog.LevelVar
}

type debugSink struct {
	mu      sync.Mutex
	msgs    [DebugRingSize][DebugMsgLen]byte
	lens    [DebugRingSize]int
	head    uint8 // next slot to write
	count   uint8
	dropped uint32
}

// NewDebugHandler returns a disabled handler logging at level and above.
func NewDebugHandler(level slog.Level) *DebugHandler {
	sink := &debugSink{}
	lv := new(slog.LevelVar)
	lv.Set(level)
	text := slog.NewTextHandler(sink, &slog.HandlerOptions{
		Level: lv,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return &DebugHandler{Handler: text, sink: sink, enabled: new(atomic.Bool), level: lv}
}

// SetLevel changes the minimum level of queued records.
func (h *DebugHandler) SetLevel(l slog.Level) { h.level.Set(l) }

// SetEnabled switches the message stream on or off.
func (h *DebugHandler) SetEnabled(on bool) { h.enabled.Store(on) }

// IsEnabled reports whether records are queued.
func (h *DebugHandler) IsEnabled() bool { return h.enabled.Load() }

func (h *DebugHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.enabled.Load() && h.Handler.Enabled(ctx, l)
}

func (h *DebugHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DebugHandler{Handler: h.Handler.WithAttrs(attrs), sink: h.sink, enabled: h.enabled, level: h.level}
}

func (h *DebugHandler) WithGroup(name string) slog.Handler {
	return &DebugHandler{Handler: h.Handler.WithGroup(name), sink: h.sink, enabled: h.enabled, level: h.level}
}

// Pending returns the number of queued messages.
func (h *DebugHandler) Pending() int {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return int(h.sink.count)
}

// Dropped returns the number of records lost to a full ring.
func (h *DebugHandler) Dropped() uint32 {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return h.sink.dropped
}

// Flush hands queued messages to send, oldest first. A message that send
// rejects stays queued and Flush stops.
func (h *DebugHandler) Flush(send func(msg []byte) error) (int, error) {
	s := h.sink
	n := 0
	for {
		s.mu.Lock()
		if s.count == 0 {
			s.mu.Unlock()
			return n, nil
		}
		tail := (s.head + DebugRingSize - s.count) % DebugRingSize
		msg := s.msgs[tail][:s.lens[tail]]
		s.mu.Unlock()

		if err := send(msg); err != nil {
			return n, err
		}

		s.mu.Lock()
		s.count--
		s.mu.Unlock()
		n++
	}
}

// Write receives one formatted line from the text handler.
func (s *debugSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == DebugRingSize {
		s.dropped++
		return len(p), nil
	}

	line := bytes.TrimRight(p, "\n")
	// keep room for path, format, NUL and padding
	if limit := DebugMsgLen - osc.StringLen(DebugPath) - osc.FormatLen("s") - 4; len(line) > limit {
		line = line[:limit]
	}

	slot := s.msgs[s.head][:]
	w := osc.NewWriter(slot)
	if !w.SetVarlist(DebugPath, "s", string(line)) {
		s.dropped++
		return len(p), nil
	}
	s.lens[s.head] = w.Len()
	s.head = (s.head + 1) % DebugRingSize
	s.count++
	return len(p), nil
}
