package osc

import "strings"

// Handler is called for a message whose path and format matched a Method.
// The Reader is positioned at the first argument. The return value reports
// whether the message was consumed.
type Handler func(tt Timetag, path, format string, r *Reader) bool

// Method binds a handler to an address. An empty Path matches every
// address; a Path ending in '/' matches every address below it. An empty
// Format matches any argument list, otherwise the format (without ',') must
// match exactly.
type Method struct {
	Path    string
	Format  string
	Handler Handler
}

func (m *Method) matches(path, format string) bool {
	switch {
	case m.Path == "":
	case strings.HasSuffix(m.Path, "/"):
		if !strings.HasPrefix(path, m.Path) {
			return false
		}
	case m.Path != path:
		return false
	}
	return m.Format == "" || m.Format == format
}

// Methods is an ordered dispatch table.
type Methods []Method

// Dispatch validates buf and feeds every contained message to the first
// matching method. Bundle elements inherit the timetag of their bundle;
// messages outside a bundle are delivered with Immediate. It returns
// ErrMalformed for packets that fail CheckPacket.
func (ms Methods) Dispatch(buf []byte) error {
	if !CheckPacket(buf) {
		return ErrMalformed
	}
	ms.dispatch(Immediate, buf)
	return nil
}

func (ms Methods) dispatch(tt Timetag, buf []byte) {
	if buf[0] == '#' {
		btt, r := Bundle(buf)
		for item := r.NextItem(); item != nil; item = r.NextItem() {
			ms.dispatch(btt, item)
		}
		return
	}
	r := NewReader(buf)
	path := r.GetPath()
	format := r.GetFormat()[1:]
	args := r.Pos()
	for i := range ms {
		if !ms[i].matches(path, format) {
			continue
		}
		r.pos = args
		if ms[i].Handler(tt, path, format, r) {
			return
		}
	}
}
