package osc

import (
	"encoding/binary"
	"math"
)

// Writer serializes OSC values into a caller supplied buffer and never
// writes past its end. The first write that does not fit poisons the writer:
// it reports false, writes nothing, and every later call is a no-op that
// also reports false.
type Writer struct {
	buf []byte
	pos int
	err error
}

// NewWriter returns a Writer filling buf from offset 0. The usable end of the
// buffer is len(buf).
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Reset rewinds the writer and clears a previous overflow.
func (w *Writer) Reset() {
	w.pos = 0
	w.err = nil
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.pos }

// Bytes returns the serialized data.
func (w *Writer) Bytes() []byte { return w.buf[:w.pos] }

// Err returns ErrOverflow once the writer is poisoned.
func (w *Writer) Err() error { return w.err }

// OK reports whether the writer has not overflowed.
func (w *Writer) OK() bool { return w.err == nil }

// Available returns the free space behind the current position.
func (w *Writer) Available() int {
	if w.err != nil {
		return 0
	}
	return len(w.buf) - w.pos
}

// reserve claims n bytes, poisoning the writer if they do not fit.
func (w *Writer) reserve(n int) []byte {
	if w.err != nil {
		return nil
	}
	if n < 0 || w.pos+n > len(w.buf) {
		w.err = ErrOverflow
		return nil
	}
	b := w.buf[w.pos : w.pos+n]
	w.pos += n
	return b
}

// SetInt32 writes a big-endian 32-bit integer.
func (w *Writer) SetInt32(v int32) bool {
	b := w.reserve(4)
	if b == nil {
		return false
	}
	binary.BigEndian.PutUint32(b, uint32(v))
	return true
}

// SetFloat writes an IEEE 754 single.
func (w *Writer) SetFloat(v float32) bool {
	b := w.reserve(4)
	if b == nil {
		return false
	}
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
	return true
}

// SetInt64 writes a big-endian 64-bit integer.
func (w *Writer) SetInt64(v int64) bool {
	b := w.reserve(8)
	if b == nil {
		return false
	}
	binary.BigEndian.PutUint64(b, uint64(v))
	return true
}

// SetDouble writes an IEEE 754 double.
func (w *Writer) SetDouble(v float64) bool {
	b := w.reserve(8)
	if b == nil {
		return false
	}
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return true
}

// SetTimetag writes a 32.32 fixed point timetag.
func (w *Writer) SetTimetag(tt Timetag) bool {
	b := w.reserve(8)
	if b == nil {
		return false
	}
	binary.BigEndian.PutUint64(b, uint64(tt))
	return true
}

// SetString writes s, its terminating NUL and zero padding to a multiple of 4.
func (w *Writer) SetString(s string) bool {
	b := w.reserve(StringLen(s))
	if b == nil {
		return false
	}
	n := copy(b, s)
	clear(b[n:])
	return true
}

// SetSymbol writes an 'S' argument; the encoding is that of a string.
func (w *Writer) SetSymbol(s string) bool {
	return w.SetString(s)
}

// SetChar writes a character as a 32-bit integer.
func (w *Writer) SetChar(c byte) bool {
	return w.SetInt32(int32(c))
}

// SetMIDI writes the four raw MIDI bytes.
func (w *Writer) SetMIDI(m MIDIMessage) bool {
	b := w.reserve(4)
	if b == nil {
		return false
	}
	copy(b, m[:])
	return true
}

// SetBlob writes a 32-bit size followed by data padded to a multiple of 4.
// Size and payload are reserved together so an overflow leaves nothing behind.
func (w *Writer) SetBlob(data []byte) bool {
	padded := (len(data) + 3) &^ 3
	b := w.reserve(4 + padded)
	if b == nil {
		return false
	}
	binary.BigEndian.PutUint32(b, uint32(len(data)))
	n := copy(b[4:], data)
	clear(b[4+n:])
	return true
}

// SetPath writes a message address.
func (w *Writer) SetPath(path string) bool {
	return w.SetString(path)
}

// SetFormat writes the type tag string, adding the leading ',' when absent.
func (w *Writer) SetFormat(f string) bool {
	b := w.reserve(FormatLen(f))
	if b == nil {
		return false
	}
	i := 0
	if len(f) == 0 || f[0] != ',' {
		b[0] = ','
		i = 1
	}
	n := copy(b[i:], f)
	clear(b[i+n:])
	return true
}

// SetMessage writes path and format; arguments follow with the typed setters.
func (w *Writer) SetMessage(path, f string) bool {
	return w.SetPath(path) && w.SetFormat(f)
}

// Marker is a saved writer position opening a bundle or bundle item.
// A negative marker was taken from a poisoned writer.
type Marker int

// StartBundle writes "#bundle\0" and the timetag and returns the marker of
// the bundle start.
func (w *Writer) StartBundle(tt Timetag) Marker {
	m := w.mark()
	b := w.reserve(bundleHeaderLen)
	if b == nil {
		return m
	}
	copy(b, BundleTag+"\x00")
	binary.BigEndian.PutUint64(b[8:], uint64(tt))
	return m
}

// EndBundle closes the bundle opened at m. Bundles carry no length of their
// own; a bundle without content collapses back to the marker.
func (w *Writer) EndBundle(m Marker) bool {
	if w.err != nil || m < 0 {
		return false
	}
	if w.pos-int(m) <= bundleHeaderLen {
		w.pos = int(m)
	}
	return true
}

// StartItem reserves the 32-bit length prefix of a bundle element and
// returns its marker.
func (w *Writer) StartItem() Marker {
	m := w.mark()
	w.reserve(itemPrefixLen)
	return m
}

// EndItem patches the element length written since m into the reserved
// prefix. Empty elements are removed instead of being sent with length zero.
func (w *Writer) EndItem(m Marker) bool {
	if w.err != nil || m < 0 {
		return false
	}
	n := w.pos - int(m) - itemPrefixLen
	if n <= 0 {
		w.pos = int(m)
		return true
	}
	binary.BigEndian.PutUint32(w.buf[m:], uint32(n))
	return true
}

func (w *Writer) mark() Marker {
	if w.err != nil {
		return -1
	}
	return Marker(w.pos)
}
