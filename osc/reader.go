package osc

import (
	"encoding/binary"
	"math"
)

// Reader walks the arguments of a packet that already passed CheckPacket.
// Reads are not bounds checked beyond what the Go runtime enforces; callers
// validate first, decode second.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the read offset.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the unread bytes.
func (r *Reader) Remaining() []byte { return r.buf[r.pos:] }

// Skip advances past n bytes.
func (r *Reader) Skip(n int) { r.pos += n }

func (r *Reader) next(n int) []byte {
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// GetInt32 reads a big-endian 32-bit integer.
func (r *Reader) GetInt32() int32 {
	return int32(binary.BigEndian.Uint32(r.next(4)))
}

// GetFloat reads an IEEE 754 single.
func (r *Reader) GetFloat() float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(r.next(4)))
}

// GetInt64 reads a big-endian 64-bit integer.
func (r *Reader) GetInt64() int64 {
	return int64(binary.BigEndian.Uint64(r.next(8)))
}

// GetDouble reads an IEEE 754 double.
func (r *Reader) GetDouble() float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(r.next(8)))
}

// GetTimetag reads a 32.32 fixed point timetag.
func (r *Reader) GetTimetag() Timetag {
	return Timetag(binary.BigEndian.Uint64(r.next(8)))
}

// GetString reads a NUL terminated, padded string.
func (r *Reader) GetString() string {
	rest := r.buf[r.pos:]
	n := 0
	for n < len(rest) && rest[n] != 0 {
		n++
	}
	s := string(rest[:n])
	r.pos += PaddedLen(n)
	return s
}

// GetSymbol reads an 'S' argument.
func (r *Reader) GetSymbol() string { return r.GetString() }

// GetChar reads a character stored as a 32-bit integer.
func (r *Reader) GetChar() byte { return byte(r.GetInt32()) }

// GetMIDI reads four raw MIDI bytes.
func (r *Reader) GetMIDI() MIDIMessage {
	var m MIDIMessage
	copy(m[:], r.next(4))
	return m
}

// GetBlob reads a size prefixed blob. The returned slice aliases the packet.
func (r *Reader) GetBlob() []byte {
	n := int(binary.BigEndian.Uint32(r.next(4)))
	b := r.buf[r.pos : r.pos+n]
	r.pos += (n + 3) &^ 3
	return b
}

// GetPath reads the message address.
func (r *Reader) GetPath() string { return r.GetString() }

// GetFormat reads the type tag string including its leading ','.
func (r *Reader) GetFormat() string { return r.GetString() }

// GetValue reads one argument of type t and returns it as a Go value:
// int32, float32, string, []byte, int64, float64, Timetag, byte, MIDIMessage,
// bool for 'T'/'F' and nil for 'N'/'I'.
func (r *Reader) GetValue(t Type) any {
	switch t {
	case Int32:
		return r.GetInt32()
	case Float:
		return r.GetFloat()
	case String, Symbol:
		return r.GetString()
	case Blob:
		return r.GetBlob()
	case Int64:
		return r.GetInt64()
	case Double:
		return r.GetDouble()
	case TimeTag:
		return r.GetTimetag()
	case Char:
		return r.GetChar()
	case MIDI:
		return r.GetMIDI()
	case True:
		return true
	case False:
		return false
	default:
		return nil
	}
}

// SkipValue advances past one argument of type t without decoding it.
func (r *Reader) SkipValue(t Type) {
	switch t {
	case Int32, Float, Char, MIDI:
		r.pos += 4
	case Int64, Double, TimeTag:
		r.pos += 8
	case String, Symbol:
		r.GetString()
	case Blob:
		r.GetBlob()
	}
}
