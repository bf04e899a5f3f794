package osc

import (
	"bytes"
	"encoding/binary"
)

// CheckPacket validates a complete message or bundle so that it can be
// decoded with the unchecked Reader afterwards.
func CheckPacket(buf []byte) bool {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return false
	}
	switch buf[0] {
	case '/':
		return CheckMessage(buf)
	case '#':
		return CheckBundle(buf)
	default:
		return false
	}
}

// CheckMessage validates path, format and argument sizes of a message. The
// arguments must use up the buffer exactly.
func CheckMessage(buf []byte) bool {
	pos, path, ok := checkString(buf, 0)
	if !ok || !ValidPath(path) {
		return false
	}
	pos, f, ok := checkString(buf, pos)
	if !ok || len(f) == 0 || f[0] != ',' || !ValidFormat(f) {
		return false
	}
	for i := 1; i < len(f); i++ {
		switch Type(f[i]) {
		case Int32, Float, Char, MIDI:
			pos += 4
		case Int64, Double, TimeTag:
			pos += 8
		case String, Symbol:
			pos, _, ok = checkString(buf, pos)
			if !ok {
				return false
			}
		case Blob:
			if pos+4 > len(buf) {
				return false
			}
			n := int(binary.BigEndian.Uint32(buf[pos:]))
			pos += 4 + (n+3)&^3
			if n < 0 || pos < 0 {
				return false
			}
		}
		if pos > len(buf) {
			return false
		}
	}
	return pos == len(buf)
}

// CheckBundle validates a bundle header and every length prefixed element,
// recursing into nested bundles.
func CheckBundle(buf []byte) bool {
	if len(buf) < bundleHeaderLen || !bytes.Equal(buf[:8], []byte(BundleTag+"\x00")) {
		return false
	}
	pos := bundleHeaderLen
	for pos < len(buf) {
		if pos+itemPrefixLen > len(buf) {
			return false
		}
		n := int(binary.BigEndian.Uint32(buf[pos:]))
		pos += itemPrefixLen
		if n <= 0 || n%4 != 0 || pos+n > len(buf) {
			return false
		}
		if !CheckPacket(buf[pos : pos+n]) {
			return false
		}
		pos += n
	}
	return true
}

// checkString finds a NUL terminated string starting at pos whose padding
// stays within buf and returns the offset behind it.
func checkString(buf []byte, pos int) (int, string, bool) {
	if pos >= len(buf) {
		return pos, "", false
	}
	n := bytes.IndexByte(buf[pos:], 0)
	if n < 0 {
		return pos, "", false
	}
	end := pos + PaddedLen(n)
	if end > len(buf) {
		return pos, "", false
	}
	return end, string(buf[pos : pos+n]), true
}

// Bundle returns the timetag of a validated bundle and a Reader over its
// elements.
func Bundle(buf []byte) (Timetag, *Reader) {
	tt := Timetag(binary.BigEndian.Uint64(buf[8:16]))
	return tt, NewReader(buf[bundleHeaderLen:])
}

// NextItem returns the next element of a bundle Reader, or nil when the
// bundle is exhausted.
func (r *Reader) NextItem() []byte {
	if r.pos+itemPrefixLen > len(r.buf) {
		return nil
	}
	n := int(r.GetInt32())
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}
