// Package slip implements RFC 1055 framing as used for OSC over TCP and
// serial links. Frames are terminated by End; End and Esc inside a frame are
// escaped.
package slip

import "errors"

// Framing bytes
const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

var (
	// ErrBufferTooSmall is returned when an encoded or decoded frame does not
	// fit the destination.
	ErrBufferTooSmall = errors.New("slip: buffer too small")

	// ErrEscape is returned for an Esc followed by anything but EscEnd or
	// EscEsc. The frame is discarded.
	ErrEscape = errors.New("slip: invalid escape sequence")
)

// EncodedLen returns the length of src once escaped and terminated.
func EncodedLen(src []byte) int {
	n := len(src) + 1
	for _, b := range src {
		if b == End || b == Esc {
			n++
		}
	}
	return n
}

// Encode escapes src into dst and appends the terminating End. dst must not
// overlap src.
func Encode(dst, src []byte) (int, error) {
	if EncodedLen(src) > len(dst) {
		return 0, ErrBufferTooSmall
	}
	n := 0
	for _, b := range src {
		switch b {
		case End:
			dst[n], dst[n+1] = Esc, EscEnd
			n += 2
		case Esc:
			dst[n], dst[n+1] = Esc, EscEsc
			n += 2
		default:
			dst[n] = b
			n++
		}
	}
	dst[n] = End
	return n + 1, nil
}

// AppendEncode appends the encoded frame of src to dst.
func AppendEncode(dst, src []byte) []byte {
	for _, b := range src {
		switch b {
		case End:
			dst = append(dst, Esc, EscEnd)
		case Esc:
			dst = append(dst, Esc, EscEsc)
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, End)
}

// Decode unescapes the body of one frame (without its End byte) into dst.
// dst may be src itself; decoding in place is safe because the output never
// outruns the input.
func Decode(dst, src []byte) (int, error) {
	n := 0
	for i := 0; i < len(src); i++ {
		b := src[i]
		if b == Esc {
			i++
			if i == len(src) {
				return 0, ErrEscape
			}
			switch src[i] {
			case EscEnd:
				b = End
			case EscEsc:
				b = Esc
			default:
				return 0, ErrEscape
			}
		}
		if n == len(dst) {
			return 0, ErrBufferTooSmall
		}
		dst[n] = b
		n++
	}
	return n, nil
}

// Split decodes every complete frame in buf in place and calls fn once per
// non-empty frame. It returns the number of bytes consumed, which ends at
// the last End seen; a trailing partial frame is left for the caller to
// carry over. Frames with a bad escape are dropped.
func Split(buf []byte, fn func(frame []byte)) int {
	start := 0
	for i := 0; i < len(buf); i++ {
		if buf[i] != End {
			continue
		}
		frame := buf[start:i]
		start = i + 1
		if len(frame) == 0 {
			continue
		}
		n, err := Decode(frame, frame)
		if err != nil || n == 0 {
			continue
		}
		fn(frame[:n])
	}
	return start
}
