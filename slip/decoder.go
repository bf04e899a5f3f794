package slip

// Decoder is a byte-at-a-time frame decoder for stream transports such as a
// serial port. It owns a fixed frame buffer; oversized or badly escaped
// frames are dropped up to the next End.
type Decoder struct {
	buf     []byte
	n       int
	escape  bool
	discard bool

	Dropped int
}

// NewDecoder returns a Decoder accepting frames of up to size bytes.
func NewDecoder(size int) *Decoder {
	return &Decoder{buf: make([]byte, size)}
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.n = 0
	d.escape = false
	d.discard = false
}

// DecodeByte feeds one byte. It returns the completed frame when b
// terminates a valid non-empty frame, or nil. The frame is only valid until
// the next call.
func (d *Decoder) DecodeByte(b byte) []byte {
	if b == End {
		defer d.Reset()
		if d.discard || d.escape {
			d.Dropped++
			return nil
		}
		if d.n == 0 {
			return nil
		}
		return d.buf[:d.n]
	}
	if d.discard {
		return nil
	}
	if d.escape {
		d.escape = false
		switch b {
		case EscEnd:
			b = End
		case EscEsc:
			b = Esc
		default:
			d.discard = true
			return nil
		}
	} else if b == Esc {
		d.escape = true
		return nil
	}
	if d.n == len(d.buf) {
		d.discard = true
		return nil
	}
	d.buf[d.n] = b
	d.n++
	return nil
}

// Write feeds p and calls fn for each completed frame.
func (d *Decoder) Write(p []byte, fn func(frame []byte)) {
	for _, b := range p {
		if frame := d.DecodeByte(b); frame != nil {
			fn(frame)
		}
	}
}
