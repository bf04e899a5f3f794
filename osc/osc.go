// Package osc implements the Open Sound Control binary wire format used by
// every protocol client of the firmware: bounds-checked typed writers, unchecked
// readers over validated packets, nested bundles and path/format validation.
package osc

import (
	"errors"
	"time"
)

// Type is an OSC type tag as it appears in a format string.
type Type byte

// OSC type tags
const (
	Int32   Type = 'i'
	Float   Type = 'f'
	String  Type = 's'
	Blob    Type = 'b'
	True    Type = 'T'
	False   Type = 'F'
	Nil     Type = 'N'
	Bang    Type = 'I'
	Int64   Type = 'h'
	Double  Type = 'd'
	TimeTag Type = 't'
	Symbol  Type = 'S'
	Char    Type = 'c'
	MIDI    Type = 'm'
)

// Valid reports whether t is one of the fixed OSC type tags.
func (t Type) Valid() bool {
	switch t {
	case Int32, Float, String, Blob, True, False, Nil, Bang,
		Int64, Double, TimeTag, Symbol, Char, MIDI:
		return true
	default:
		return false
	}
}

// HasPayload reports whether arguments of type t occupy bytes on the wire.
// Booleans, nil and bang are carried by the type tag alone.
func (t Type) HasPayload() bool {
	switch t {
	case True, False, Nil, Bang:
		return false
	default:
		return true
	}
}

// BundleTag is the literal that opens every bundle.
const BundleTag = "#bundle"

const (
	bundleHeaderLen = 16 // "#bundle\0" + timetag
	itemPrefixLen   = 4
)

var (
	// ErrOverflow is the sticky error of a Writer that ran out of room.
	ErrOverflow = errors.New("osc: buffer overflow")

	// ErrBadArgument is reported when a variadic argument does not match its type tag.
	ErrBadArgument = errors.New("osc: argument does not match type tag")

	// ErrMalformed is returned by packet validation.
	ErrMalformed = errors.New("osc: malformed packet")
)

// PaddedLen returns the wire length of a string of n bytes: the mandatory
// terminating NUL included, rounded up to a multiple of 4.
func PaddedLen(n int) int {
	return (n + 4) &^ 3
}

// StringLen returns the padded wire length of s.
func StringLen(s string) int {
	return PaddedLen(len(s))
}

// FormatLen returns the padded wire length of a format string once prefixed
// with ','. A leading ',' already present in f is not counted twice.
func FormatLen(f string) int {
	if len(f) > 0 && f[0] == ',' {
		return PaddedLen(len(f))
	}
	return PaddedLen(len(f) + 1)
}

// ValidPath reports whether path is a legal OSC address: it starts with '/',
// contains neither space nor '#' and only printable ASCII.
func ValidPath(path string) bool {
	if len(path) == 0 || path[0] != '/' {
		return false
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c <= ' ' || c > '~' || c == '#' {
			return false
		}
	}
	return true
}

// ValidFormat reports whether every tag of f (after an optional leading ',')
// is a known OSC type.
func ValidFormat(f string) bool {
	if len(f) > 0 && f[0] == ',' {
		f = f[1:]
	}
	for i := 0; i < len(f); i++ {
		if !Type(f[i]).Valid() {
			return false
		}
	}
	return true
}

// Timetag is an NTP fixed point time stamp: seconds since 1900 in the upper
// 32 bits, fractions of a second in the lower 32 bits.
type Timetag uint64

// Immediate is the special timetag meaning "now".
const Immediate Timetag = 1

// seconds between 1900-01-01 and 1970-01-01
const ntpEpochOffset = 2208988800

// NewTimetag converts t to an OSC timetag.
func NewTimetag(t time.Time) Timetag {
	sec := uint64(t.Unix() + ntpEpochOffset)
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return Timetag(sec<<32 | frac)
}

// Seconds returns the integer seconds part.
func (tt Timetag) Seconds() uint32 { return uint32(tt >> 32) }

// Fraction returns the fractional seconds part in units of 2^-32 s.
func (tt Timetag) Fraction() uint32 { return uint32(tt) }

// Time converts tt back to wall clock time. Immediate has no meaningful
// conversion and yields the NTP epoch.
func (tt Timetag) Time() time.Time {
	sec := int64(tt.Seconds()) - ntpEpochOffset
	nsec := (uint64(tt.Fraction()) * uint64(time.Second)) >> 32
	return time.Unix(sec, int64(nsec)).UTC()
}

// MIDIMessage is the four raw bytes of an 'm' argument: port, status, data1, data2.
type MIDIMessage [4]byte
