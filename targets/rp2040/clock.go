//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"
)

// Timer peripheral, a free running 64-bit microsecond counter.
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08
	timerTIMERAWL = timerBase + 0x0C
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// ticks returns the low word of the microsecond counter. It wraps after
// about 71 minutes; the core timers compare with wrap-safe arithmetic.
func ticks() uint32 {
	return timerRAWL.Get()
}

// uptime reads the full counter. The high word is sampled twice to catch a
// carry out of the low word between the two reads.
func uptime() uint64 {
	for {
		hi := timerRAWH.Get()
		lo := timerRAWL.Get()
		if timerRAWH.Get() == hi {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}
