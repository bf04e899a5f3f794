//go:build rp2040

package main

import (
	"machine"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// The reset pulse is timed by a state machine clocked at 1 MHz: the pulse
// length is pulled from the TX FIFO in units of 32 µs, the pin is driven low
// for that long and released. The program then stalls on the next pull.
func buildResetProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                     // 0: pull block
		asm.Out(rp2pio.OutDestX, 32).Encode(),              // 1: out x, 32
		asm.Set(rp2pio.SetDestPins, 0).Encode(),            // 2: set pins, 0
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Delay(31).Encode(), // 3: jmp x--, 3 [31]
		asm.Set(rp2pio.SetDestPins, 1).Encode(),            // 4: set pins, 1
		// .wrap
	}
}

const (
	resetOrigin = 0   // jump targets are absolute
	resetClkDiv = 125 // 125 MHz system clock

	// W5500 needs 500 µs low, W5200 2 µs. Both want the PLL settled before
	// the first SPI access; the W5200 takes up to 150 ms.
	resetPulse  = time.Millisecond
	resetSettle = 150 * time.Millisecond
)

// resetChip pulses the active low reset line of the chip and waits until it
// accepts SPI accesses.
func resetChip(pin machine.Pin) error {
	hw := rp2pio.PIO1
	sm := hw.StateMachine(0)
	sm.TryClaim()

	program := buildResetProgram()
	offset, err := hw.AddProgram(program, resetOrigin)
	if err != nil {
		return err
	}

	pin.Configure(machine.PinConfig{Mode: hw.PinMode()})
	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(pin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(resetClkDiv, 0)
	sm.Init(offset, cfg)
	sm.SetPindirsConsecutive(pin, 1, true)
	sm.SetPinsConsecutive(pin, 1, true)
	sm.SetEnabled(true)

	for sm.IsTxFIFOFull() {
	}
	sm.TxPut(uint32(resetPulse / (32 * time.Microsecond)))
	time.Sleep(resetPulse + resetSettle)
	return nil
}
