//go:build rp2040

package main

import (
	"log/slog"
	"machine"

	"chimaera/core"
	"chimaera/slip"
)

// usbLink serves the query tree over SLIP framed USB CDC, so a device with
// an unknown address can still be configured from the host tool.
type usbLink struct {
	svc *core.Service
	dec *slip.Decoder
	out []byte
	log *slog.Logger
}

func newUSBLink(svc *core.Service, log *slog.Logger) *usbLink {
	machine.Serial.Configure(machine.UARTConfig{})
	return &usbLink{
		svc: svc,
		dec: slip.NewDecoder(1024),
		out: make([]byte, 0, 2*1024+2),
		log: log,
	}
}

// poll drains the receive buffer and answers every complete frame.
func (u *usbLink) poll() {
	for machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			return
		}
		frame := u.dec.DecodeByte(b)
		if frame == nil {
			continue
		}
		reply, err := u.svc.Handle(frame)
		if err != nil {
			u.log.Debug("usb: request dropped", slog.Any("err", err))
			continue
		}
		u.out = slip.AppendEncode(u.out[:0], reply)
		if _, err := machine.Serial.Write(u.out); err != nil {
			u.log.Warn("usb: write failed", slog.Any("err", err))
		}
	}
}
