//go:build rp2040

package main

import (
	"context"
	"log/slog"
	"machine"
	"sync/atomic"
	"time"

	"chimaera/config"
	"chimaera/core"
	"chimaera/wiz"
)

const (
	firmwareName    = "chimaera"
	firmwareVersion = "0.1.0"

	bringupTimeout  = 2 * time.Second
	watchdogTimeout = 2000 // ms
)

// irqPending is set from the falling edge of the chip's INTn line.
var irqPending atomic.Bool

func main() {
	// Clear a watchdog left running from before the reset.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	cfg := config.Default()
	dbg := core.NewDebugHandler(slog.LevelInfo)
	log := slog.New(dbg)

	if err := config.Validate(cfg); err != nil {
		halt(log, "config", err)
	}
	if err := resetChip(pinRST); err != nil {
		halt(log, "reset", err)
	}
	port, err := openBus(cfg.SPI)
	if err != nil {
		halt(log, "spi", err)
	}
	chip := wiz.NewChip(port, cfg.Addressing(), log)

	ctx, cancel := context.WithTimeout(context.Background(), bringupTimeout)
	err = core.Bringup(ctx, chip, cfg)
	cancel()
	if err != nil {
		halt(log, "bringup", err)
	}

	info := core.Info{Name: firmwareName, Version: firmwareVersion, Chip: cfg.Chip}
	if rev, err := chip.Version(); err == nil {
		info.Revision = rev
	}
	svc := core.NewService(cfg, info,
		chip.Socket(core.SocketConfig), chip.Socket(core.SocketDebug), dbg, log)
	svc.LinkUp = chip.LinkUp
	svc.OnChange = func(c *config.Config) {
		log.Info("main: configuration changed, network settings apply after restart",
			slog.String("ip", c.Network.IP))
	}

	pinINT.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	if err := pinINT.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		irqPending.Store(true)
	}); err != nil {
		halt(log, "irq", err)
	}

	if err := svc.Start(ticks()); err != nil {
		halt(log, "start", err)
	}
	usb := newUSBLink(svc, log)

	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: watchdogTimeout}); err == nil {
		machine.Watchdog.Start()
	}

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("main: recovered", slog.Any("panic", r))
				}
			}()

			if irqPending.Swap(false) {
				if err := chip.ServiceIRQ(); err != nil {
					log.Warn("main: irq", slog.Any("err", err))
				}
			}
			if err := svc.Poll(context.Background(), ticks()); err != nil {
				log.Warn("main: poll", slog.Any("err", err))
			}
			usb.poll()
		}()

		machine.Watchdog.Update()
		time.Sleep(10 * time.Microsecond)
	}
}

// halt reports a fatal boot error on the USB console and parks the core.
// The watchdog is not running yet, so the device stays put for inspection.
func halt(log *slog.Logger, stage string, err error) {
	log.Error("main: boot failed", slog.String("stage", stage), slog.Any("err", err))
	for {
		println("chimaera:", stage, "failed:", err.Error(), "uptime_us:", uptime())
		time.Sleep(time.Second)
	}
}
