//go:build tinygo

package main

import (
	"github.com/nicebots/timonel-go/bootloader"
	"github.com/nicebots/timonel-go/config"
	"github.com/nicebots/timonel-go/platform/attiny85"
	"github.com/nicebots/timonel-go/proto"
	"github.com/nicebots/timonel-go/twi"
)

// appResetWord computes the flash word-address JumpToApplication jumps
// to: the last word of the page immediately below TimonelStart, where
// the application's trampoline lives once a page upload has committed it.
func appResetWord(settings config.Settings) uint16 {
	tplPageAddr := settings.TimonelStart - settings.PageSize
	return (tplPageAddr + settings.PageSize - 2) / 2
}

func main() {
	settings := config.DefaultSettings()
	if err := settings.Validate(); err != nil {
		// An invalid build cannot run correctly; there is no console to
		// report this to, so blink the status LED forever as a signal a
		// programmer staring at the board can at least notice.
		attiny85.InitGPIO()
		platform := attiny85.Platform{}
		for {
			platform.ToggleStatusLED()
			for i := 0; i < 20000; i++ {
			}
		}
	}

	attiny85.InitGPIO()

	usi := attiny85.USI{}
	lines := attiny85.Lines{}
	engine := twi.NewEngine(usi, lines, settings.TWIAddr, settings.RXBufferCapacity, settings.TXBufferCapacity)

	session := &proto.Session{}
	clk := attiny85.Clock{}
	fz := attiny85.Fuse{}
	fl := attiny85.Flash{}
	dispatcher := &proto.Dispatcher{
		Settings: settings,
		Session:  session,
		TX:       engine.TX,
		Flash:    fl,
		Fuse:     fz,
		Clock:    clk,
	}
	engine.Dispatch = dispatcher.Handle

	platform := attiny85.Platform{
		AppResetWord:     appResetWord(settings),
		UseWatchdogReset: settings.UseWatchdogReset,
	}
	status := attiny85.StatusRegister{}

	supervisor := bootloader.NewSupervisor(engine, dispatcher, session, settings, fl, platform, clk, fz)

	for {
		supervisor.Tick(status.StartPending(), status.OverflowPending())
	}
}
