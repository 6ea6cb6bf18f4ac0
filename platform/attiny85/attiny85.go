//go:build tinygo

// Package attiny85 wires the bootloader's hardware-facing interfaces
// (twi.USI, twi.Lines, flash.Programmer, clock.Controller, fuse.Reader,
// bootloader.Platform) to the real ATtiny85 USI peripheral, SPM
// self-programming instruction, and fuse/clock registers, the way the
// original main package talks to its own peripherals through TinyGo's
// "machine" package. Everything here is tinygo-tagged: it only builds
// under the AVR target, never under the regular go toolchain.
package attiny85

import (
	"device/avr"
	"machine"
	"runtime/volatile"

	"github.com/nicebots/timonel-go/twi"
)

// USI adapts the ATtiny85's physical USI peripheral (USICR/USISR/USIDR)
// to the twi.USI interface.
type USI struct{}

var _ twi.USI = USI{}

func (USI) DataRegister() uint8 { return avr.USIDR.Get() }

func (USI) SetDataRegister(v uint8) { avr.USIDR.Set(v) }

// ClearStatusFlags clears the given condition flags in USISR by writing a
// 1 to each corresponding bit (the datasheet's own "write 1 to clear"
// convention for this register).
func (USI) ClearStatusFlags(f twi.StatusFlags) {
	var bits uint8
	if f&twi.FlagStart != 0 {
		bits |= 1 << 7 // USISIF
	}
	if f&twi.FlagOverflow != 0 {
		bits |= 1 << 6 // USIOIF
	}
	if f&twi.FlagStop != 0 {
		bits |= 1 << 5 // USIPF
	}
	if f&twi.FlagCollision != 0 {
		bits |= 1 << 4 // USIDC
	}
	avr.USISR.SetBits(bits)
}

// SetCounter loads the 4-bit shift counter (USISR bits 3:0) so `bits` more
// bits will be shifted before the next overflow, and clears the overflow
// flag in the same write (the two always go together on this part).
func (USI) SetCounter(bits uint8) {
	counter := uint8(16) - bits
	avr.USISR.Set((avr.USISR.Get() & 0xF0) | (counter & 0x0F) | (1 << 6))
}

// ArmStart configures USICR for either plain START detection or, when
// detectRestart is true, also arms the overflow interrupt and holds SCL
// low across an overflow so a RESTART mid-transaction can be caught.
func (USI) ArmStart(detectRestart bool) {
	const (
		usisie = 1 << 7
		usiwm1 = 1 << 5
		usiwm0 = 1 << 4
		usics1 = 1 << 3
		usioie = 1 << 6
	)
	ctrl := uint8(usisie | usiwm1 | usics1)
	if detectRestart {
		ctrl |= usioie | usiwm0
	}
	avr.USICR.Set(ctrl)
}

// SetSDAOutput drives (true) or floats (false) the physical DI/SDA pin by
// toggling its DDRB direction bit; the USI shift register drives the pin
// level itself once direction is set to output.
func (USI) SetSDAOutput(output bool) {
	if output {
		avr.DDRB.SetBits(1 << sdaBit)
	} else {
		avr.DDRB.ClearBits(1 << sdaBit)
	}
}

// sdaBit and sclBit are the ATtiny85 pin assignments USI hardware always
// uses: PB0 (DI/SDA) and PB2 (USCK/SCL).
const (
	sdaBit = 0
	sclBit = 2
)

// Lines adapts the raw PINB pin-level register to twi.Lines.
type Lines struct{}

var _ twi.Lines = Lines{}

func (Lines) SCLHigh() bool { return avr.PINB.Get()&(1<<sclBit) != 0 }
func (Lines) SDAHigh() bool { return avr.PINB.Get()&(1<<sdaBit) != 0 }

// StatusRegister exposes the two latched condition bits the supervisory
// loop polls each Tick, each reported only while its interrupt enable in
// USICR is set, without handing the rest of USISR to callers.
type StatusRegister struct{}

func (StatusRegister) StartPending() bool {
	return avr.USISR.Get()&(1<<7) != 0 && // USISIF
		avr.USICR.Get()&(1<<7) != 0 // USISIE
}

func (StatusRegister) OverflowPending() bool {
	return avr.USISR.Get()&(1<<6) != 0 && // USIOIF
		avr.USICR.Get()&(1<<6) != 0 // USIOIE
}

// InitGPIO configures PB0/PB2 as inputs (USI hardware drives them to
// output only transiently, per SetSDAOutput) and enables the pull-ups the
// TWI bus needs, the same setup the original firmware's usi_onInit does.
func InitGPIO() {
	avr.DDRB.ClearBits(1 << sdaBit)
	avr.PORTB.SetBits(1 << sdaBit)
	avr.DDRB.ClearBits(1 << sclBit)
	avr.PORTB.SetBits(1 << sclBit)
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
}

// led is the status LED pin, matching the original firmware's
// const-as-pin idiom (here there is exactly one UI pin, not three).
const led = machine.PB1

var ledState volatile.Register8

// Platform implements bootloader.Platform: jumping to the application,
// restarting the bootloader, and toggling the status LED.
type Platform struct {
	// AppResetWord is the word-address trampoline this Platform jumps to:
	// (TimonelStart-PageSize)/2 + (PageSize/2 - 1), i.e. the last word of
	// the trampoline page. Set once at startup from config.Settings.
	AppResetWord uint16

	// UseWatchdogReset mirrors config.Settings.UseWatchdogReset: when set,
	// Restart enables the watchdog timer and spins for it to fire instead
	// of resetting the CPU directly.
	UseWatchdogReset bool
}

// JumpToApplication transfers control to the application's trampoline.
// TinyGo has no portable "goto address" primitive, so the jump itself (an
// ijmp through Z) is the hand-written assembly routine jumpTo in
// jump_attiny85.s.
func (p Platform) JumpToApplication() {
	jumpTo(p.AppResetWord)
}

// Restart resets the CPU: through a watchdog system reset when
// UseWatchdogReset is set, through machine.CPUReset otherwise.
func (p Platform) Restart() {
	if p.UseWatchdogReset {
		enableWatchdogAndSpin()
		return
	}
	machine.CPUReset()
}

// ToggleStatusLED flips the UI LED pin.
func (p Platform) ToggleStatusLED() {
	if ledState.Get() == 0 {
		p.SetStatusLED(true)
	} else {
		p.SetStatusLED(false)
	}
}

// SetStatusLED drives the UI LED pin to an explicit state.
func (p Platform) SetStatusLED(on bool) {
	if on {
		led.High()
		ledState.Set(1)
	} else {
		led.Low()
		ledState.Set(0)
	}
}

// ClearBit7R31 clears bit 7 of r31 before a control transfer to the
// application, via clearBit7R31 (bit7r31_attiny85.s).
func (p Platform) ClearBit7R31() {
	clearBit7R31()
}

// jumpTo is provided by jump_attiny85.s: it loads w into the Z register
// pair and issues an ijmp, the Go-level equivalent of casting a function
// pointer from a flash word address and calling it.
func jumpTo(w uint16)

// clearBit7R31 is provided by bit7r31_attiny85.s.
func clearBit7R31()

// wdtChangeEnable and wdtSystemReset are the WDTCR bits needed to arm a
// system-reset watchdog at its shortest timeout (~16ms): WDE alone
// (WDP3:0 all zero already selects the shortest prescaler), reached via
// the datasheet's required WDCE-then-WDE timed sequence.
const (
	wdtChangeEnable = 1 << 4 // WDCE
	wdtSystemReset  = 1 << 3 // WDE
)

// enableWatchdogAndSpin arms the watchdog timer for a system reset at its
// shortest timeout and spins until it fires, the USE_WDT_RESET alternative
// to a direct CPU reset.
func enableWatchdogAndSpin() {
	avr.WDTCR.Set(wdtChangeEnable | wdtSystemReset)
	avr.WDTCR.Set(wdtSystemReset)
	for {
	}
}
