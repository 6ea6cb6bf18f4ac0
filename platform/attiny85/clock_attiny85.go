//go:build tinygo

package attiny85

import (
	"device/avr"

	"github.com/nicebots/timonel-go/clock"
)

// Clock adapts the ATtiny85's CLKPR prescaler register and OSCCAL
// oscillator-calibration register to clock.Controller.
type Clock struct{}

var _ clock.Controller = Clock{}

// clkpceBit is CLKPR's change-enable bit: writing it and the new
// prescaler value must happen within four cycles of each other, same
// timing rule as the SPM sequences in flash_spm.s, but short enough to
// express directly in Go since no interrupt source can intervene here.
const clkpceBit = 1 << 7

func (Clock) Prescaler() uint8 {
	return avr.CLKPR.Get() & 0x0F
}

func (Clock) SetPrescaler(n uint8) {
	avr.CLKPR.Set(clkpceBit)
	avr.CLKPR.Set(n & 0x0F)
}

func (Clock) OSCCAL() uint8 { return avr.OSCCAL.Get() }

func (Clock) SetOSCCAL(v uint8) { avr.OSCCAL.Set(v) }
