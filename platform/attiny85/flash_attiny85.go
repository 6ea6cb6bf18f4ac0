//go:build tinygo

package attiny85

import "github.com/nicebots/timonel-go/flash"

// Flash adapts the ATtiny85's SPM (self-programming) instruction to
// flash.Programmer. Erase, Fill and Write each require a specific,
// precisely-timed SPMCSR-then-SPM instruction sequence that the AVR
// core only honors within four clock cycles of loading SPMCSR, which Go
// cannot express directly — those three primitives are implemented in
// flash_spm.s and declared here as external functions.
type Flash struct{}

var _ flash.Programmer = Flash{}

func (Flash) Erase(addr uint16) { spmPageErase(addr) }

func (Flash) Fill(addr uint16, word uint16) { spmPageFill(addr, word) }

func (Flash) Write(pageAddr uint16) { spmPageWrite(pageAddr) }

func (Flash) ReadByte(addr uint16) byte { return lpmReadByte(addr) }

// spmPageErase, spmPageFill, spmPageWrite and lpmReadByte are defined in
// flash_spm.s: the SPM/LPM timed instruction sequences avr-libc's
// boot.h macros (boot_page_erase, boot_page_fill, boot_page_write) and
// the plain lpm instruction expand into.
func spmPageErase(addr uint16)
func spmPageFill(addr uint16, word uint16)
func spmPageWrite(pageAddr uint16)
func lpmReadByte(addr uint16) byte
