//go:build tinygo

package attiny85

import "github.com/nicebots/timonel-go/fuse"

// Fuse adapts the ATtiny85's fuse-low-byte read (an SPM-mode LPM, per
// avr-libc's GET_LOW_FUSE_BITS) to fuse.Reader.
type Fuse struct{}

var _ fuse.Reader = Fuse{}

func (Fuse) LowFuse() uint8 { return spmReadLowFuse() }

// spmReadLowFuse is defined in fuse_spm.s: it arms SPMCSR for a fuse
// read (BLBSET|SELFPRGEN) and issues lpm from address 0x0000, the same
// sequence avr-libc's GET_LOW_FUSE_BITS macro expands into.
func spmReadLowFuse() uint8
