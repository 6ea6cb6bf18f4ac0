// Package config collects the bootloader's compile-time configuration
// surface into a single struct. A bootloader's configuration is fixed at
// build time by whoever links a Settings literal into main: there is no
// environment variable, CLI flag, or config file involved, and no
// go:embed override mechanism — none of that is reachable before the
// bootloader itself can talk to anything.
package config

// Settings is the full compile-time configuration of one bootloader
// build.
type Settings struct {
	// TWIAddr is this device's own 7-bit slave address, in [8, 35].
	TWIAddr uint8

	// PageSize is the flash page size in bytes, at most 64.
	PageSize uint16

	// TimonelStart is the flash byte-address of the bootloader's first
	// byte; must be a multiple of PageSize.
	TimonelStart uint16

	// ResetPage is the flash page containing the reset vector. Always 0
	// on every AVR part this bootloader targets, but kept as a field
	// rather than a bare constant so tests can assert against it by name.
	ResetPage uint16

	// MasterPacketSize is the WRITPAGE payload size in bytes; must be at
	// most half of the RX ring's capacity.
	MasterPacketSize uint8

	// SlavePacketSize is the nominal reply packet size; Validate requires
	// it to be at most half of the TX ring's capacity. The command
	// handlers do not consult it: GETTMNLV always replies with 12 bytes
	// and READFLSH with 2 plus the requested length.
	SlavePacketSize uint8

	// RXBufferCapacity and TXBufferCapacity size the two byte rings
	// between the TWI engine and the command dispatcher. Both must be
	// powers of two.
	RXBufferCapacity int
	TXBufferCapacity int

	// Feature toggles, one field per #ifdef in the original firmware.
	AutoPageAddr    bool
	CmdSetPageAddr  bool
	CmdReadFlash    bool
	TwoStepInit     bool
	AppUseTplPage   bool
	CheckPageIx     bool
	TimeoutExit     bool
	ForceErasePage  bool
	UseWatchdogReset bool
	EnableLEDUI     bool
	AutoClockTweak  bool
	ClearBit7R31    bool

	// ShortLEDDelay and ShortExitDelay govern the pre-initialization
	// timeout-to-app countdown: the LED blink period in main-loop
	// iterations, and the number of blinks before giving up and jumping
	// to the application.
	ShortLEDDelay  uint16
	ShortExitDelay uint8
}

// Validate checks the invariants these constants must hold, returning the
// first one violated. A bootloader with an invalid Settings value cannot
// run correctly, so callers are expected to check this once at
// construction — there's nowhere to report the error at runtime, same as
// the rest of the core's handlers.
func (s Settings) Validate() error {
	switch {
	case s.TWIAddr < 8 || s.TWIAddr > 35:
		return errInvalid("TWIAddr must be in [8, 35]")
	case s.PageSize == 0 || s.PageSize > 64 || s.PageSize&(s.PageSize-1) != 0:
		return errInvalid("PageSize must be a power of two no greater than 64")
	case s.TimonelStart%s.PageSize != 0:
		return errInvalid("TimonelStart must be a multiple of PageSize")
	case uint16(s.MasterPacketSize) > uint16(s.RXBufferCapacity)/2:
		return errInvalid("MasterPacketSize must be at most RXBufferCapacity/2")
	case uint16(s.SlavePacketSize) > uint16(s.TXBufferCapacity)/2:
		return errInvalid("SlavePacketSize must be at most TXBufferCapacity/2")
	case !s.AutoPageAddr && !s.CmdSetPageAddr:
		return errInvalid("if AutoPageAddr is disabled, CmdSetPageAddr must be enabled")
	}
	return nil
}

type configError string

func (e configError) Error() string { return "config: " + string(e) }

func errInvalid(msg string) error { return configError(msg) }

// DefaultSettings returns the settings the original nicebots/timonel
// firmware ships with for the ATtiny85/45/25 family: 64-byte pages, a
// 16-byte ring on each side, auto page addressing with the trampoline page
// enabled, and every optional command compiled in.
func DefaultSettings() Settings {
	return Settings{
		TWIAddr:          11,
		PageSize:         64,
		TimonelStart:     0x1A00,
		ResetPage:        0,
		MasterPacketSize: 8,
		SlavePacketSize:  8,
		RXBufferCapacity: 16,
		TXBufferCapacity: 16,
		AutoPageAddr:     true,
		CmdSetPageAddr:   true,
		CmdReadFlash:     true,
		TwoStepInit:      false,
		AppUseTplPage:    true,
		CheckPageIx:      true,
		TimeoutExit:      true,
		ForceErasePage:   false,
		UseWatchdogReset: false,
		EnableLEDUI:      true,
		AutoClockTweak:   true,
		ClearBit7R31:     true,
		ShortLEDDelay:    5000,
		ShortExitDelay:   40,
	}
}
