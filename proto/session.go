package proto

// SessionFlags is the bootloader session's bit field, set by command
// handlers and consumed by the main supervisory loop.
type SessionFlags uint8

const (
	// FlagInit1 is set once the bootloader has seen its first
	// identification command (GETTMNLV).
	FlagInit1 SessionFlags = 1 << iota

	// FlagInit2 is set by the second init step (INITSOFT), used when
	// two-step init is enabled.
	FlagInit2

	// FlagExitTml requests that the main loop jump to the application.
	FlagExitTml

	// FlagDeleteFlash requests a full application erase, also used as a
	// safety-abort signal when a page upload's checksum fails.
	FlagDeleteFlash
)

// Session holds the progress of the current programming session: the
// only state a command handler and the main loop share, besides the
// RX/TX rings themselves.
type Session struct {
	// PageAddr is the flash byte-address of the current target page
	// base. Always page-aligned.
	PageAddr uint16

	// PageIndex is the number of bytes already filled into the current
	// page's temporary buffer, in [0, pagesize].
	PageIndex uint16

	Flags SessionFlags

	// AppResetLSB/AppResetMSB save the application's original two-byte
	// reset vector the first time a WRITPAGE touches the reset page, so
	// the main loop can later synthesize the trampoline instruction.
	AppResetLSB uint8
	AppResetMSB uint8

	// ResetPageSeen is set the first time a WRITPAGE substitutes the
	// bootloader's own jump at word 0, so that substitution only ever
	// happens once per session.
	ResetPageSeen bool
}

func (s *Session) Set(f SessionFlags) { s.Flags |= f }

func (s *Session) Has(f SessionFlags) bool { return s.Flags&f != 0 }

func (s *Session) Clear(f SessionFlags) { s.Flags &^= f }

// AppVec reassembles the saved application reset vector as a 16-bit
// word.
func (s *Session) AppVec() uint16 {
	return uint16(s.AppResetMSB)<<8 | uint16(s.AppResetLSB)
}
