package proto

// Opcode identifies a command frame's first byte.
//
// The retrieved reference source's opcode header was not available
// among the material this repository was built from, so the byte values
// below are this repository's own assignment — a contiguous block
// starting at zero, in the same order the command table lists them.
// A host-side client must agree on these values to interoperate.
type Opcode uint8

const (
	OpGetTmnlV    Opcode = iota // identify
	OpExitTmnl                  // exit to application
	OpDelFlash                  // erase application
	OpSetPageAddr                // set page base address
	OpWritePage                  // fill page buffer
	OpReadFlash                  // read flash
	OpInitSoft                   // second init step
)

// Ack codes occupy reply byte 0, one per recognized opcode. Like the
// opcodes themselves, the exact values are this repository's own
// assignment (0x80-based, to keep them visually distinct from opcodes
// and payload bytes in a bus trace).
const (
	AckTmnlV    uint8 = 0x80 + iota
	AckExitTml
	AckDelFlash
	AckSetPage
	AckWritePage
	AckReadFlash
	AckInitSoft
)

// identityByte is the second byte of a GETTMNLV reply, a fixed marker
// identifying this as a timonel-family bootloader.
const identityByte = 'T'
