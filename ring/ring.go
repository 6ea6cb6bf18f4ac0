// Package ring provides fixed-capacity, power-of-two byte ring buffers used
// to decouple the polled TWI engine from the command dispatcher. There is no
// locking: a Buffer has exactly one producer and one consumer, and the two
// never run concurrently in the polled model this bootloader targets (see
// the bootloader package's Supervisor, which is the sole caller of both
// sides on any given buffer).
package ring

import "fmt"

// DefaultCapacity is the ring size used when none is specified, matching
// the original firmware's default TWI_RX_BUFFER_SIZE / TWI_TX_BUFFER_SIZE.
const DefaultCapacity = 16

// Buffer is a single-producer/single-consumer byte ring whose capacity is a
// power of two, so index wrap is a mask-and-and rather than a modulo.
type Buffer struct {
	data []byte
	mask uint8
	head uint8 // next write index
	tail uint8 // next read index
	used uint16 // number of bytes currently buffered (up to 256)
}

// New creates a Buffer of the given capacity, which must be a power of two
// in [1, 256]. It panics on an invalid capacity: this mirrors the original
// C driver's compile-time #error on a non-power-of-two buffer size — there
// is no preprocessor in Go, so the equivalent programmer mistake surfaces
// as a construction-time panic instead of a build failure.
func New(capacity int) *Buffer {
	if capacity <= 0 || capacity > 256 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("ring: capacity %d is not a power of two in (0, 256]", capacity))
	}
	return &Buffer{
		data: make([]byte, capacity),
		mask: uint8(capacity - 1),
	}
}

// Len reports how many bytes are currently buffered.
func (b *Buffer) Len() int {
	return int(b.used)
}

// Cap reports the buffer's capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Empty reports whether the buffer holds no bytes.
func (b *Buffer) Empty() bool {
	return b.used == 0
}

// Full reports whether the buffer has no free space.
func (b *Buffer) Full() bool {
	return int(b.used) == len(b.data)
}

// TryPush appends a byte without blocking. It reports false, and leaves the
// buffer untouched, if the buffer is full — the RX-overrun policy is to
// drop the incoming byte silently and let the caller decide whether to
// still ACK (the TWI engine does).
func (b *Buffer) TryPush(v byte) bool {
	if b.Full() {
		return false
	}
	b.data[b.head] = v
	b.head = (b.head + 1) & b.mask
	b.used++
	return true
}

// TryPop removes and returns the oldest byte. It reports false, and leaves
// the buffer untouched, if the buffer is empty.
func (b *Buffer) TryPop() (byte, bool) {
	if b.Empty() {
		return 0, false
	}
	v := b.data[b.tail]
	b.tail = (b.tail + 1) & b.mask
	b.used--
	return v, true
}

// Push blocks, spinning wait, until there is room, then pushes v. This
// mirrors the busy-wait discipline a blocking Transmit() call would use; it
// is provided for completeness and for tests that want to exercise the
// spin, but the bootloader's hot path (OnOverflow) always uses
// TryPush/TryPop since it must never block — a blocked overflow handler
// would desync the bus.
func (b *Buffer) Push(v byte) {
	for !b.TryPush(v) {
	}
}

// Pop blocks, spinning wait, until a byte is available, then pops it.
func (b *Buffer) Pop() byte {
	for {
		if v, ok := b.TryPop(); ok {
			return v
		}
	}
}

// Reset empties the buffer without changing its capacity.
func (b *Buffer) Reset() {
	b.head, b.tail, b.used = 0, 0, 0
}
