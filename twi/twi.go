// Package twi implements an interrupt-free TWI (I²C) slave engine: a
// polled byte-level state machine reproducing a USI-style two-wire
// hardware peripheral, driven solely by the two methods OnStart and
// OnOverflow from a single-threaded supervisory loop. It never polls the
// hardware STOP flag to detect end of transaction — only state
// transitions driven by START/overflow do that.
package twi

import "github.com/nicebots/timonel-go/ring"

// StatusFlags mirrors the four condition flags a USI-style hardware
// peripheral exposes in its status register.
type StatusFlags uint8

// Condition flag bits. Collision is exposed for completeness of the
// abstraction — a real USI peripheral clears all four together — even
// though this engine never branches on it directly: the underlying
// hardware handles bus collisions by holding the line, and clock
// stretching is handled implicitly by the hardware bit counter, not by
// engine logic.
const (
	FlagStart StatusFlags = 1 << iota
	FlagOverflow
	FlagStop
	FlagCollision
)

// USI abstracts the shift-register hardware peripheral the engine drives:
// a data register, the four condition flags, a 4-bit shift counter, and
// direction control for the data line. Expressing this as a Go interface
// replaces the original driver's global hardware-register access with an
// owned context any caller can fake for tests.
type USI interface {
	// DataRegister returns the byte last shifted in (or about to be
	// shifted out).
	DataRegister() uint8

	// SetDataRegister loads the byte to shift out next.
	SetDataRegister(v uint8)

	// ClearStatusFlags clears the given condition flags.
	ClearStatusFlags(f StatusFlags)

	// SetCounter loads the 4-bit shift counter so `bits` more bits will
	// be shifted before the next overflow, and clears the overflow
	// condition — mirroring the original driver's SET_USI_TO_SHIFT_*
	// helpers, which always rewrite counter and overflow flag together.
	SetCounter(bits uint8)

	// ArmStart (re)configures start-condition detection. When
	// detectRestart is true, the overflow interrupt is also armed and
	// SCL is held low across a counter overflow, enabling RESTART
	// detection; when false, only a fresh START is armed (the overflow
	// interrupt is disabled).
	ArmStart(detectRestart bool)

	// SetSDAOutput drives (true) or floats (false) the data line.
	SetSDAOutput(output bool)
}

// Lines abstracts the two raw GPIO line levels OnStart's busy-wait polls.
type Lines interface {
	SCLHigh() bool
	SDAHigh() bool
}

type engineState uint8

const (
	stateCheckReceivedAddress engineState = iota
	stateSendDataByte
	stateReceiveAckAfterSendingData
	stateCheckReceivedAck
	stateReceiveDataByte
	statePutByteInRXBufferAndSendACK
)

// DefaultMaxFrame bounds the largest command frame Dispatch is handed,
// matching MST_PACKET_SIZE*2 at the default MST_PACKET_SIZE of 8.
const DefaultMaxFrame = 16

// Engine is the polled TWI slave state machine. It owns no goroutines; it
// is driven entirely by OnStart and OnOverflow, called from a
// single-threaded supervisory loop whenever the corresponding hardware
// condition flag is observed. An Engine is never used from more than one
// goroutine at a time.
type Engine struct {
	USI   USI
	Lines Lines
	RX    *ring.Buffer
	TX    *ring.Buffer

	// Addr is this device's own 7-bit slave address, in [8, 35].
	Addr uint8

	// MaxFrame bounds how many RX bytes are drained into a single
	// command frame handed to Dispatch. Defaults to DefaultMaxFrame if
	// left zero.
	MaxFrame int

	// Dispatch is invoked synchronously from OnOverflow when a read
	// transaction begins (address byte with the R/W bit set), with the
	// drained command frame. It must enqueue any reply bytes into TX
	// before returning, so the engine can shift them out on the bus
	// master's subsequent clocks.
	Dispatch func(frame []byte)

	state engineState
}

// NewEngine builds an Engine with freshly allocated RX/TX rings of the
// given capacities (each must be a power of two; see ring.New).
func NewEngine(usi USI, lines Lines, addr uint8, rxCapacity, txCapacity int) *Engine {
	if rxCapacity <= 0 {
		rxCapacity = ring.DefaultCapacity
	}
	if txCapacity <= 0 {
		txCapacity = ring.DefaultCapacity
	}
	return &Engine{
		USI:      usi,
		Lines:    lines,
		RX:       ring.New(rxCapacity),
		TX:       ring.New(txCapacity),
		Addr:     addr,
		MaxFrame: DefaultMaxFrame,
		state:    stateCheckReceivedAddress,
	}
}

// OnStart handles a recognized TWI START condition. Preconditions: the
// bus master has generated a START and the hardware START flag is set
// (the supervisory loop checks this before calling OnStart).
func (e *Engine) OnStart() {
	e.USI.SetSDAOutput(false) // float the data line

	// Busy-wait while the start condition is still in progress (clock
	// high, data low). Abort the wait if a STOP arises instead (data
	// goes high while clock is still high) so this can never hang.
	for e.Lines.SCLHigh() && !e.Lines.SDAHigh() {
	}

	stopDetected := e.Lines.SDAHigh()
	// If a STOP was NOT observed, this was a genuine START (or RESTART
	// mid-transaction): also arm RESTART detection. Otherwise, only a
	// fresh START needs to be armed.
	e.USI.ArmStart(!stopDetected)

	e.USI.ClearStatusFlags(FlagStart | FlagOverflow | FlagStop | FlagCollision)
	e.USI.SetCounter(8)
	e.state = stateCheckReceivedAddress
}

// OnOverflow handles a bit-counter overflow (a full byte, or ACK bit, has
// been shifted). It returns true exactly when the master's command has
// just been fully acknowledged via NACK-terminated handshake — the signal
// that it is now safe to run a long blocking flash operation without
// violating bus timing.
func (e *Engine) OnOverflow() bool {
	switch e.state {
	case stateCheckReceivedAddress:
		return e.onCheckReceivedAddress()
	case stateCheckReceivedAck:
		return e.onCheckReceivedAck()
	case stateSendDataByte:
		return e.onSendDataByte()
	case stateReceiveAckAfterSendingData:
		e.state = stateCheckReceivedAck
		e.armReceiveAck()
		return false
	case stateReceiveDataByte:
		e.state = statePutByteInRXBufferAndSendACK
		e.armReceiveByte()
		return false
	case statePutByteInRXBufferAndSendACK:
		// An RX overrun drops the incoming byte silently and ACKs
		// anyway, keeping the bus alive.
		e.RX.TryPush(e.USI.DataRegister())
		e.state = stateReceiveDataByte
		e.armSendAck()
		return false
	}
	return false
}

func (e *Engine) onCheckReceivedAddress() bool {
	data := e.USI.DataRegister()
	matches := data == 0 || (data>>1) == e.Addr
	if !matches {
		e.armWaitForAddress()
		return false
	}
	if data&0x01 != 0 {
		// Read request: drain the pending command frame and invoke the
		// dispatcher synchronously before ACKing, so any reply is
		// already queued in TX by the time the master clocks it out.
		frame := e.drainFrame()
		if e.Dispatch != nil {
			e.Dispatch(frame)
		}
		e.state = stateSendDataByte
	} else {
		e.state = stateReceiveDataByte
	}
	e.armSendAck()
	return false
}

func (e *Engine) onCheckReceivedAck() bool {
	if e.USI.DataRegister() != 0 {
		// NACK: the master doesn't want more data. Handshake complete.
		e.armWaitForAddress()
		return true
	}
	// ACK: explicit transition into SEND_DATA_BYTE. The original driver
	// expresses this as a switch fallthrough; an explicit transition is
	// clearer in Go, where fallthrough has no implicit case-to-case flow.
	e.state = stateSendDataByte
	return e.onSendDataByte()
}

func (e *Engine) onSendDataByte() bool {
	v, ok := e.TX.TryPop()
	if !ok {
		e.armReceiveAck()
		e.armWaitForAddress()
		return false
	}
	e.USI.SetDataRegister(v)
	e.state = stateReceiveAckAfterSendingData
	e.armSendByte()
	return false
}

// drainFrame pops up to MaxFrame bytes currently buffered in RX into a
// contiguous command frame, the way the dispatcher receives it.
func (e *Engine) drainFrame() []byte {
	max := e.MaxFrame
	if max <= 0 {
		max = DefaultMaxFrame
	}
	n := e.RX.Len()
	if n > max {
		n = max
	}
	frame := make([]byte, n)
	for i := range frame {
		frame[i], _ = e.RX.TryPop()
	}
	return frame
}

func (e *Engine) armWaitForAddress() {
	e.USI.ArmStart(false)
	e.USI.SetSDAOutput(false)
	e.USI.SetCounter(8)
	e.state = stateCheckReceivedAddress
}

func (e *Engine) armSendAck() {
	e.USI.SetDataRegister(0)
	e.USI.SetSDAOutput(true)
	e.USI.SetCounter(1)
}

func (e *Engine) armReceiveAck() {
	e.USI.SetDataRegister(0)
	e.USI.SetSDAOutput(false)
	e.USI.SetCounter(1)
}

func (e *Engine) armSendByte() {
	e.USI.SetSDAOutput(true)
	e.USI.SetCounter(8)
}

func (e *Engine) armReceiveByte() {
	e.USI.SetSDAOutput(false)
	e.USI.SetCounter(8)
}
