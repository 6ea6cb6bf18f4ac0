// Package simhw provides an in-memory simulated USI peripheral, a bus
// driver that exercises the engine the way a real TWI master would, and
// an in-memory flash backing store. Every test in this repository runs
// against these fakes instead of real AVR hardware.
package simhw

import "github.com/nicebots/timonel-go/twi"

// FakeUSI is a twi.USI backed by plain fields, observable from test code.
type FakeUSI struct {
	data          uint8
	counter       uint8
	sdaOutput     bool
	detectRestart bool
	clearedFlags  twi.StatusFlags
}

func NewFakeUSI() *FakeUSI { return &FakeUSI{} }

func (f *FakeUSI) DataRegister() uint8            { return f.data }
func (f *FakeUSI) SetDataRegister(v uint8)        { f.data = v }
func (f *FakeUSI) ClearStatusFlags(fl twi.StatusFlags) { f.clearedFlags |= fl }
func (f *FakeUSI) SetCounter(bits uint8)          { f.counter = bits }
func (f *FakeUSI) ArmStart(detectRestart bool)    { f.detectRestart = detectRestart }
func (f *FakeUSI) SetSDAOutput(output bool)       { f.sdaOutput = output }

// SDADriven reports whether the engine is currently driving (as opposed
// to floating) the data line — true right after the engine arms an ACK.
func (f *FakeUSI) SDADriven() bool { return f.sdaOutput }

// FakeLines is a twi.Lines backed by plain fields a test sets directly.
type FakeLines struct {
	SCL bool
	SDA bool
}

func (l *FakeLines) SCLHigh() bool { return l.SCL }
func (l *FakeLines) SDAHigh() bool { return l.SDA }

// Bus drives an *twi.Engine through full bus transactions, playing the
// role of the TWI bus master in tests. It calls Engine.OnStart and
// Engine.OnOverflow in exactly the sequence a real master's clock pulses
// would trigger them, so it encodes the same per-byte handshake the
// engine implements rather than treating the engine as a black box.
type Bus struct {
	Engine *twi.Engine
	usi    *FakeUSI
	lines  *FakeLines
}

func NewBus(engine *twi.Engine, usi *FakeUSI, lines *FakeLines) *Bus {
	return &Bus{Engine: engine, usi: usi, lines: lines}
}

// Start drives a START condition: SDA falls while SCL is high, then SCL
// falls (start completes normally, no STOP interleaved).
func (b *Bus) Start() {
	b.lines.SCL = true
	b.lines.SDA = false
	b.lines.SCL = false
	b.Engine.OnStart()
}

// Write addresses the slave for a write and clocks out payload, one byte
// at a time. It returns whether the address byte was acknowledged and,
// for each payload byte actually sent, whether it was acknowledged. If
// the address is NACKed, payload is not sent and byteAcks is empty.
func (b *Bus) Write(addr uint8, payload []byte) (addrAcked bool, byteAcks []bool) {
	b.usi.SetDataRegister(addr << 1)
	b.Engine.OnOverflow()
	addrAcked = b.usi.SDADriven()
	if !addrAcked {
		return addrAcked, nil
	}
	b.Engine.OnOverflow() // address ack bit shifts out; arm first byte receive

	byteAcks = make([]bool, len(payload))
	for i, v := range payload {
		b.usi.SetDataRegister(v)
		b.Engine.OnOverflow() // byte shifted in, pushed to RX, ack armed
		byteAcks[i] = b.usi.SDADriven()
		b.Engine.OnOverflow() // ack bit shifts out; arm next byte receive
	}
	return addrAcked, byteAcks
}

// Read addresses the slave for a read and clocks in up to maxBytes reply
// bytes, ACKing every byte except the last (which it NACKs, ending the
// transaction). It returns whether the address was acknowledged, the
// bytes actually returned, and the slow-op signal OnOverflow raised when
// the final NACK was processed.
func (b *Bus) Read(addr uint8, maxBytes int) (addrAcked bool, reply []byte, slowOp bool) {
	b.usi.SetDataRegister(addr<<1 | 0x01)
	b.Engine.OnOverflow() // address check; dispatch runs here if R bit set
	addrAcked = b.usi.SDADriven()
	if !addrAcked {
		return addrAcked, nil, false
	}
	b.Engine.OnOverflow() // address ack bit shifts out; first reply byte loaded

	for i := 0; i < maxBytes; i++ {
		reply = append(reply, b.usi.DataRegister())
		b.Engine.OnOverflow() // reply byte shifts out; arm ack receive

		last := i == maxBytes-1
		if last {
			b.usi.SetDataRegister(0x01) // master NACKs
		} else {
			b.usi.SetDataRegister(0x00) // master ACKs, wants more
		}
		so := b.Engine.OnOverflow()
		if last {
			slowOp = so
		}
	}
	return addrAcked, reply, slowOp
}

// MockFlash is an in-memory flash.Programmer backing store: a byte slice
// pre-filled with 0xFF (the erased state) plus a pending per-page write
// buffer that Write commits and Erase discards.
type MockFlash struct {
	PageSize uint16
	mem      []byte
	pending  map[uint16]byte
}

// NewMockFlash allocates a simulated flash of size bytes, organized into
// pages of pageSize bytes.
func NewMockFlash(size int, pageSize uint16) *MockFlash {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &MockFlash{PageSize: pageSize, mem: mem, pending: make(map[uint16]byte)}
}

func (m *MockFlash) pageBase(addr uint16) uint16 {
	return addr - addr%m.PageSize
}

func (m *MockFlash) Erase(addr uint16) {
	base := m.pageBase(addr)
	for i := uint16(0); i < m.PageSize; i++ {
		m.mem[base+i] = 0xFF
	}
	m.pending = make(map[uint16]byte)
}

func (m *MockFlash) Fill(addr uint16, word uint16) {
	m.pending[addr] = byte(word)
	m.pending[addr+1] = byte(word >> 8)
}

func (m *MockFlash) Write(pageAddr uint16) {
	base := m.pageBase(pageAddr)
	for i := uint16(0); i < m.PageSize; i++ {
		if v, ok := m.pending[base+i]; ok {
			m.mem[base+i] = v
		}
	}
	m.pending = make(map[uint16]byte)
}

func (m *MockFlash) ReadByte(addr uint16) byte {
	return m.mem[addr]
}

// Bytes exposes the full committed backing store, for test assertions.
func (m *MockFlash) Bytes() []byte { return m.mem }

// FakeClock is a clock.Controller backed by plain fields.
type FakeClock struct {
	PrescalerVal uint8
	OSCCALVal    uint8
}

func (c *FakeClock) Prescaler() uint8       { return c.PrescalerVal }
func (c *FakeClock) SetPrescaler(n uint8)   { c.PrescalerVal = n }
func (c *FakeClock) OSCCAL() uint8          { return c.OSCCALVal }
func (c *FakeClock) SetOSCCAL(v uint8)      { c.OSCCALVal = v }

// FakeFuse is a fuse.Reader backed by a plain field.
type FakeFuse struct {
	LowFuseVal uint8
}

func (f *FakeFuse) LowFuse() uint8 { return f.LowFuseVal }

// FakePlatform is a bootloader.Platform recording every call it
// receives, for test assertions.
type FakePlatform struct {
	JumpedToApplication bool
	Restarted           bool
	LEDToggleCount      int
	LEDState            bool
	LEDSetCount         int
	Bit7R31Cleared      bool
}

func (p *FakePlatform) JumpToApplication() { p.JumpedToApplication = true }
func (p *FakePlatform) Restart()           { p.Restarted = true }
func (p *FakePlatform) ToggleStatusLED()   { p.LEDToggleCount++ }

func (p *FakePlatform) SetStatusLED(on bool) {
	p.LEDState = on
	p.LEDSetCount++
}

func (p *FakePlatform) ClearBit7R31() { p.Bit7R31Cleared = true }
