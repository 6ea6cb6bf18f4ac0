// Package proto implements the bootloader's command protocol: decoding
// command frames the TWI engine drains into the RX ring, producing
// replies, and driving the flash-programming handlers that fill and
// commit pages. Handlers run synchronously inside the TWI engine's
// OnOverflow call, so none of them may block — page erase and commit are
// deferred to the caller's main loop instead (see the bootloader
// package).
package proto

import (
	"github.com/nicebots/timonel-go/clock"
	"github.com/nicebots/timonel-go/config"
	"github.com/nicebots/timonel-go/flash"
	"github.com/nicebots/timonel-go/fuse"
	"github.com/nicebots/timonel-go/ring"
	"github.com/nicebots/timonel-go/version"
)

// LEDController is the narrow slice of bootloader.Platform the protocol
// handlers need to drive the status LED from GETTMNLV, DELFLASH and
// READFLSH. It is declared here, rather than imported from bootloader,
// so that proto (which bootloader itself imports) has no dependency on
// its caller.
type LEDController interface {
	SetStatusLED(on bool)
	ToggleStatusLED()
}

// Dispatcher decodes command frames and produces replies on TX. Assign
// its Handle method (or a closure wrapping it) to a twi.Engine's
// Dispatch field.
type Dispatcher struct {
	Settings config.Settings
	Session  *Session
	TX       *ring.Buffer
	Flash    flash.Programmer
	Fuse     fuse.Reader
	Clock    clock.Controller
	LED      LEDController
}

// Handle decodes frame and runs the matching opcode's handler. An empty
// frame or an unrecognized opcode is ignored: no reply is enqueued, and
// the bus master will time out waiting for one.
func (d *Dispatcher) Handle(frame []byte) {
	if len(frame) == 0 {
		return
	}
	switch Opcode(frame[0]) {
	case OpGetTmnlV:
		d.handleGetTmnlV()
	case OpExitTmnl:
		d.handleExitTmnl()
	case OpDelFlash:
		d.handleDelFlash()
	case OpSetPageAddr:
		d.handleSetPageAddr(frame)
	case OpWritePage:
		d.handleWritePage(frame)
	case OpReadFlash:
		d.handleReadFlash(frame)
	case OpInitSoft:
		d.handleInitSoft()
	}
}

func (d *Dispatcher) enqueue(reply []byte) {
	for _, b := range reply {
		d.TX.TryPush(b)
	}
}

func (d *Dispatcher) handleGetTmnlV() {
	d.Session.Set(FlagInit1)

	var lowFuse uint8
	if d.Fuse != nil {
		lowFuse = d.Fuse.LowFuse()
	}
	var osccal uint8
	if d.Clock != nil {
		osccal = d.Clock.OSCCAL()
	}

	// The trampoline bytes report whatever is currently resident in
	// flash, not a value computed from this session's (possibly still
	// empty) saved app vector — a host probing an already-flashed device
	// before any WRITPAGE needs to see the real trampoline.
	var tplHi, tplLo uint8
	if d.Flash != nil {
		tplHi = d.Flash.ReadByte(d.Settings.TimonelStart - 1)
		tplLo = d.Flash.ReadByte(d.Settings.TimonelStart - 2)
	}

	if d.LED != nil {
		d.LED.SetStatusLED(false)
	}

	d.enqueue([]byte{
		AckTmnlV,
		identityByte,
		version.Major,
		version.Minor,
		featureByte(d.Settings),
		extFeatureByte(d.Settings),
		byte(d.Settings.TimonelStart >> 8),
		byte(d.Settings.TimonelStart),
		tplHi,
		tplLo,
		lowFuse,
		osccal,
	})
}

func (d *Dispatcher) handleExitTmnl() {
	d.Session.Set(FlagExitTml)
	d.enqueue([]byte{AckExitTml})
}

func (d *Dispatcher) handleDelFlash() {
	d.Session.Set(FlagDeleteFlash)
	if d.LED != nil {
		d.LED.SetStatusLED(true)
	}
	d.enqueue([]byte{AckDelFlash})
}

func (d *Dispatcher) handleSetPageAddr(frame []byte) {
	if len(frame) < 3 {
		return
	}
	hi, lo := frame[1], frame[2]
	addr := uint16(hi)<<8 | uint16(lo)
	d.Session.PageAddr = addr &^ (d.Settings.PageSize - 1)
	d.Session.PageIndex = 0
	d.enqueue([]byte{AckSetPage, hi + lo})
}

func (d *Dispatcher) handleWritePage(frame []byte) {
	n := int(d.Settings.MasterPacketSize)
	if len(frame) < 1+n+1 {
		return
	}
	payload := frame[1 : 1+n]
	trailer := frame[1+n]

	var sum uint8
	for _, b := range payload {
		sum += b
	}

	for i := 0; i < n; i += 2 {
		lo := payload[i]
		var hi uint8
		if i+1 < n {
			hi = payload[i+1]
		}
		word := uint16(lo) | uint16(hi)<<8
		addr := d.Session.PageAddr + d.Session.PageIndex

		if addr == 0 && !d.Session.ResetPageSeen {
			d.Session.AppResetLSB = lo
			d.Session.AppResetMSB = hi
			word = resetJumpWord(d.Settings.TimonelStart)
			d.Session.ResetPageSeen = true
		}
		if d.Flash != nil {
			d.Flash.Fill(addr, word)
		}
		d.Session.PageIndex += 2
	}

	overflow := d.Settings.CheckPageIx && d.Session.PageIndex > d.Settings.PageSize
	if sum != trailer || overflow {
		d.Session.Set(FlagDeleteFlash)
		d.enqueue([]byte{AckWritePage, 0})
		return
	}
	d.enqueue([]byte{AckWritePage, sum})
}

func (d *Dispatcher) handleReadFlash(frame []byte) {
	if len(frame) < 4 {
		return
	}
	hi, lo, length := frame[1], frame[2], int(frame[3])
	addr := uint16(hi)<<8 | uint16(lo)

	reply := make([]byte, 0, 2+length)
	reply = append(reply, AckReadFlash)
	sum := hi + lo
	for i := 0; i < length; i++ {
		var b byte
		if d.Flash != nil {
			b = d.Flash.ReadByte(addr + uint16(i))
		}
		reply = append(reply, b)
		sum += b
	}
	reply = append(reply, sum)
	if d.LED != nil {
		d.LED.ToggleStatusLED()
	}
	d.enqueue(reply)
}

func (d *Dispatcher) handleInitSoft() {
	d.Session.Set(FlagInit2)
	d.enqueue([]byte{AckInitSoft})
}

func featureByte(s config.Settings) uint8 {
	var f uint8
	if s.AutoPageAddr {
		f |= version.FeatAutoPageAddr
	}
	if s.CmdSetPageAddr {
		f |= version.FeatSetPageAddr
	}
	if s.CmdReadFlash {
		f |= version.FeatReadFlash
	}
	if s.TwoStepInit {
		f |= version.FeatTwoStepInit
	}
	if s.AppUseTplPage {
		f |= version.FeatAppUseTplPage
	}
	if s.CheckPageIx {
		f |= version.FeatCheckPageIx
	}
	if s.TimeoutExit {
		f |= version.FeatTimeoutExit
	}
	return f
}

func extFeatureByte(s config.Settings) uint8 {
	var f uint8
	if s.ForceErasePage {
		f |= version.ExtFeatForceErasePage
	}
	if s.UseWatchdogReset {
		f |= version.ExtFeatWatchdogReset
	}
	if s.EnableLEDUI {
		f |= version.ExtFeatLEDUI
	}
	if s.AutoClockTweak {
		f |= version.ExtFeatAutoClockTweak
	}
	return f
}
