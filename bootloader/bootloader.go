// Package bootloader implements the main supervisory loop: polling the
// TWI engine, running deferred flash operations once the bus handshake
// permits it, and driving the pre-initialization exit countdown. It
// composes a twi.Engine and a proto.Dispatcher the way production
// firmware wires them together, and is itself the thing platform/attiny85
// and cmd/timonel-sim both build on.
package bootloader

import (
	"github.com/nicebots/timonel-go/clock"
	"github.com/nicebots/timonel-go/config"
	"github.com/nicebots/timonel-go/flash"
	"github.com/nicebots/timonel-go/fuse"
	"github.com/nicebots/timonel-go/proto"
	"github.com/nicebots/timonel-go/twi"
)

// Platform is the one place platform-specific control-transfer and UI
// hooks live: jumping to the application, restarting the bootloader, and
// toggling the status LED. This stands in for the original firmware's
// function-pointer trampoline (casting a word address to a function
// pointer and calling it), which this language does not allow.
type Platform interface {
	// JumpToApplication transfers control to the application's trampoline
	// at word-address (TimonelStart-2)/2. Never returns.
	JumpToApplication()

	// Restart resets the bootloader itself (watchdog or direct jump to
	// the bootloader's own entry, per config.Settings.UseWatchdogReset).
	// Never returns.
	Restart()

	// ToggleStatusLED flips the UI LED, when config.Settings.EnableLEDUI
	// is set. A no-op Platform may ignore this.
	ToggleStatusLED()

	// SetStatusLED drives the UI LED to an explicit on/off state, used at
	// the call sites that clear or set the LED rather than toggling it.
	SetStatusLED(on bool)

	// ClearBit7R31 clears bit 7 of CPU register r31 before control
	// transfers to the application, per config.Settings.ClearBit7R31. A
	// host Platform with no such register may ignore this.
	ClearBit7R31()
}

// Supervisor is the main loop. One iteration is one call to Tick; a
// production main() calls Tick in an infinite loop, passing in whatever
// the platform's status register currently reports. A Supervisor is
// never used from more than one goroutine.
type Supervisor struct {
	Engine     *twi.Engine
	Dispatcher *proto.Dispatcher
	Session    *proto.Session
	Settings   config.Settings
	Flash      flash.Programmer
	Platform   Platform
	Clock      clock.Controller
	Fuse       fuse.Reader

	slowOpsEnabled bool
	ledDelay       uint16
	exitDelay      uint8

	clockTweaked      bool
	savedOSCCAL       uint8
	savedPrescaler    uint8
	prescalerTweaked  bool
}

// clockSpeedupTrim nudges the internal RC oscillator calibration up when
// it is the active clock source, matching the original firmware's
// AUTO_CLK_TWEAK behavior of trading some frequency accuracy for tighter
// TWI bit timing while the bootloader is in control.
const clockSpeedupTrim = 2

// NewSupervisor wires engine, dispatcher, session and settings together
// and applies the one-time clock tweak (if enabled) before the main loop
// starts polling.
func NewSupervisor(engine *twi.Engine, dispatcher *proto.Dispatcher, session *proto.Session, settings config.Settings, flashProg flash.Programmer, platform Platform, clk clock.Controller, fuseReader fuse.Reader) *Supervisor {
	s := &Supervisor{
		Engine:     engine,
		Dispatcher: dispatcher,
		Session:    session,
		Settings:   settings,
		Flash:      flashProg,
		Platform:   platform,
		Clock:      clk,
		Fuse:       fuseReader,
		ledDelay:   settings.ShortLEDDelay,
		exitDelay:  settings.ShortExitDelay,
	}
	dispatcher.LED = platform
	s.tuneClock()
	return s
}

// Tick runs one main-loop iteration. startPending and overflowPending
// report whether the hardware START/overflow conditions are currently
// latched and their respective interrupt enables are set — reading the
// actual status register is the caller's (platform/attiny85's) job.
func (s *Supervisor) Tick(startPending, overflowPending bool) {
	if startPending {
		s.Engine.OnStart()
	}
	if overflowPending {
		if s.Engine.OnOverflow() {
			s.slowOpsEnabled = true
		}
	}

	if s.initialized() {
		if s.slowOpsEnabled {
			s.slowOpsEnabled = false
			s.runSlowOp()
		}
		return
	}
	s.tickPreInit()
}

func (s *Supervisor) initialized() bool {
	if !s.Session.Has(proto.FlagInit1) {
		return false
	}
	if s.Settings.TwoStepInit && !s.Session.Has(proto.FlagInit2) {
		return false
	}
	return true
}

func (s *Supervisor) tickPreInit() {
	s.ledDelay--
	if s.ledDelay != 0 {
		return
	}
	s.ledDelay = s.Settings.ShortLEDDelay
	s.Platform.ToggleStatusLED()

	if !s.Settings.TimeoutExit {
		return
	}
	s.exitDelay--
	if s.exitDelay == 0 {
		if s.Settings.ClearBit7R31 {
			s.Platform.ClearBit7R31()
		}
		s.Platform.JumpToApplication()
	}
}

// runSlowOp executes at most one deferred long-running operation per
// call, in priority order: an explicit exit request, then a pending
// erase, then (if neither) a completed page ready to commit. None of
// this runs from inside OnOverflow — slowOpsEnabled only becomes
// actionable once Tick observes it after OnOverflow has returned.
func (s *Supervisor) runSlowOp() {
	switch {
	case s.Session.Has(proto.FlagExitTml):
		s.doExit()
	case s.Session.Has(proto.FlagDeleteFlash):
		s.doErase()
	default:
		s.maybeCommitPage()
	}
}

func (s *Supervisor) doExit() {
	s.restoreClock()
	if s.Settings.ClearBit7R31 {
		s.Platform.ClearBit7R31()
	}
	s.Platform.JumpToApplication()
}

// doErase erases every application page, from the one just below
// TimonelStart down to page 0, then restarts the bootloader so the next
// upload starts clean.
func (s *Supervisor) doErase() {
	addr := s.Settings.TimonelStart - s.Settings.PageSize
	for {
		s.Flash.Erase(addr)
		if addr == 0 {
			break
		}
		addr -= s.Settings.PageSize
	}
	s.Session.Clear(proto.FlagDeleteFlash)
	s.Session.PageAddr = 0
	s.Session.PageIndex = 0
	s.Platform.Restart()
}

// maybeCommitPage writes the just-filled page to flash once WRITPAGE has
// filled exactly pagesize bytes into it, and — for the reset page —
// synthesizes the application's trampoline at the top of the trampoline
// page.
func (s *Supervisor) maybeCommitPage() {
	if s.Session.PageIndex != s.Settings.PageSize {
		return
	}

	limit := s.Settings.TimonelStart
	if !s.Settings.AppUseTplPage {
		limit -= s.Settings.PageSize
	}
	if s.Session.PageAddr >= limit {
		return
	}

	if s.Settings.ForceErasePage {
		s.Flash.Erase(s.Session.PageAddr)
	}
	s.Flash.Write(s.Session.PageAddr)
	s.Platform.ToggleStatusLED()

	if s.Session.PageAddr == s.Settings.ResetPage && s.Settings.AutoPageAddr {
		s.commitTrampoline()
	}

	s.Session.PageAddr += s.Settings.PageSize
	s.Session.PageIndex = 0
}

func (s *Supervisor) commitTrampoline() {
	tplPageAddr := s.Settings.TimonelStart - s.Settings.PageSize
	lastWordAddr := tplPageAddr + s.Settings.PageSize - 2
	tpl := proto.TrampolineWord(s.Settings.TimonelStart, s.Session.AppVec())

	if s.Settings.AppUseTplPage {
		got := flash.ReadWord(s.Flash, lastWordAddr)
		if got != tpl {
			s.Session.Set(proto.FlagDeleteFlash)
		}
		return
	}
	s.Flash.Fill(lastWordAddr, tpl)
	s.Flash.Write(tplPageAddr)
}

func (s *Supervisor) tuneClock() {
	if !s.Settings.AutoClockTweak || s.Fuse == nil || s.Clock == nil {
		return
	}
	lf := s.Fuse.LowFuse()
	s.savedOSCCAL = s.Clock.OSCCAL()
	s.savedPrescaler = s.Clock.Prescaler()

	if lf&fuse.ClockSourceMask == fuse.ClockSourceRCOsc {
		s.Clock.SetOSCCAL(s.savedOSCCAL + clockSpeedupTrim)
	}
	if lf&(1<<fuse.PrescalerBit) == 0 {
		s.prescalerTweaked = true
		s.Clock.SetPrescaler(0)
	}
	s.clockTweaked = true
}

func (s *Supervisor) restoreClock() {
	if !s.clockTweaked {
		return
	}
	s.Clock.SetOSCCAL(s.savedOSCCAL)
	if s.prescalerTweaked {
		s.Clock.SetPrescaler(s.savedPrescaler)
	}
	s.clockTweaked = false
}
