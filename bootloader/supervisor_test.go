package bootloader

import (
	"testing"

	"github.com/nicebots/timonel-go/config"
	"github.com/nicebots/timonel-go/internal/simhw"
	"github.com/nicebots/timonel-go/proto"
	"github.com/nicebots/timonel-go/twi"
)

// countingFlash wraps a flash.Programmer and counts Erase/Write calls,
// so tests can assert those never happen from inside a command handler.
type countingFlash struct {
	*simhw.MockFlash
	writes int
	erases int
}

func (c *countingFlash) Erase(addr uint16) {
	c.erases++
	c.MockFlash.Erase(addr)
}

func (c *countingFlash) Write(addr uint16) {
	c.writes++
	c.MockFlash.Write(addr)
}

func newTestSupervisor(t *testing.T) (*Supervisor, *countingFlash, *simhw.FakePlatform) {
	t.Helper()
	settings := config.DefaultSettings()
	settings.ShortLEDDelay = 3
	settings.ShortExitDelay = 2
	settings.AutoClockTweak = false

	cf := &countingFlash{MockFlash: simhw.NewMockFlash(8192, settings.PageSize)}
	usi := simhw.NewFakeUSI()
	lines := &simhw.FakeLines{}
	engine := twi.NewEngine(usi, lines, settings.TWIAddr, settings.RXBufferCapacity, settings.TXBufferCapacity)
	session := &proto.Session{}
	disp := &proto.Dispatcher{Settings: settings, Session: session, TX: engine.TX, Flash: cf}
	engine.Dispatch = disp.Handle

	platform := &simhw.FakePlatform{}
	clk := &simhw.FakeClock{OSCCALVal: 0x50, PrescalerVal: 3}
	fz := &simhw.FakeFuse{LowFuseVal: 0x62}

	sup := NewSupervisor(engine, disp, session, settings, cf, platform, clk, fz)
	return sup, cf, platform
}

func drainTX(e *twi.Engine) {
	for {
		if _, ok := e.TX.TryPop(); !ok {
			break
		}
	}
}

// TestFullPageUpload reproduces the full-page-upload scenario: eight
// WRITPAGE frames of 8 bytes each fill a 64-byte page, the reset page's
// first word is substituted with the bootloader's own jump, and nothing
// is actually written to flash until Tick runs the deferred commit.
func TestFullPageUpload(t *testing.T) {
	sup, cf, _ := newTestSupervisor(t)
	sup.Settings.AppUseTplPage = false // bootloader itself synthesizes the trampoline page
	sup.Session.Set(proto.FlagInit1)

	sup.Dispatcher.Handle([]byte{byte(proto.OpSetPageAddr), 0, 0})
	drainTX(sup.Engine)

	for frameNum := 0; frameNum < 8; frameNum++ {
		payload := make([]byte, 8)
		for i := range payload {
			payload[i] = byte(frameNum*8 + i + 1)
		}
		var sum uint8
		for _, b := range payload {
			sum += b
		}
		frame := append([]byte{byte(proto.OpWritePage)}, payload...)
		frame = append(frame, sum)
		sup.Dispatcher.Handle(frame)
		drainTX(sup.Engine)
	}

	if sup.Session.PageIndex != 64 {
		t.Fatalf("PageIndex = %d, want 64 after 8 full-size frames", sup.Session.PageIndex)
	}
	if cf.writes != 0 || cf.erases != 0 {
		t.Fatalf("flash committed before Tick ran: writes=%d erases=%d", cf.writes, cf.erases)
	}
	if got := cf.ReadByte(0); got != 0xFF {
		t.Fatalf("flash byte 0 committed before Tick ran: %#x", got)
	}

	sup.slowOpsEnabled = true
	sup.Tick(false, false)

	if cf.writes != 2 {
		t.Fatalf("expected 2 flash writes (page + trampoline page), got %d", cf.writes)
	}
	if sup.Session.PageAddr != 64 {
		t.Fatalf("PageAddr = %#x, want 64 after commit", sup.Session.PageAddr)
	}
	if sup.Session.PageIndex != 0 {
		t.Fatalf("PageIndex = %d, want 0 after commit", sup.Session.PageIndex)
	}

	wantWord0 := uint16(0xC000) | ((sup.Settings.TimonelStart / 2) - 1)
	gotWord0 := uint16(cf.ReadByte(0)) | uint16(cf.ReadByte(1))<<8
	if gotWord0 != wantWord0 {
		t.Errorf("word 0 = %#04x, want bootloader self-jump %#04x", gotWord0, wantWord0)
	}
	if sup.Session.AppResetLSB != 1 || sup.Session.AppResetMSB != 2 {
		t.Errorf("saved app reset vector = %02x%02x, want 0201", sup.Session.AppResetMSB, sup.Session.AppResetLSB)
	}

	tplPageAddr := sup.Settings.TimonelStart - sup.Settings.PageSize
	lastWordAddr := tplPageAddr + sup.Settings.PageSize - 2
	wantTpl := proto.TrampolineWord(sup.Settings.TimonelStart, sup.Session.AppVec())
	gotTpl := uint16(cf.ReadByte(lastWordAddr)) | uint16(cf.ReadByte(lastWordAddr+1))<<8
	if gotTpl != wantTpl {
		t.Errorf("trampoline word = %#04x, want %#04x", gotTpl, wantTpl)
	}
}

// TestExitRestoresClockAndJumps reproduces the exit scenario: once
// EXITTMNL has been acknowledged, the next slow-op tick restores the
// clock tweak (if any) and jumps to the application.
func TestExitRestoresClockAndJumps(t *testing.T) {
	sup, _, platform := newTestSupervisor(t)
	sup.Settings.AutoClockTweak = true
	sup.tuneClock() // low fuse 0x62 has CKDIV8 programmed: prescaler 3 -> 0
	if got := sup.Clock.Prescaler(); got != 0 {
		t.Fatalf("prescaler after tuneClock = %d, want 0", got)
	}
	sup.Session.Set(proto.FlagInit1)
	sup.Session.Set(proto.FlagExitTml)
	sup.slowOpsEnabled = true

	sup.Tick(false, false)

	if !platform.JumpedToApplication {
		t.Fatal("expected JumpToApplication after EXITTMNL")
	}
	if !platform.Bit7R31Cleared {
		t.Error("expected ClearBit7R31 before JumpToApplication when enabled")
	}
	if got := sup.Clock.Prescaler(); got != 3 {
		t.Errorf("prescaler after exit = %d, want restored 3", got)
	}
	if got := sup.Clock.OSCCAL(); got != 0x50 {
		t.Errorf("OSCCAL after exit = %#x, want restored 0x50", got)
	}
}

// TestClearBit7R31SkippedWhenDisabled checks the hook is only invoked
// when config.Settings.ClearBit7R31 is set.
func TestClearBit7R31SkippedWhenDisabled(t *testing.T) {
	sup, _, platform := newTestSupervisor(t)
	sup.Settings.ClearBit7R31 = false
	sup.Session.Set(proto.FlagInit1)
	sup.Session.Set(proto.FlagExitTml)
	sup.slowOpsEnabled = true

	sup.Tick(false, false)

	if !platform.JumpedToApplication {
		t.Fatal("expected JumpToApplication after EXITTMNL")
	}
	if platform.Bit7R31Cleared {
		t.Error("ClearBit7R31 should not be invoked when disabled")
	}
}

// TestPageBeyondLimitLeavesPageIndexStuck reproduces the edge case where
// a full page lands at or above the committable boundary: nothing
// commits, and PageIndex is left stuck at PageSize rather than being
// silently advanced, so a subsequent WRITPAGE's CHECK_PAGE_IX overflow
// check can still catch the condition.
func TestPageBeyondLimitLeavesPageIndexStuck(t *testing.T) {
	sup, cf, _ := newTestSupervisor(t)
	sup.Session.Set(proto.FlagInit1)

	limit := sup.Settings.TimonelStart // AppUseTplPage is enabled by default
	sup.Session.PageAddr = limit
	sup.Session.PageIndex = sup.Settings.PageSize
	sup.slowOpsEnabled = true

	sup.Tick(false, false)

	if cf.writes != 0 || cf.erases != 0 {
		t.Fatalf("page at/beyond the commit limit must not be written: writes=%d erases=%d", cf.writes, cf.erases)
	}
	if sup.Session.PageAddr != limit {
		t.Errorf("PageAddr = %#x, want unchanged %#x", sup.Session.PageAddr, limit)
	}
	if sup.Session.PageIndex != sup.Settings.PageSize {
		t.Errorf("PageIndex = %d, want stuck at %d", sup.Session.PageIndex, sup.Settings.PageSize)
	}
}

// TestEraseRangeAndRestart verifies property 11: DELFLASH erases exactly
// every page below TimonelStart, never a page at or above it, and
// restarts the bootloader afterward.
func TestEraseRangeAndRestart(t *testing.T) {
	sup, cf, platform := newTestSupervisor(t)

	cf.Fill(0, 0x1234)
	cf.Write(0)
	tplPage := sup.Settings.TimonelStart - sup.Settings.PageSize
	cf.Fill(tplPage, 0x5678)
	cf.Write(tplPage)
	cf.Fill(sup.Settings.TimonelStart, 0xBEEF)
	cf.Write(sup.Settings.TimonelStart)

	sup.Session.Set(proto.FlagInit1)
	sup.Session.Set(proto.FlagDeleteFlash)
	sup.slowOpsEnabled = true
	sup.Tick(false, false)

	if got := cf.ReadByte(0); got != 0xFF {
		t.Errorf("byte 0 = %#x, want erased (0xFF)", got)
	}
	if got := cf.ReadByte(tplPage); got != 0xFF {
		t.Errorf("trampoline page byte = %#x, want erased (0xFF)", got)
	}
	if got := cf.ReadByte(sup.Settings.TimonelStart); got != 0xEF {
		t.Errorf("byte at TimonelStart was touched by erase: got %#x, want untouched 0xEF", got)
	}
	if sup.Session.Has(proto.FlagDeleteFlash) {
		t.Error("FlagDeleteFlash should be cleared after erase runs")
	}
	if !platform.Restarted {
		t.Error("expected Restart after erase")
	}
}

// TestTimeoutExitJumpsToApplication reproduces property 12: with no
// master activity and TimeoutExit enabled, the loop jumps to the
// application after ShortLEDDelay*ShortExitDelay iterations.
func TestTimeoutExitJumpsToApplication(t *testing.T) {
	sup, _, platform := newTestSupervisor(t)

	max := int(sup.Settings.ShortLEDDelay) * int(sup.Settings.ShortExitDelay) * 2
	for i := 0; i < max; i++ {
		sup.Tick(false, false)
		if platform.JumpedToApplication {
			return
		}
	}
	t.Fatalf("expected JumpToApplication within %d iterations, never happened", max)
}

// TestNoTimeoutExitWithoutFlag ensures the countdown never fires the
// jump when TimeoutExit is disabled, even after many iterations.
func TestNoTimeoutExitWithoutFlag(t *testing.T) {
	sup, _, platform := newTestSupervisor(t)
	sup.Settings.TimeoutExit = false

	for i := 0; i < 10_000; i++ {
		sup.Tick(false, false)
	}
	if platform.JumpedToApplication {
		t.Fatal("TimeoutExit disabled should never jump to the application")
	}
}
