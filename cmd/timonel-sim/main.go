// Command timonel-sim drives the bootloader's TWI command protocol
// against the in-memory simulated bus; the "device" is internal/simhw's
// fake USI peripheral and flash. It exists so the full
// upload/readback/exit protocol can be exercised and inspected from a
// terminal without any AVR hardware attached.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/nicebots/timonel-go/bootloader"
	"github.com/nicebots/timonel-go/config"
	"github.com/nicebots/timonel-go/internal/simhw"
	"github.com/nicebots/timonel-go/proto"
	"github.com/nicebots/timonel-go/twi"
)

func main() {
	appFile := flag.String("app", "", "path to a raw application binary to upload (optional)")
	verbose := flag.Bool("v", false, "print each bus transaction")
	flag.Parse()

	settings := config.DefaultSettings()
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(1)
	}

	mf := simhw.NewMockFlash(8192, settings.PageSize)
	usi := simhw.NewFakeUSI()
	lines := &simhw.FakeLines{}
	engine := twi.NewEngine(usi, lines, settings.TWIAddr, settings.RXBufferCapacity, settings.TXBufferCapacity)
	session := &proto.Session{}
	dispatcher := &proto.Dispatcher{Settings: settings, Session: session, TX: engine.TX, Flash: mf}
	engine.Dispatch = dispatcher.Handle

	platform := &simhw.FakePlatform{}
	clk := &simhw.FakeClock{}
	fz := &simhw.FakeFuse{}
	supervisor := bootloader.NewSupervisor(engine, dispatcher, session, settings, mf, platform, clk, fz)

	bus := simhw.NewBus(engine, usi, lines)
	sim := &simulator{bus: bus, supervisor: supervisor, settings: settings, verbose: *verbose}

	sim.identify()

	if *appFile != "" {
		app, err := os.ReadFile(*appFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading %s: %v\n", *appFile, err)
			os.Exit(1)
		}
		sim.upload(app)
	}

	sim.readback(0, 16)
	sim.exit()
}

type simulator struct {
	bus        *simhw.Bus
	supervisor *bootloader.Supervisor
	settings   config.Settings
	verbose    bool
}

func (s *simulator) log(format string, args ...any) {
	if s.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func (s *simulator) identify() {
	s.bus.Start()
	s.bus.Write(s.settings.TWIAddr, []byte{byte(proto.OpGetTmnlV)})
	s.bus.Start()
	_, reply, _ := s.bus.Read(s.settings.TWIAddr, 12)
	fmt.Printf("identity: %q  v%d.%d  reply=%s\n", reply[1:2], reply[2], reply[3], hex.EncodeToString(reply))
}

// upload pushes app into flash one page at a time, STPGADDR then
// MasterPacketSize-sized WRITPAGE frames per page, calling Tick after
// each page to run the deferred commit.
func (s *simulator) upload(app []byte) {
	pageSize := int(s.settings.PageSize)
	frameSize := int(s.settings.MasterPacketSize)

	for pageAddr := 0; pageAddr < len(app); pageAddr += pageSize {
		s.bus.Start()
		s.bus.Write(s.settings.TWIAddr, []byte{
			byte(proto.OpSetPageAddr), byte(pageAddr >> 8), byte(pageAddr),
		})
		s.bus.Start()
		s.bus.Read(s.settings.TWIAddr, 2)

		for off := 0; off < pageSize; off += frameSize {
			payload := make([]byte, frameSize)
			copy(payload, app[pageAddr+off:min(pageAddr+off+frameSize, len(app))])
			var sum uint8
			for _, b := range payload {
				sum += b
			}
			frame := append([]byte{byte(proto.OpWritePage)}, payload...)
			frame = append(frame, sum)

			s.bus.Start()
			s.bus.Write(s.settings.TWIAddr, frame)
			s.bus.Start()
			_, _, slowOp := s.bus.Read(s.settings.TWIAddr, 2)
			s.log("page %#04x offset %#02x committed=%v", pageAddr, off, slowOp)
			s.supervisor.Tick(false, false)
		}
	}
	fmt.Printf("uploaded %d bytes across %d pages\n", len(app), (len(app)+pageSize-1)/pageSize)
}

func (s *simulator) readback(addr uint16, length int) {
	s.bus.Start()
	s.bus.Write(s.settings.TWIAddr, []byte{
		byte(proto.OpReadFlash), byte(addr >> 8), byte(addr), byte(length),
	})
	s.bus.Start()
	_, reply, _ := s.bus.Read(s.settings.TWIAddr, 2+length)
	fmt.Printf("readback @%#04x: %s\n", addr, hex.EncodeToString(reply))
}

func (s *simulator) exit() {
	s.bus.Start()
	s.bus.Write(s.settings.TWIAddr, []byte{byte(proto.OpExitTmnl)})
	s.bus.Start()
	s.bus.Read(s.settings.TWIAddr, 1)
	s.supervisor.Tick(false, false)
	fmt.Println("exit acknowledged")
}
