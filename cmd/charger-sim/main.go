// Command charger-sim drives the charger coordinator against in-memory
// hardware from the keyboard. It is used to exercise attach, detection,
// enumeration and the oscillation check without a charger board.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/mattn/go-tty"

	"github.com/sweeney/usb-charger/internal/charger"
	"github.com/sweeney/usb-charger/internal/pmic"
)

const help = `keys:
  a attach      d detach      c data contact
  1 SDP  2 CDP  3 DCP (port presented on the next attach)
  h complete hardware detection
  e enumerated  s suspend     r resume
  P pre-charge  C CC          V CV          F charged
  x OVP fault   t thermal fault
  O oscillation burst
  ? status      q quit
`

// burst is how many OK interrupts the oscillation key fires after the
// regression to pre-charge.
const burst = 12

// armDelay is the pause between the regression to pre-charge being
// observed and the burst.
const armDelay = 10 * time.Millisecond

func main() {
	hw := flag.Bool("hw-detect", false, "Use hardware port detection")
	tick := flag.Duration("tick", charger.DefaultTickPeriod, "Software detection tick period")
	oscCheck := flag.Bool("osc-check", true, "Enable the oscillation check")
	flag.Parse()

	if err := run(*hw, *tick, *oscCheck); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(hw bool, tick time.Duration, oscCheck bool) error {
	t, err := tty.Open()
	if err != nil {
		return fmt.Errorf("open tty: %w", err)
	}
	defer t.Close()

	s, err := newSim(charger.Config{TickPeriod: tick, OscillationCheck: oscCheck}, hw, nil, os.Stdout)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.coord.Run(ctx)
	}()

	fmt.Fprint(os.Stdout, help)
	for {
		r, err := t.ReadRune()
		if err != nil {
			cancel()
			<-done
			return fmt.Errorf("read key: %w", err)
		}
		if !s.key(r) {
			break
		}
	}
	cancel()
	<-done
	s.printStatus()
	return nil
}

type sim struct {
	coord *charger.Coordinator
	eng   *pmic.FakeEngine
	det   *pmic.FakeDetector
	usb   *charger.FakeUSB
	hw    bool
	port  pmic.DetectionStatus
	out   io.Writer
}

// newSim builds a coordinator over fake hardware. A nil ticker uses real
// time.
func newSim(cfg charger.Config, hw bool, ticker charger.TickSource, out io.Writer) (*sim, error) {
	s := &sim{
		eng:  pmic.NewFakeEngine(),
		det:  pmic.NewFakeDetector(),
		usb:  &charger.FakeUSB{},
		hw:   hw,
		port: pmic.DetectionSDP,
		out:  out,
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(out, "", log.Ltime|log.Lmicroseconds)
	}
	deps := charger.Deps{
		Engine:   s.eng,
		Detector: s.det,
		USB:      s.usb,
		Profile:  pmic.DefaultProfile(),
		Hooks: charger.NotifyAll(func(n charger.Notification) {
			fmt.Fprintf(out, "notify: %s\n", n)
		}),
		Ticker: ticker,
	}
	if hw {
		deps.FSM = s.det
	}
	c, err := charger.New(cfg, deps)
	if err != nil {
		return nil, err
	}
	s.coord = c
	return s, nil
}

// key handles one keypress and reports whether the simulation continues.
func (s *sim) key(r rune) bool {
	switch r {
	case 'q':
		return false
	case 'a':
		s.coord.Attach()
	case 'd':
		s.det.SetContact(false)
		s.coord.Detach()
	case 'c':
		s.det.SetContact(true)
		s.coord.ChargeEvent()
	case '1':
		s.selectPort(pmic.DetectionSDP, false, pmic.SecondaryCDP)
	case '2':
		s.selectPort(pmic.DetectionCDP, true, pmic.SecondaryCDP)
	case '3':
		s.selectPort(pmic.DetectionDCP, true, pmic.SecondaryDCP)
	case 'h':
		if !s.hw || !s.det.Complete(s.port) {
			fmt.Fprintln(s.out, "hardware detection not running")
		}
	case 'e':
		s.coord.Enumerated()
	case 's':
		s.coord.Suspended()
	case 'r':
		s.coord.Resumed()
	case 'P':
		s.observe(pmic.StatePreCharge, true)
	case 'C':
		s.observe(pmic.StateCC, false)
	case 'V':
		s.observe(pmic.StateCV, false)
	case 'F':
		s.observe(pmic.StateEOC, false)
	case 'x':
		s.fault(pmic.FaultOVP)
	case 't':
		s.fault(pmic.FaultTDie)
	case 'O':
		s.oscillate()
	case '?':
		s.printStatus()
	case '\r', '\n', ' ':
	default:
		fmt.Fprint(s.out, help)
	}
	return true
}

func (s *sim) selectPort(st pmic.DetectionStatus, highCurrent bool, secondary pmic.SecondaryResult) {
	s.port = st
	s.det.SetPort(highCurrent, secondary)
	fmt.Fprintf(s.out, "next port: %s\n", portName(st))
}

func portName(st pmic.DetectionStatus) string {
	switch {
	case st&pmic.DetectionDCP != 0:
		return "DCP"
	case st&pmic.DetectionCDP != 0:
		return "CDP"
	}
	return "SDP"
}

// observe moves the engine FSM and raises its OK interrupt.
func (s *sim) observe(st pmic.MainState, vbatLow bool) bool {
	s.eng.SetObservation(st, pmic.RegionNormal, vbatLow)
	if !s.eng.FireOK() {
		fmt.Fprintln(s.out, "charger not running")
		return false
	}
	return true
}

func (s *sim) fault(f pmic.Faults) {
	s.eng.SetFaults(f)
	if !s.eng.FireError() {
		fmt.Fprintln(s.out, "charger not running")
	}
}

// oscillate reaches CC, falls back to pre-charge with VBAT low and then
// bounces between the two once the check has armed.
func (s *sim) oscillate() {
	if !s.observe(pmic.StateCC, false) {
		return
	}
	s.observe(pmic.StatePreCharge, true)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		o := s.coord.Snapshot().Observation
		if o.State == pmic.StatePreCharge && o.VBATLow {
			break
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(armDelay)
	for i := 0; i < burst; i++ {
		st := pmic.StateCC
		if i%2 == 1 {
			st = pmic.StatePreCharge
		}
		s.observe(st, st == pmic.StatePreCharge)
	}
}

func (s *sim) printStatus() {
	snap := s.coord.Snapshot()
	fmt.Fprintf(s.out, "attached=%v state=%s class=%s enumerated=%v charging=%v suspended=%v halted=%v\n",
		snap.Attached, snap.State, snap.Class, snap.Enumerated, snap.Charging, snap.Suspended, snap.Halted)
	if snap.Observed {
		o := snap.Observation
		fmt.Fprintf(s.out, "fsm=%s region=%s vbat_low=%v\n", o.State, o.Region, o.VBATLow)
	}
	cc, _ := s.eng.ConstCurrent()
	fmt.Fprintf(s.out, "cc=%dmA usb_connects=%d attaches=%d classifications=%d oscillations=%d dropped=%d/%d/%d\n",
		cc, s.usb.Calls(), snap.AttachCycles, snap.Classifications, snap.Oscillations,
		snap.DroppedCommands, snap.DroppedObservations, snap.DroppedFaults)
}
