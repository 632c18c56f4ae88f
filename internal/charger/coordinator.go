package charger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/usb-charger/internal/mathx"
	"github.com/sweeney/usb-charger/internal/pmic"
)

type msgKind uint8

const (
	msgAttach msgKind = iota
	msgContact
	msgDetected
	msgEnumerated
	msgSuspended
	msgResumed
)

// coordMsg is posted by a relay to the coordinator loop. gen is the
// detach generation at post time; messages from before the last detach
// are dropped.
type coordMsg struct {
	kind    msgKind
	gen     uint64
	contact bool
	status  pmic.DetectionStatus
}

// session is the state of one attach cycle. It exists from attach to detach.
type session struct {
	state      DetectState
	ticks      int // since attach
	phaseTicks int // since entering state
	dcdOK      bool
	dcdAt      int

	class      PortClass
	programmed bool
	enumerated bool
	charging   bool
	suspended  bool
	halted     bool
}

type faultHook struct {
	bit pmic.Faults
	fn  func()
}

// Coordinator runs port detection and charging control for one USB port.
type Coordinator struct {
	cfg       Config
	log       *log.Logger
	eng       pmic.Engine
	det       pmic.PortDetector
	usb       USB
	profile   *pmic.Profile
	hooks     Hooks
	faults    []faultHook
	strategy  detection
	sup       *Supervisor
	ticker    TickSource
	afterFunc func(time.Duration, func()) func() bool

	msgs     chan coordMsg
	detachCh chan struct{}
	oscStop  chan struct{}
	okq      chan okMsg
	errq     chan pmic.Faults
	oscReset chan struct{}

	gen     atomic.Uint64
	running atomic.Bool

	osc oscillationNet

	// Owned by the coordinator loop.
	sess    *session
	loopGen uint64

	mu   sync.Mutex
	snap Snapshot

	droppedCmds   atomic.Uint64
	droppedObs    atomic.Uint64
	droppedFaults atomic.Uint64
	relayErrs     atomic.Uint64
}

// New validates the profile and builds a Coordinator. Hardware port
// detection is used when deps.FSM is set.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Engine == nil {
		return nil, errors.New("charger: nil engine")
	}
	if deps.Detector == nil {
		return nil, errors.New("charger: nil port detector")
	}
	if err := deps.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("charger: %w", err)
	}
	cfg = cfg.withDefaults()

	c := &Coordinator{
		cfg:      cfg,
		log:      cfg.Logger,
		eng:      deps.Engine,
		det:      deps.Detector,
		usb:      deps.USB,
		profile:  deps.Profile,
		hooks:    deps.Hooks.withDefaults(),
		ticker:   deps.Ticker,
		msgs:     make(chan coordMsg, cfg.QueueSize),
		detachCh: make(chan struct{}, 1),
		oscStop:  make(chan struct{}, 1),
		okq:      make(chan okMsg, cfg.QueueSize),
		errq:     make(chan pmic.Faults, cfg.QueueSize),
		oscReset: make(chan struct{}, 1),
	}
	c.faults = []faultHook{
		{pmic.FaultTBat, c.hooks.TBatError},
		{pmic.FaultTDie, c.hooks.TDieError},
		{pmic.FaultOVP, c.hooks.OVPError},
		{pmic.FaultTotalTimeout, c.hooks.TotalTimeout},
		{pmic.FaultCVTimeout, c.hooks.CVTimeout},
		{pmic.FaultCCTimeout, c.hooks.CCTimeout},
		{pmic.FaultPrechargeTimeout, c.hooks.PrechargeTimeout},
	}
	if c.ticker == nil {
		c.ticker = newRealTicker()
	}
	c.afterFunc = deps.AfterFunc
	if c.afterFunc == nil {
		c.afterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	if deps.FSM != nil {
		c.strategy = &hwDetection{fsm: deps.FSM, onEvent: c.DetectionInterrupt}
	} else {
		c.strategy = &swDetection{det: deps.Detector, cfg: &c.cfg}
	}
	c.sup = NewSupervisor(deps.Engine, deps.Profile, c.OKInterrupt, c.ErrorInterrupt, c.log)
	c.osc.notify.Store(true)
	return c, nil
}

// Supervisor returns the charging supervisor driven by the coordinator.
func (c *Coordinator) Supervisor() *Supervisor { return c.sup }

// Run processes notifications until ctx is done, then tears the hardware
// down. It starts the state-transition and error consumers alongside the
// coordinator loop.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.log.Printf("charger: coordinator started (%s detection, oscillation check %v)", c.strategy.name(), c.cfg.OscillationCheck)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.runStateConsumer(ctx)
	}()
	go func() {
		defer wg.Done()
		c.runErrorConsumer(ctx)
	}()

	c.loop(ctx)

	if c.sess != nil {
		c.teardown()
	} else if err := c.sup.Stop(); err != nil {
		c.log.Printf("charger: %v", err)
	}
	c.publish()
	cancel()
	wg.Wait()
	c.log.Printf("charger: coordinator stopped")
	return nil
}

func (c *Coordinator) loop(ctx context.Context) {
	for {
		if c.pollDetach() {
			c.publish()
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-c.detachCh:
			c.handleDetach()
		case <-c.oscStop:
			c.handleOscillation()
		case m := <-c.msgs:
			c.pollDetach()
			c.handle(m)
		case <-c.ticker.C():
			c.pollDetach()
			c.handleTick()
		}
		c.publish()
	}
}

// pollDetach handles a pending detach ahead of anything else.
func (c *Coordinator) pollDetach() bool {
	select {
	case <-c.detachCh:
		c.handleDetach()
		return true
	default:
		return false
	}
}

func (c *Coordinator) handle(m coordMsg) {
	if m.gen < c.loopGen {
		return
	}
	switch m.kind {
	case msgAttach:
		c.handleAttach()
	case msgContact:
		c.handleDetect(detectEvent{kind: evContact, contact: m.contact})
	case msgDetected:
		c.handleDetect(detectEvent{kind: evCompleted, status: m.status})
	case msgEnumerated:
		c.handleEnumerated()
	case msgSuspended:
		c.handleSuspended()
	case msgResumed:
		c.handleResumed()
	}
}

func (c *Coordinator) handleAttach() {
	if c.sess != nil {
		c.log.Printf("charger: attach during active session, restarting detection")
		c.teardown()
	}
	c.sess = &session{}
	c.mu.Lock()
	c.snap.AttachCycles++
	c.mu.Unlock()

	if err := c.strategy.start(c.sess); err != nil {
		c.abortDetection(err)
		return
	}
	if c.strategy.ticking() {
		c.ticker.Reset(c.cfg.TickPeriod)
	}
	c.log.Printf("charger: attached, %s port detection started", c.strategy.name())
}

func (c *Coordinator) handleDetach() {
	c.loopGen = c.gen.Load()
	if c.sess == nil {
		if err := c.sup.Stop(); err != nil {
			c.log.Printf("charger: %v", err)
		}
		c.resetOscillation()
		return
	}
	c.log.Printf("charger: detached in state %v", c.sess.state)
	c.teardown()
}

func (c *Coordinator) handleTick() {
	c.handleDetect(detectEvent{kind: evTick})
}

func (c *Coordinator) handleDetect(ev detectEvent) {
	s := c.sess
	if s == nil || s.state == StateIdle {
		return
	}
	class, done, err := c.strategy.step(s, ev)
	if err != nil {
		c.abortDetection(err)
		return
	}
	if done {
		c.ticker.Stop()
		c.classified(class)
	}
}

// abortDetection ends detection for the session without charging.
func (c *Coordinator) abortDetection(err error) {
	c.log.Printf("charger: port detection failed: %v", err)
	c.ticker.Stop()
	if serr := c.strategy.stop(); serr != nil {
		c.log.Printf("charger: stop detection: %v", serr)
	}
	c.sess.state = StateIdle
}

func (c *Coordinator) classified(class PortClass) {
	s := c.sess
	s.class = class
	s.state = StateIdle
	c.mu.Lock()
	c.snap.Classifications++
	c.mu.Unlock()
	c.log.Printf("charger: port classified as %v", class)

	var err error
	switch class {
	case ClassDCP:
		if derr := c.det.SetDPHigh(); derr != nil {
			c.log.Printf("charger: set D+ high: %v", derr)
		}
		err = c.program()
	case ClassCDP:
		c.finalizeAttach()
		err = c.program()
	case ClassSDP:
		err = c.program()
		if err == nil {
			c.clampSDP()
		}
		c.finalizeAttach()
	}
	if err != nil {
		c.log.Printf("charger: not starting charger: %v", err)
		return
	}
	if s.suspended {
		c.log.Printf("charger: bus suspended, charger start deferred to resume")
		return
	}
	c.startCharging()
}

func (c *Coordinator) program() error {
	if err := c.sup.Program(); err != nil {
		return err
	}
	c.sess.programmed = true
	return nil
}

// clampSDP keeps a standard downstream port within the unconfigured
// current budget until enumeration completes.
func (c *Coordinator) clampSDP() {
	cc, err := c.sup.ConstCurrent()
	if err != nil {
		c.log.Printf("charger: read current level: %v", err)
		return
	}
	if cc < c.cfg.SDPClampThreshold {
		return
	}
	limit := mathx.Min(cc, c.cfg.SDPCurrentLimit)
	if err := c.sup.ApplyCurrentLimit(limit); err != nil {
		c.log.Printf("charger: clamp SDP current: %v", err)
		return
	}
	c.log.Printf("charger: SDP current clamped %d -> %d mA until enumeration", cc, limit)
}

func (c *Coordinator) finalizeAttach() {
	if c.usb == nil {
		return
	}
	if err := c.usb.FinalizeAttach(); err != nil {
		c.log.Printf("charger: finalize attach: %v", err)
	}
}

func (c *Coordinator) startCharging() {
	s := c.sess
	if err := c.sup.Start(); err != nil {
		c.log.Printf("charger: %v", err)
		return
	}
	s.charging = true
	if s.enumerated {
		c.applyEnumeratedLimit()
	}
}

func (c *Coordinator) applyEnumeratedLimit() {
	if err := c.sup.ApplyCurrentLimit(c.profile.CC); err != nil {
		c.log.Printf("charger: %v", err)
		return
	}
	c.log.Printf("charger: enumerated, current limit %d mA", c.profile.CC)
}

func (c *Coordinator) handleEnumerated() {
	s := c.sess
	if s == nil || s.enumerated {
		return
	}
	s.enumerated = true
	if !s.programmed {
		c.log.Printf("charger: enumerated before programming, current limit deferred")
		return
	}
	c.applyEnumeratedLimit()
}

func (c *Coordinator) handleSuspended() {
	s := c.sess
	if s == nil || s.suspended {
		return
	}
	s.suspended = true
	if s.charging {
		if err := c.sup.Stop(); err != nil {
			c.log.Printf("charger: %v", err)
		}
		s.charging = false
	}
	c.log.Printf("charger: bus suspended")
}

func (c *Coordinator) handleResumed() {
	s := c.sess
	if s == nil || !s.suspended {
		return
	}
	s.suspended = false
	c.log.Printf("charger: bus resumed")
	if s.programmed && !s.halted && !s.charging {
		c.startCharging()
	}
}

func (c *Coordinator) handleOscillation() {
	c.ticker.Stop()
	if err := c.strategy.stop(); err != nil {
		c.log.Printf("charger: stop detection: %v", err)
	}
	if err := c.sup.Stop(); err != nil {
		c.log.Printf("charger: %v", err)
	}
	if s := c.sess; s != nil {
		s.state = StateIdle
		s.charging = false
		s.halted = true
	}
	c.log.Printf("charger: charging disabled until detach")
}

// teardown stops detection and charging and ends the session.
func (c *Coordinator) teardown() {
	c.ticker.Stop()
	if err := c.strategy.stop(); err != nil {
		c.log.Printf("charger: stop detection: %v", err)
	}
	if err := c.sup.Stop(); err != nil {
		c.log.Printf("charger: %v", err)
	}
	c.resetOscillation()
	c.sess = nil
}

func (c *Coordinator) resetOscillation() {
	select {
	case c.oscReset <- struct{}{}:
	default:
	}
}

func (c *Coordinator) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	if s == nil {
		c.snap.Attached = false
		c.snap.State = StateIdle
		c.snap.Enumerated, c.snap.Charging, c.snap.Suspended, c.snap.Halted = false, false, false, false
		return
	}
	c.snap.Attached = true
	c.snap.State = s.state
	if s.class != ClassUnknown {
		c.snap.Class = s.class
	}
	c.snap.Enumerated = s.enumerated
	c.snap.Charging = s.charging
	c.snap.Suspended = s.suspended
	c.snap.Halted = s.halted
}

// Snapshot returns the coordinator's current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	s := c.snap
	c.mu.Unlock()
	s.Oscillations = c.osc.detected.Load()
	s.DroppedCommands = c.droppedCmds.Load()
	s.DroppedObservations = c.droppedObs.Load()
	s.DroppedFaults = c.droppedFaults.Load()
	s.RelayErrors = c.relayErrs.Load()
	return s
}

// ---------------- relays ----------------
//
// Relays are safe to call from interrupt context: they never block and
// never log.

func (c *Coordinator) post(m coordMsg) {
	m.gen = c.gen.Load()
	select {
	case c.msgs <- m:
	default:
		c.droppedCmds.Add(1)
	}
}

// Attach reports VBUS present.
func (c *Coordinator) Attach() { c.post(coordMsg{kind: msgAttach}) }

// Detach reports VBUS removed. It preempts every message posted before it.
func (c *Coordinator) Detach() {
	c.gen.Add(1)
	select {
	case c.detachCh <- struct{}{}:
	default:
	}
}

// ContactDetected reports the data contact comparator.
func (c *Coordinator) ContactDetected(ok bool) {
	c.post(coordMsg{kind: msgContact, contact: ok})
}

// ChargeEvent services a USB charger event interrupt: it samples data
// contact, cancels the interrupt and relays the result.
func (c *Coordinator) ChargeEvent() {
	contact, err := c.det.DataContact()
	if cerr := c.det.CancelIRQ(); cerr != nil {
		c.relayErrs.Add(1)
	}
	if err != nil {
		c.relayErrs.Add(1)
		return
	}
	c.ContactDetected(contact)
}

// DetectionInterrupt relays a hardware detection FSM completion.
func (c *Coordinator) DetectionInterrupt(status pmic.DetectionStatus) {
	if !status.Completed() {
		return
	}
	c.post(coordMsg{kind: msgDetected, status: status})
}

// Enumerated reports that the host configured the device.
func (c *Coordinator) Enumerated() { c.post(coordMsg{kind: msgEnumerated}) }

// Suspended reports USB bus suspend.
func (c *Coordinator) Suspended() { c.post(coordMsg{kind: msgSuspended}) }

// Resumed reports USB bus resume.
func (c *Coordinator) Resumed() { c.post(coordMsg{kind: msgResumed}) }
