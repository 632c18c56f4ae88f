package charger

import (
	"context"
	"sync/atomic"

	"github.com/sweeney/usb-charger/internal/pmic"
)

type okKind uint8

const (
	okObserve okKind = iota
	okVerdict
)

type okMsg struct {
	kind  okKind
	obs   Observation
	epoch uint64
}

// oscillationNet detects a charger bouncing between pre-charge and CC.
// count and notify are shared with the OK relay; the rest belongs to the
// state-transition consumer.
type oscillationNet struct {
	count    atomic.Uint64
	notify   atomic.Bool
	detected atomic.Uint64

	reachedCC bool
	checking  bool
	epoch     uint64
	stop      func() bool
}

// OKInterrupt services the engine's state-transition interrupt. It samples
// the FSM and posts the observation to the state-transition consumer.
func (c *Coordinator) OKInterrupt() {
	if err := c.eng.ClearOKIRQ(); err != nil {
		c.relayErrs.Add(1)
	}
	st, err := c.eng.MainState()
	if err != nil {
		c.relayErrs.Add(1)
		return
	}
	region, err := c.eng.JEITARegion()
	if err != nil {
		c.relayErrs.Add(1)
	}
	low, err := c.eng.VBATUnderVoltage()
	if err != nil {
		c.relayErrs.Add(1)
	}

	c.osc.count.Add(1)
	headroom := 0
	if c.cfg.OscillationCheck {
		if !c.osc.notify.Load() {
			return
		}
		// Leave a slot for the verdict.
		headroom = 1
	}
	if len(c.okq) >= cap(c.okq)-headroom {
		c.droppedObs.Add(1)
		return
	}
	select {
	case c.okq <- okMsg{kind: okObserve, obs: Observation{State: st, Region: region, VBATLow: low}}:
	default:
		c.droppedObs.Add(1)
	}
}

// ErrorInterrupt services the engine's error interrupt. It latches the
// fault bits, clears the interrupt and posts the bits to the error consumer.
func (c *Coordinator) ErrorInterrupt() {
	faults, err := c.eng.ErrorStatus()
	if cerr := c.eng.ClearErrorIRQ(); cerr != nil {
		c.relayErrs.Add(1)
	}
	if err != nil {
		c.relayErrs.Add(1)
		return
	}
	select {
	case c.errq <- faults:
	default:
		c.droppedFaults.Add(1)
	}
}

func (c *Coordinator) runStateConsumer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.resetOscillationState()
			return
		case <-c.oscReset:
			c.resetOscillationState()
		case m := <-c.okq:
			c.handleOK(ctx, m)
		}
	}
}

func (c *Coordinator) handleOK(ctx context.Context, m okMsg) {
	if m.kind == okVerdict {
		c.verdict(m.epoch)
		return
	}
	obs := m.obs
	c.mu.Lock()
	c.snap.Observed = true
	c.snap.Observation = obs
	c.mu.Unlock()

	switch obs.State {
	case pmic.StatePowerUp, pmic.StateInit:
	case pmic.StateDisabled:
		c.hooks.HWFSMDisabled()
	case pmic.StatePreCharge:
		c.hooks.PreCharging()
		if c.cfg.OscillationCheck && c.osc.reachedCC && obs.VBATLow && !c.osc.checking {
			c.arm(ctx)
		}
	case pmic.StateCC, pmic.StateCV:
		if !c.osc.checking {
			c.hooks.Charging()
		}
		c.osc.reachedCC = true
	case pmic.StateEOC:
		c.hooks.Charged()
	case pmic.StateTDieProt, pmic.StateTBatProt:
		c.hooks.ThermalProtection()
	case pmic.StateBypassed:
		c.hooks.Bypassed()
	case pmic.StateError:
		c.hooks.FSMError()
	default:
		c.log.Printf("charger: unknown main state %v", obs.State)
	}
}

// arm mutes observations and counts OK interrupts for one window.
func (c *Coordinator) arm(ctx context.Context) {
	c.osc.checking = true
	c.osc.epoch++
	epoch := c.osc.epoch
	c.osc.notify.Store(false)
	c.osc.count.Store(0)
	c.log.Printf("charger: pre-charge with VBAT low after CC, counting transitions for %v", c.cfg.OscillationWindow)

	c.osc.stop = c.afterFunc(c.cfg.OscillationWindow, func() {
		select {
		case c.okq <- okMsg{kind: okVerdict, epoch: epoch}:
		case <-ctx.Done():
		}
	})
}

func (c *Coordinator) verdict(epoch uint64) {
	if !c.osc.checking || epoch != c.osc.epoch {
		return
	}
	n := c.osc.count.Swap(0)
	c.osc.checking = false
	c.osc.stop = nil

	if n > uint64(c.cfg.OscillationThreshold) {
		c.osc.detected.Add(1)
		c.log.Printf("charger: oscillation detected, %d transitions in %v", n, c.cfg.OscillationWindow)
		select {
		case c.oscStop <- struct{}{}:
		default:
		}
		c.hooks.OscillationDetected()
	} else {
		c.log.Printf("charger: no oscillation, %d transitions in %v", n, c.cfg.OscillationWindow)
	}
	c.osc.notify.Store(true)
}

func (c *Coordinator) resetOscillationState() {
	if c.osc.stop != nil {
		c.osc.stop()
		c.osc.stop = nil
	}
	c.osc.checking = false
	c.osc.reachedCC = false
	c.osc.epoch++
	c.osc.count.Store(0)
	c.osc.notify.Store(true)
}

func (c *Coordinator) runErrorConsumer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.errq:
			c.dispatchFaults(f)
		}
	}
}

// dispatchFaults fires one hook per fault bit enabled in the profile's
// error mask, in fixed order.
func (c *Coordinator) dispatchFaults(raw pmic.Faults) {
	f := raw & c.profile.ErrorIRQMask
	for _, h := range c.faults {
		if f&h.bit != 0 {
			h.fn()
		}
	}
}
