package charger

import (
	"fmt"

	"github.com/sweeney/usb-charger/internal/pmic"
)

type detectEventKind uint8

const (
	evTick detectEventKind = iota
	evContact
	evCompleted
)

type detectEvent struct {
	kind    detectEventKind
	contact bool
	status  pmic.DetectionStatus
}

// detection is a port-detection strategy. step returns done once the
// port is classified; an error abandons detection for the session.
type detection interface {
	name() string
	start(s *session) error
	step(s *session, ev detectEvent) (class PortClass, done bool, err error)
	stop() error
	ticking() bool
}

// swDetection bit-bangs the BC1.2 sequence through the PortDetector.
type swDetection struct {
	det pmic.PortDetector
	cfg *Config
}

func (d *swDetection) name() string  { return "software" }
func (d *swDetection) ticking() bool { return true }

func (d *swDetection) start(s *session) error {
	s.state = StateAttached
	if err := d.det.StartContactDetection(); err != nil {
		return fmt.Errorf("start contact detection: %w", err)
	}
	return nil
}

func (d *swDetection) stop() error {
	if err := d.det.CancelIRQ(); err != nil {
		return err
	}
	return d.det.Disable()
}

func (d *swDetection) step(s *session, ev detectEvent) (PortClass, bool, error) {
	switch ev.kind {
	case evContact:
		s.dcdOK = ev.contact
		s.dcdAt = s.ticks
		return ClassUnknown, false, nil
	case evCompleted:
		return ClassUnknown, false, nil
	}

	s.ticks++
	s.phaseTicks++

	switch s.state {
	case StateAttached:
		s.state = StateDCD

	case StateDCD:
		debounced := s.dcdOK && s.ticks-s.dcdAt >= d.cfg.DCDDebounceTicks
		if !debounced && s.ticks < d.cfg.DCDTimeoutTicks {
			break
		}
		if err := d.enter(s, StatePrimary, d.det.StartPrimaryDetection); err != nil {
			return ClassUnknown, false, err
		}

	case StatePrimary:
		if s.phaseTicks < d.cfg.SettleTicks {
			break
		}
		highCurrent, err := d.det.PrimaryResult()
		if err != nil {
			return ClassUnknown, false, fmt.Errorf("primary result: %w", err)
		}
		if highCurrent {
			err = d.enter(s, StateSecondary, d.det.StartSecondaryDetection)
		} else {
			err = d.enter(s, StateSDP, d.det.Disable)
		}
		if err != nil {
			return ClassUnknown, false, err
		}

	case StateSecondary:
		if s.phaseTicks < d.cfg.SettleTicks {
			break
		}
		res, err := d.det.SecondaryResult()
		if err != nil {
			return ClassUnknown, false, fmt.Errorf("secondary result: %w", err)
		}
		if err := d.enter(s, StateIdle, d.det.Disable); err != nil {
			return ClassUnknown, false, err
		}
		if res == pmic.SecondaryDCP {
			return ClassDCP, true, nil
		}
		return ClassCDP, true, nil

	case StateSDP:
		if s.phaseTicks < d.cfg.SDPSettleTicks {
			break
		}
		s.state = StateIdle
		return ClassSDP, true, nil
	}
	return ClassUnknown, false, nil
}

// enter cancels the previous phase's interrupt, runs the driver action for
// the next phase and moves the session into it.
func (d *swDetection) enter(s *session, next DetectState, action func() error) error {
	if err := d.det.CancelIRQ(); err != nil {
		return fmt.Errorf("cancel irq entering %v: %w", next, err)
	}
	if err := action(); err != nil {
		return fmt.Errorf("enter %v: %w", next, err)
	}
	s.state = next
	s.phaseTicks = 0
	return nil
}

// hwDetection lets the hardware detection FSM classify the port.
type hwDetection struct {
	fsm     pmic.DetectionFSM
	onEvent func(pmic.DetectionStatus)
}

func (d *hwDetection) name() string  { return "hardware" }
func (d *hwDetection) ticking() bool { return false }

func (d *hwDetection) start(s *session) error {
	s.state = StateHWDetect
	if err := d.fsm.EnableDetectionFSM(d.onEvent); err != nil {
		return fmt.Errorf("enable detection fsm: %w", err)
	}
	return nil
}

func (d *hwDetection) stop() error { return d.fsm.DisableDetectionFSM() }

func (d *hwDetection) step(s *session, ev detectEvent) (PortClass, bool, error) {
	if ev.kind != evCompleted || s.state != StateHWDetect || !ev.status.Completed() {
		return ClassUnknown, false, nil
	}
	s.state = StateIdle
	if err := d.fsm.DisableDetectionFSM(); err != nil {
		return ClassUnknown, false, fmt.Errorf("disable detection fsm: %w", err)
	}
	return classifyStatus(ev.status), true, nil
}

// classifyStatus maps a completed detection status to a port class. An
// unrecognised result is treated as SDP.
func classifyStatus(st pmic.DetectionStatus) PortClass {
	switch {
	case st&pmic.DetectionDCP != 0:
		return ClassDCP
	case st&pmic.DetectionSDP != 0:
		return ClassSDP
	case st&pmic.DetectionCDP != 0:
		return ClassCDP
	}
	return ClassSDP
}
