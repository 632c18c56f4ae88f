package pmic

import (
	"fmt"
	"sync"
)

// FakeEngine is an in-memory Engine that records every call. Program and
// SetConstCurrent are ignored while the lock is applied, like the hardware.
type FakeEngine struct {
	mu sync.Mutex

	calls []string

	profile Profile
	cc      CurrentLevel

	Clock, Analog, Run bool
	OKEnabled          bool
	ErrorEnabled       bool
	LockMode, Locked   bool

	state   MainState
	region  JEITARegion
	vbatLow bool
	faults  Faults

	okHandler  func()
	errHandler func()

	// Errors maps a method name to the error it should return.
	Errors map[string]error
}

var _ Engine = (*FakeEngine)(nil)

// NewFakeEngine returns an idle engine with lock mode off.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{Errors: map[string]error{}}
}

func (f *FakeEngine) record(name string) error {
	f.calls = append(f.calls, name)
	return f.Errors[name]
}

func (f *FakeEngine) locked() bool { return f.LockMode && f.Locked }

// Calls returns the method names invoked so far.
func (f *FakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResetCalls forgets the call log.
func (f *FakeEngine) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *FakeEngine) Program(p *Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Program"); err != nil {
		return err
	}
	if f.locked() {
		return nil
	}
	f.profile = *p
	f.profile.FineTuning = nil
	f.cc = p.CC
	return nil
}

func (f *FakeEngine) Readback() (Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile
	p.CC = f.cc
	return p, f.Errors["Readback"]
}

func (f *FakeEngine) SetConstCurrent(level CurrentLevel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("SetConstCurrent(%d)", level)); err != nil {
		return err
	}
	if !f.locked() {
		f.cc = level
	}
	return nil
}

func (f *FakeEngine) ConstCurrent() (CurrentLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cc, f.Errors["ConstCurrent"]
}

func (f *FakeEngine) setFlag(name string, dst *bool, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("%s(%t)", name, on)); err != nil {
		return err
	}
	*dst = on
	return nil
}

func (f *FakeEngine) SetClock(on bool) error  { return f.setFlag("SetClock", &f.Clock, on) }
func (f *FakeEngine) SetAnalog(on bool) error { return f.setFlag("SetAnalog", &f.Analog, on) }
func (f *FakeEngine) SetRun(on bool) error    { return f.setFlag("SetRun", &f.Run, on) }

func (f *FakeEngine) EnableOKIRQ(handler func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("EnableOKIRQ"); err != nil {
		return err
	}
	f.OKEnabled, f.okHandler = true, handler
	return nil
}

func (f *FakeEngine) DisableOKIRQ() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OKEnabled, f.okHandler = false, nil
	return f.record("DisableOKIRQ")
}

func (f *FakeEngine) ClearOKIRQ() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ClearOKIRQ")
}

func (f *FakeEngine) EnableErrorIRQ(handler func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("EnableErrorIRQ"); err != nil {
		return err
	}
	f.ErrorEnabled, f.errHandler = true, handler
	return nil
}

func (f *FakeEngine) DisableErrorIRQ() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ErrorEnabled, f.errHandler = false, nil
	return f.record("DisableErrorIRQ")
}

func (f *FakeEngine) ClearErrorIRQ() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = 0
	return f.record("ClearErrorIRQ")
}

func (f *FakeEngine) MainState() (MainState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.Errors["MainState"]
}

func (f *FakeEngine) JEITARegion() (JEITARegion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.region, f.Errors["JEITARegion"]
}

func (f *FakeEngine) VBATUnderVoltage() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vbatLow, f.Errors["VBATUnderVoltage"]
}

// ErrorStatus returns the latched faults; ClearErrorIRQ resets them.
func (f *FakeEngine) ErrorStatus() (Faults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faults, f.Errors["ErrorStatus"]
}

func (f *FakeEngine) LockState() (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LockMode, f.Locked, f.Errors["LockState"]
}

func (f *FakeEngine) EnableLockMode() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("EnableLockMode"); err != nil {
		return err
	}
	f.LockMode = true
	return nil
}

func (f *FakeEngine) ApplyLock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ApplyLock"); err != nil {
		return err
	}
	if f.LockMode {
		f.Locked = true
	}
	return nil
}

func (f *FakeEngine) ApplyUnlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ApplyUnlock"); err != nil {
		return err
	}
	f.Locked = false
	return nil
}

// SetObservation sets what the next OK interrupt reads back.
func (f *FakeEngine) SetObservation(s MainState, region JEITARegion, vbatLow bool) {
	f.mu.Lock()
	f.state, f.region, f.vbatLow = s, region, vbatLow
	f.mu.Unlock()
}

// SetFaults latches error status bits.
func (f *FakeEngine) SetFaults(faults Faults) {
	f.mu.Lock()
	f.faults |= faults
	f.mu.Unlock()
}

// FireOK invokes the OK interrupt handler if the interrupt is enabled. It
// reports whether a handler ran.
func (f *FakeEngine) FireOK() bool {
	f.mu.Lock()
	h := f.okHandler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h()
	return true
}

// FireError invokes the error interrupt handler if enabled.
func (f *FakeEngine) FireError() bool {
	f.mu.Lock()
	h := f.errHandler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h()
	return true
}

// FakeDetector is an in-memory PortDetector and DetectionFSM.
type FakeDetector struct {
	mu    sync.Mutex
	calls []string

	contact     bool
	highCurrent bool
	secondary   SecondaryResult

	FSMEnabled bool
	handler    func(DetectionStatus)

	// Errors maps a method name to the error it should return.
	Errors map[string]error
}

var (
	_ PortDetector = (*FakeDetector)(nil)
	_ DetectionFSM = (*FakeDetector)(nil)
)

// NewFakeDetector returns a detector that classifies ports as SDP.
func NewFakeDetector() *FakeDetector {
	return &FakeDetector{Errors: map[string]error{}}
}

func (f *FakeDetector) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.Errors[name]
}

// Calls returns the method names invoked so far.
func (f *FakeDetector) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResetCalls forgets the call log.
func (f *FakeDetector) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// SetPort configures the results primary and secondary detection report.
func (f *FakeDetector) SetPort(highCurrent bool, secondary SecondaryResult) {
	f.mu.Lock()
	f.highCurrent, f.secondary = highCurrent, secondary
	f.mu.Unlock()
}

// SetContact sets the data-pin contact comparator output.
func (f *FakeDetector) SetContact(on bool) {
	f.mu.Lock()
	f.contact = on
	f.mu.Unlock()
}

func (f *FakeDetector) StartContactDetection() error   { return f.record("StartContactDetection") }
func (f *FakeDetector) StartPrimaryDetection() error   { return f.record("StartPrimaryDetection") }
func (f *FakeDetector) StartSecondaryDetection() error { return f.record("StartSecondaryDetection") }
func (f *FakeDetector) SetDPHigh() error               { return f.record("SetDPHigh") }
func (f *FakeDetector) Disable() error                 { return f.record("Disable") }
func (f *FakeDetector) CancelIRQ() error               { return f.record("CancelIRQ") }

func (f *FakeDetector) DataContact() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contact, f.Errors["DataContact"]
}

func (f *FakeDetector) PrimaryResult() (bool, error) {
	if err := f.record("PrimaryResult"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.highCurrent, nil
}

func (f *FakeDetector) SecondaryResult() (SecondaryResult, error) {
	if err := f.record("SecondaryResult"); err != nil {
		return SecondaryCDP, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.secondary, nil
}

func (f *FakeDetector) EnableDetectionFSM(handler func(DetectionStatus)) error {
	if err := f.record("EnableDetectionFSM"); err != nil {
		return err
	}
	f.mu.Lock()
	f.FSMEnabled, f.handler = true, handler
	f.mu.Unlock()
	return nil
}

func (f *FakeDetector) DisableDetectionFSM() error {
	f.mu.Lock()
	f.FSMEnabled, f.handler = false, nil
	f.mu.Unlock()
	return f.record("DisableDetectionFSM")
}

// Complete delivers a detection FSM completion to the installed handler.
// It reports whether a handler ran.
func (f *FakeDetector) Complete(status DetectionStatus) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(status | DetectionCompleted)
	return true
}
