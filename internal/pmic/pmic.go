// Package pmic defines the hardware collaborators of the charger
// coordinator: the charging engine and the USB port detector. It provides
// a register-level I2C implementation of both, plus in-memory fakes.
package pmic

// Engine is the hardware charging FSM.
//
// Program and SetConstCurrent write protected registers and do no lock
// handling of their own; writes issued while the registers are locked
// are ignored by the hardware.
type Engine interface {
	Program(p *Profile) error
	// Readback returns the profile currently held in the engine's registers.
	Readback() (Profile, error)
	SetConstCurrent(level CurrentLevel) error
	ConstCurrent() (CurrentLevel, error)

	SetClock(on bool) error
	SetAnalog(on bool) error
	SetRun(on bool) error

	// EnableOKIRQ unmasks the state-transition interrupt and routes it to handler.
	EnableOKIRQ(handler func()) error
	DisableOKIRQ() error
	ClearOKIRQ() error
	// EnableErrorIRQ unmasks the error interrupt and routes it to handler.
	EnableErrorIRQ(handler func()) error
	DisableErrorIRQ() error
	ClearErrorIRQ() error

	MainState() (MainState, error)
	JEITARegion() (JEITARegion, error)
	// VBATUnderVoltage reports the battery comparator output that forces
	// the FSM back into pre-charge.
	VBATUnderVoltage() (bool, error)
	ErrorStatus() (Faults, error)

	// LockState reports whether software lock mode is enabled and whether
	// the protected registers are currently locked.
	LockState() (mode, locked bool, err error)
	EnableLockMode() error
	ApplyLock() error
	ApplyUnlock() error
}

// PortDetector drives the USB battery-charging detection primitives.
type PortDetector interface {
	StartContactDetection() error
	StartPrimaryDetection() error
	StartSecondaryDetection() error
	SetDPHigh() error
	// DataContact reports the data-pin contact comparator.
	DataContact() (bool, error)
	// PrimaryResult reports whether the port is CDP or DCP rather than SDP.
	PrimaryResult() (highCurrent bool, err error)
	SecondaryResult() (SecondaryResult, error)
	Disable() error
	// CancelIRQ drops any pending charger event interrupt.
	CancelIRQ() error
}

// DetectionFSM is the optional hardware port-detection engine.
type DetectionFSM interface {
	EnableDetectionFSM(handler func(DetectionStatus)) error
	DisableDetectionFSM() error
}
