package charger

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/usb-charger/internal/mathx"
	"github.com/sweeney/usb-charger/internal/pmic"
)

type runState uint8

const (
	runUnknown runState = iota
	runRunning
	runStopped
)

// Supervisor programs, starts and stops the hardware charging engine.
// It is the only component that toggles the engine's register write lock,
// and it always leaves the lock as it found it.
type Supervisor struct {
	mu      sync.Mutex
	eng     pmic.Engine
	profile *pmic.Profile
	onOK    func()
	onErr   func()
	log     *log.Logger

	programmed bool
	run        runState
}

// NewSupervisor returns a Supervisor that routes the engine's OK and error
// interrupts to onOK and onErr while started.
func NewSupervisor(eng pmic.Engine, profile *pmic.Profile, onOK, onErr func(), logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{eng: eng, profile: profile, onOK: onOK, onErr: onErr, log: logger}
}

// writeLock is held while protected registers are written.
type writeLock struct {
	eng       pmic.Engine
	mode      bool
	wasLocked bool
}

func acquireWriteLock(eng pmic.Engine) (*writeLock, error) {
	mode, locked, err := eng.LockState()
	if err != nil {
		return nil, fmt.Errorf("read lock state: %w", err)
	}
	if mode && locked {
		if err := eng.ApplyUnlock(); err != nil {
			return nil, fmt.Errorf("unlock: %w", err)
		}
	}
	return &writeLock{eng: eng, mode: mode, wasLocked: locked}, nil
}

// release restores the prior lock state. When lock mode was off and
// enableSWLock is set, lock mode is turned on and the registers locked.
func (l *writeLock) release(enableSWLock bool) error {
	switch {
	case l.mode && l.wasLocked:
		return l.eng.ApplyLock()
	case !l.mode && enableSWLock:
		if err := l.eng.EnableLockMode(); err != nil {
			return fmt.Errorf("enable lock mode: %w", err)
		}
		return l.eng.ApplyLock()
	}
	return nil
}

// withWriteLock runs fn with the protected registers writable. The lock is
// restored on every return path and its error joined with fn's.
func (s *Supervisor) withWriteLock(enableSWLock bool, fn func() error) (err error) {
	l, err := acquireWriteLock(s.eng)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.release(enableSWLock); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore lock: %w", rerr))
		}
	}()
	return fn()
}

// Program writes the profile into the engine. It may be called repeatedly.
func (s *Supervisor) Program() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withWriteLock(s.profile.Flags.Has(pmic.CtrlSWLock), func() error {
		return s.eng.Program(s.profile)
	})
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}
	if !s.programmed {
		s.log.Printf("charger: profile programmed cc=%d mA cv=%d mV flags=%v", s.profile.CC, s.profile.CV, s.profile.Flags)
	}
	s.programmed = true
	return nil
}

// Programmed reports whether Program has succeeded at least once.
func (s *Supervisor) Programmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programmed
}

// Start subscribes both interrupt classes and powers the engine up.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := []struct {
		name string
		fn   func() error
	}{
		{"enable ok irq", func() error { return s.eng.EnableOKIRQ(s.onOK) }},
		{"enable error irq", func() error { return s.eng.EnableErrorIRQ(s.onErr) }},
		{"clock on", func() error { return s.eng.SetClock(true) }},
		{"analog on", func() error { return s.eng.SetAnalog(true) }},
		{"run on", func() error { return s.eng.SetRun(true) }},
	}
	// Until every step succeeds the engine state is unknown.
	s.run = runUnknown
	for _, st := range steps {
		if err := st.fn(); err != nil {
			return fmt.Errorf("start: %s: %w", st.name, err)
		}
	}
	s.run = runRunning
	return nil
}

// Stop unsubscribes both interrupt classes and powers the engine down.
// Stopping a stopped engine does nothing.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == runStopped {
		return nil
	}
	var errs []error
	if err := s.eng.DisableOKIRQ(); err != nil {
		errs = append(errs, fmt.Errorf("disable ok irq: %w", err))
	}
	if err := s.eng.DisableErrorIRQ(); err != nil {
		errs = append(errs, fmt.Errorf("disable error irq: %w", err))
	}
	if err := s.eng.SetAnalog(false); err != nil {
		errs = append(errs, fmt.Errorf("analog off: %w", err))
	}
	if err := s.eng.SetRun(false); err != nil {
		errs = append(errs, fmt.Errorf("run off: %w", err))
	}
	s.run = runStopped
	if len(errs) > 0 {
		return fmt.Errorf("stop: %w", errors.Join(errs...))
	}
	return nil
}

// Running reports whether the engine was last started.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run == runRunning
}

// ApplyCurrentLimit overrides the constant-current level. The level is
// clamped to the engine's range.
func (s *Supervisor) ApplyCurrentLimit(level pmic.CurrentLevel) error {
	level = mathx.Clamp(level, pmic.MinCurrent, pmic.MaxCurrent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.programmed {
		return ErrNotProgrammed
	}
	err := s.withWriteLock(false, func() error {
		return s.eng.SetConstCurrent(level)
	})
	if err != nil {
		return fmt.Errorf("set current limit %d mA: %w", level, err)
	}
	return nil
}

// ConstCurrent reads back the programmed constant-current level.
func (s *Supervisor) ConstCurrent() (pmic.CurrentLevel, error) {
	return s.eng.ConstCurrent()
}
