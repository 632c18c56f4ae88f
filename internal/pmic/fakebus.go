package pmic

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"
)

// FakeBus is an in-memory register file that answers Device's word
// transactions. It emulates the software write lock: writes to protected
// registers are dropped while lock mode is enabled and the lock applied.
type FakeBus struct {
	mu   sync.Mutex
	regs [256]uint16

	// TxError, if set, is returned by every transaction.
	TxError error

	// Dropped counts protected writes ignored because of the lock.
	Dropped int
}

var _ drivers.I2C = (*FakeBus)(nil)

// NewFakeBus returns a bus with every register cleared.
func NewFakeBus() *FakeBus { return &FakeBus{} }

// Tx decodes a word read (1-byte write, 2-byte read) or a word write
// (3-byte write).
func (b *FakeBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.TxError != nil {
		return b.TxError
	}
	switch {
	case len(w) == 1 && len(r) == 2:
		v := b.regs[w[0]]
		r[0], r[1] = byte(v), byte(v>>8)
		return nil
	case len(w) == 3 && len(r) == 0:
		b.write(w[0], uint16(w[1])|uint16(w[2])<<8)
		return nil
	}
	return errors.New("fakebus: unsupported transaction")
}

func (b *FakeBus) write(reg byte, v uint16) {
	locked := b.regs[regLockMode]&1 != 0 && b.regs[regLockStatus]&1 != 0
	switch {
	case reg == regLockStatus, reg == regStatus, reg == regOKIRQStat, reg == regErrIRQStat, reg == regDetStatus:
		// read-only
	case reg == regLockKey:
		if b.regs[regLockMode]&1 == 0 {
			return
		}
		switch v {
		case lockKeyLock:
			b.regs[regLockStatus] = 1
		case lockKeyUnlock:
			b.regs[regLockStatus] = 0
		}
	case reg == regOKIRQClear:
		b.regs[regOKIRQStat] &^= v
	case reg == regErrIRQClear:
		b.regs[regErrIRQStat] &^= v
	case reg == regDetIRQClear:
		// detection results stay readable after the IRQ is cleared
	case protectedRegister(reg) && locked:
		b.Dropped++
	default:
		b.regs[reg] = v
	}
}

// Reg returns the raw value of reg.
func (b *FakeBus) Reg(reg byte) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[reg]
}

// SetReg writes reg directly, bypassing lock emulation. Use it to inject
// status the hardware would report.
func (b *FakeBus) SetReg(reg byte, v uint16) {
	b.mu.Lock()
	b.regs[reg] = v
	b.mu.Unlock()
}

// SetStatus injects a main-state observation.
func (b *FakeBus) SetStatus(s MainState, region JEITARegion, vbatLow bool) {
	v := uint16(s)&statusStateMask | uint16(region)<<statusRegionShift&statusRegionMask
	if vbatLow {
		v |= statusVBATLow
	}
	b.SetReg(regStatus, v)
}

// SetFaults latches error interrupt status bits.
func (b *FakeBus) SetFaults(f Faults) { b.SetReg(regErrIRQStat, uint16(f)) }

// SetDetection sets the port detector's comparator and FSM outputs.
func (b *FakeBus) SetDetection(contact, highCurrent, dcp bool, fsm DetectionStatus) {
	var v uint16
	if contact {
		v |= detStatContact
	}
	if highCurrent {
		v |= detStatPrimary
	}
	if dcp {
		v |= detStatDCP
	}
	v |= uint16(fsm) << detStatFSShift
	b.SetReg(regDetStatus, v)
}
