package pmic

import (
	"fmt"
	"sync"

	"tinygo.org/x/drivers"
)

// Device is the register-level driver for the charger companion chip. It
// implements Engine, PortDetector and DetectionFSM over a single I2C bus.
// Methods are safe for concurrent use.
type Device struct {
	mu   sync.Mutex
	i2c  drivers.I2C
	addr uint16

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte

	hmu        sync.Mutex
	okHandler  func()
	errHandler func()
	detHandler func(DetectionStatus)
}

// New returns a Device at addr (0 selects AddressDefault).
func New(i2c drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = AddressDefault
	}
	return &Device{i2c: i2c, addr: addr}
}

// I2C 16-bit word operations (little-endian: LOW then HIGH).

func (d *Device) readWord(reg byte) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, fmt.Errorf("read reg 0x%02x: %w", reg, err)
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

func (d *Device) writeWord(reg byte, val uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeWordLocked(reg, val)
}

func (d *Device) writeWordLocked(reg byte, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val)
	d.w[2] = byte(val >> 8)
	if err := d.i2c.Tx(d.addr, d.w[:3], nil); err != nil {
		return fmt.Errorf("write reg 0x%02x: %w", reg, err)
	}
	return nil
}

// update applies clr then set to reg in one read-modify-write.
func (d *Device) update(reg byte, clr, set uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return fmt.Errorf("read reg 0x%02x: %w", reg, err)
	}
	v := uint16(d.r[0]) | uint16(d.r[1])<<8
	return d.writeWordLocked(reg, v&^clr|set)
}

func (d *Device) setBit(reg byte, bit uint16, on bool) error {
	if on {
		return d.update(reg, 0, bit)
	}
	return d.update(reg, bit, 0)
}

type regWrite struct {
	reg byte
	val uint16
}

func (d *Device) writeAll(ws []regWrite) error {
	for _, w := range ws {
		if err := d.writeWord(w.reg, w.val); err != nil {
			return err
		}
	}
	return nil
}

// ---------------- Engine ----------------

// Program writes every profile field. Zone overrides are written only when
// the profile enables JEITA.
func (d *Device) Program(p *Profile) error {
	ws := []regWrite{
		{regFlags, uint16(p.Flags)},
		{regTBATMonitor, uint16(p.TBATMonitor)},
		{regOKIRQMask, uint16(p.OKIRQMask)},
		{regErrIRQMask, uint16(p.ErrorIRQMask)},
		{regOVP, uint16(p.OVP)},
		{regReplenish, uint16(p.Replenish)},
		{regPrechargedThr, uint16(p.PrechargedThreshold)},
		{regCV, uint16(p.CV)},
		{regEOCPercent, uint16(p.EOCPercent)},
		{regPrechargeCC, uint16(p.PrechargeCC)},
		{regCC, uint16(p.CC)},
		{regDieTemp, uint16(p.DieTempLimit)},
		{regTimeoutPrecharge, p.Timeouts.Precharge},
		{regTimeoutCC, p.Timeouts.CC},
		{regTimeoutCV, p.Timeouts.CV},
		{regTimeoutTotal, p.Timeouts.Total},
	}
	for i, t := range batTemps(&p.BatTemp) {
		ws = append(ws, regWrite{byte(regBatTempBase + i), uint16(*t)})
	}
	if p.Flags.Has(CtrlJEITA) {
		for i, z := range zones(&p.Zones) {
			base := byte(regZoneBase + i*regZoneStride)
			for j, f := range zoneFields(z) {
				ws = append(ws, regWrite{base + byte(j), *f})
			}
		}
	}
	if ft := p.FineTuning; ft != nil {
		for i, v := range fineTuneFields(ft) {
			ws = append(ws, regWrite{byte(regFineTuneBase + i), *v})
		}
	}
	if err := d.writeAll(ws); err != nil {
		return fmt.Errorf("program profile: %w", err)
	}
	return nil
}

// Readback reads the programmed profile. FineTuning is not read back.
func (d *Device) Readback() (Profile, error) {
	var p Profile
	read := func(reg byte, dst *uint16) error {
		v, err := d.readWord(reg)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
	var flags, tbat, okMask, errMask, ovp, repl, pthr, cv, eoc, pcc, cc, die uint16
	fields := []struct {
		reg byte
		dst *uint16
	}{
		{regFlags, &flags}, {regTBATMonitor, &tbat},
		{regOKIRQMask, &okMask}, {regErrIRQMask, &errMask},
		{regOVP, &ovp}, {regReplenish, &repl}, {regPrechargedThr, &pthr}, {regCV, &cv},
		{regEOCPercent, &eoc}, {regPrechargeCC, &pcc}, {regCC, &cc},
		{regDieTemp, &die},
		{regTimeoutPrecharge, &p.Timeouts.Precharge}, {regTimeoutCC, &p.Timeouts.CC},
		{regTimeoutCV, &p.Timeouts.CV}, {regTimeoutTotal, &p.Timeouts.Total},
	}
	for _, f := range fields {
		if err := read(f.reg, f.dst); err != nil {
			return Profile{}, fmt.Errorf("readback: %w", err)
		}
	}
	p.Flags = ControlFlags(flags)
	p.TBATMonitor = TBATMonitorMode(tbat)
	p.OKIRQMask = StateIRQ(okMask)
	p.ErrorIRQMask = Faults(errMask)
	p.OVP, p.Replenish, p.PrechargedThreshold, p.CV = VoltageLevel(ovp), VoltageLevel(repl), VoltageLevel(pthr), VoltageLevel(cv)
	p.EOCPercent = uint8(eoc)
	p.PrechargeCC, p.CC = CurrentLevel(pcc), CurrentLevel(cc)
	p.DieTempLimit = Temperature(die)

	for i, t := range batTemps(&p.BatTemp) {
		var v uint16
		if err := read(byte(regBatTempBase+i), &v); err != nil {
			return Profile{}, fmt.Errorf("readback: %w", err)
		}
		*t = Temperature(v)
	}
	for i, z := range zones(&p.Zones) {
		base := byte(regZoneBase + i*regZoneStride)
		for j, f := range zoneFields(z) {
			if err := read(base+byte(j), f); err != nil {
				return Profile{}, fmt.Errorf("readback: %w", err)
			}
		}
	}
	return p, nil
}

func (d *Device) SetConstCurrent(level CurrentLevel) error {
	return d.writeWord(regCC, uint16(level))
}

func (d *Device) ConstCurrent() (CurrentLevel, error) {
	v, err := d.readWord(regCC)
	return CurrentLevel(v), err
}

func (d *Device) SetClock(on bool) error  { return d.setBit(regCtrl, ctrlClock, on) }
func (d *Device) SetAnalog(on bool) error { return d.setBit(regCtrl, ctrlAnalog, on) }
func (d *Device) SetRun(on bool) error    { return d.setBit(regCtrl, ctrlRun, on) }

func (d *Device) EnableOKIRQ(handler func()) error {
	d.hmu.Lock()
	d.okHandler = handler
	d.hmu.Unlock()
	return d.setBit(regIRQEnable, irqEnableOK, true)
}

func (d *Device) DisableOKIRQ() error {
	err := d.setBit(regIRQEnable, irqEnableOK, false)
	d.hmu.Lock()
	d.okHandler = nil
	d.hmu.Unlock()
	return err
}

func (d *Device) ClearOKIRQ() error { return d.writeWord(regOKIRQClear, 0xFFFF) }

func (d *Device) EnableErrorIRQ(handler func()) error {
	d.hmu.Lock()
	d.errHandler = handler
	d.hmu.Unlock()
	return d.setBit(regIRQEnable, irqEnableErr, true)
}

func (d *Device) DisableErrorIRQ() error {
	err := d.setBit(regIRQEnable, irqEnableErr, false)
	d.hmu.Lock()
	d.errHandler = nil
	d.hmu.Unlock()
	return err
}

func (d *Device) ClearErrorIRQ() error { return d.writeWord(regErrIRQClear, 0xFFFF) }

func (d *Device) MainState() (MainState, error) {
	v, err := d.readWord(regStatus)
	return MainState(v & statusStateMask), err
}

func (d *Device) JEITARegion() (JEITARegion, error) {
	v, err := d.readWord(regStatus)
	return JEITARegion((v & statusRegionMask) >> statusRegionShift), err
}

func (d *Device) VBATUnderVoltage() (bool, error) {
	v, err := d.readWord(regStatus)
	return v&statusVBATLow != 0, err
}

func (d *Device) ErrorStatus() (Faults, error) {
	v, err := d.readWord(regErrIRQStat)
	return Faults(v) & FaultAll, err
}

func (d *Device) LockState() (mode, locked bool, err error) {
	m, err := d.readWord(regLockMode)
	if err != nil {
		return false, false, err
	}
	s, err := d.readWord(regLockStatus)
	if err != nil {
		return false, false, err
	}
	return m&1 != 0, s&1 != 0, nil
}

func (d *Device) EnableLockMode() error { return d.writeWord(regLockMode, 1) }
func (d *Device) ApplyLock() error      { return d.writeWord(regLockKey, lockKeyLock) }
func (d *Device) ApplyUnlock() error    { return d.writeWord(regLockKey, lockKeyUnlock) }

// ServiceOKIRQ forwards a charger OK interrupt line edge to the handler
// installed by EnableOKIRQ. Unclaimed interrupts are cleared.
func (d *Device) ServiceOKIRQ() error {
	d.hmu.Lock()
	h := d.okHandler
	d.hmu.Unlock()
	if h == nil {
		return d.ClearOKIRQ()
	}
	h()
	return nil
}

// ServiceErrorIRQ forwards a charger error interrupt line edge to the
// handler installed by EnableErrorIRQ.
func (d *Device) ServiceErrorIRQ() error {
	d.hmu.Lock()
	h := d.errHandler
	d.hmu.Unlock()
	if h == nil {
		return d.ClearErrorIRQ()
	}
	h()
	return nil
}

// ---------------- PortDetector ----------------

func (d *Device) startPhase(bit uint16) error {
	return d.update(regDetCtrl, detContact|detPrimary|detSecondary, bit)
}

func (d *Device) StartContactDetection() error   { return d.startPhase(detContact) }
func (d *Device) StartPrimaryDetection() error   { return d.startPhase(detPrimary) }
func (d *Device) StartSecondaryDetection() error { return d.startPhase(detSecondary) }
func (d *Device) SetDPHigh() error               { return d.setBit(regDetCtrl, detDPHigh, true) }

func (d *Device) DataContact() (bool, error) {
	v, err := d.readWord(regDetStatus)
	return v&detStatContact != 0, err
}

func (d *Device) PrimaryResult() (bool, error) {
	v, err := d.readWord(regDetStatus)
	return v&detStatPrimary != 0, err
}

func (d *Device) SecondaryResult() (SecondaryResult, error) {
	v, err := d.readWord(regDetStatus)
	if err != nil {
		return SecondaryCDP, err
	}
	if v&detStatDCP != 0 {
		return SecondaryDCP, nil
	}
	return SecondaryCDP, nil
}

func (d *Device) Disable() error   { return d.update(regDetCtrl, detPhaseMask, 0) }
func (d *Device) CancelIRQ() error { return d.writeWord(regDetIRQClear, 0xFFFF) }

// ---------------- DetectionFSM ----------------

func (d *Device) EnableDetectionFSM(handler func(DetectionStatus)) error {
	d.hmu.Lock()
	d.detHandler = handler
	d.hmu.Unlock()
	if err := d.update(regDetCtrl, 0, detIRQEnable|detFSMEnable); err != nil {
		return err
	}
	return d.SetClock(true)
}

func (d *Device) DisableDetectionFSM() error {
	err := d.update(regDetCtrl, detIRQEnable|detFSMEnable, 0)
	d.hmu.Lock()
	d.detHandler = nil
	d.hmu.Unlock()
	return err
}

// ServiceDetectionIRQ reads and clears the detection status and, when the
// hardware detection FSM has completed, hands the status to its handler.
func (d *Device) ServiceDetectionIRQ() error {
	v, err := d.readWord(regDetStatus)
	if err != nil {
		return err
	}
	if err := d.CancelIRQ(); err != nil {
		return err
	}
	st := DetectionStatus(v >> detStatFSShift)
	d.hmu.Lock()
	h := d.detHandler
	d.hmu.Unlock()
	if h != nil && st.Completed() {
		h(st)
	}
	return nil
}

// ---------------- field tables ----------------

func batTemps(b *BatTempLimits) []*Temperature {
	return []*Temperature{&b.Cold, &b.Cooler, &b.Cool, &b.Warm, &b.Warmer, &b.Hot}
}

func zones(z *Zones) []*Zone {
	return []*Zone{&z.Warm, &z.Cool, &z.Cooler, &z.Warmer}
}

func zoneFields(z *Zone) []*uint16 {
	return []*uint16{
		(*uint16)(&z.OVP),
		(*uint16)(&z.Replenish),
		(*uint16)(&z.PrechargedThreshold),
		(*uint16)(&z.CV),
		(*uint16)(&z.PrechargeCC),
		(*uint16)(&z.CC),
	}
}

func fineTuneFields(f *FineTuning) []*uint16 {
	return []*uint16{
		&f.VBATSettleUs, &f.OVPSettleUs, &f.TDieSettleUs, &f.TBatSettleUs,
		&f.TBatHotSettleUs, &f.TBatMonitorMs, &f.PowerUpMs, &f.EOCIntervalUs,
	}
}
