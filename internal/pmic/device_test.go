package pmic

import (
	"errors"
	"testing"
)

func newTestDevice() (*Device, *FakeBus) {
	bus := NewFakeBus()
	return New(bus, 0), bus
}

func TestProgramReadback(t *testing.T) {
	d, _ := newTestDevice()
	p := DefaultProfile()
	p.CC = 300
	p.Timeouts.CV = 1234
	p.BatTemp.Cold = -5

	if err := d.Program(p); err != nil {
		t.Fatalf("Program: %v", err)
	}
	got, err := d.Readback()
	if err != nil {
		t.Fatalf("Readback: %v", err)
	}
	if got.CC != 300 || got.PrechargeCC != p.PrechargeCC {
		t.Errorf("currents: got cc=%d precharge=%d", got.CC, got.PrechargeCC)
	}
	if got.CV != p.CV || got.OVP != p.OVP || got.Replenish != p.Replenish || got.PrechargedThreshold != p.PrechargedThreshold {
		t.Errorf("voltages: got %+v", got)
	}
	if got.Timeouts != p.Timeouts {
		t.Errorf("timeouts: got %+v, want %+v", got.Timeouts, p.Timeouts)
	}
	if got.BatTemp != p.BatTemp {
		t.Errorf("bat temps: got %+v, want %+v", got.BatTemp, p.BatTemp)
	}
	if got.Zones != p.Zones {
		t.Errorf("zones: got %+v, want %+v", got.Zones, p.Zones)
	}
	if got.Flags != p.Flags || got.ErrorIRQMask != p.ErrorIRQMask || got.OKIRQMask != p.OKIRQMask {
		t.Errorf("flags/masks: got %v %v %v", got.Flags, got.ErrorIRQMask, got.OKIRQMask)
	}
	if got.DieTempLimit != p.DieTempLimit || got.EOCPercent != p.EOCPercent {
		t.Errorf("die=%d eoc=%d", got.DieTempLimit, got.EOCPercent)
	}
}

func TestDieTempLimitRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		die  Temperature
	}{
		{"engine maximum", MaxDieTemp},
		{"above int8", 128},
		{"low", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDevice()
			p := DefaultProfile()
			p.DieTempLimit = tt.die
			if err := p.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if err := d.Program(p); err != nil {
				t.Fatalf("Program: %v", err)
			}
			got, err := d.Readback()
			if err != nil {
				t.Fatalf("Readback: %v", err)
			}
			if got.DieTempLimit != tt.die {
				t.Errorf("die limit = %d, want %d", got.DieTempLimit, tt.die)
			}
		})
	}
}

func TestProgramSkipsZonesWithoutJEITA(t *testing.T) {
	d, bus := newTestDevice()
	p := DefaultProfile()
	p.Flags &^= CtrlJEITA
	if err := d.Program(p); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if v := bus.Reg(regZoneBase); v != 0 {
		t.Errorf("zone register written without JEITA: 0x%x", v)
	}
}

func TestProgramFineTuning(t *testing.T) {
	d, bus := newTestDevice()
	p := DefaultProfile()
	p.FineTuning = &FineTuning{PowerUpMs: 5, EOCIntervalUs: 77}
	if err := d.Program(p); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if v := bus.Reg(regFineTuneBase + 6); v != 5 {
		t.Errorf("power up: got %d, want 5", v)
	}
	if v := bus.Reg(regFineTuneBase + 7); v != 77 {
		t.Errorf("eoc interval: got %d, want 77", v)
	}
}

func TestLockSequence(t *testing.T) {
	d, bus := newTestDevice()

	mode, locked, err := d.LockState()
	if err != nil || mode || locked {
		t.Fatalf("initial: mode=%v locked=%v err=%v", mode, locked, err)
	}

	// Lock key is ignored until lock mode is enabled.
	if err := d.ApplyLock(); err != nil {
		t.Fatal(err)
	}
	if _, locked, _ := d.LockState(); locked {
		t.Fatal("locked without lock mode")
	}

	if err := d.EnableLockMode(); err != nil {
		t.Fatal(err)
	}
	if err := d.ApplyLock(); err != nil {
		t.Fatal(err)
	}
	if _, locked, _ := d.LockState(); !locked {
		t.Fatal("expected locked")
	}

	if err := d.SetConstCurrent(100); err != nil {
		t.Fatal(err)
	}
	if cc, _ := d.ConstCurrent(); cc != 0 {
		t.Errorf("write went through while locked: cc=%d", cc)
	}
	if bus.Dropped != 1 {
		t.Errorf("Dropped: got %d, want 1", bus.Dropped)
	}

	if err := d.ApplyUnlock(); err != nil {
		t.Fatal(err)
	}
	if err := d.SetConstCurrent(100); err != nil {
		t.Fatal(err)
	}
	if cc, _ := d.ConstCurrent(); cc != 100 {
		t.Errorf("cc: got %d, want 100", cc)
	}
}

func TestControlBits(t *testing.T) {
	d, bus := newTestDevice()
	d.SetClock(true)
	d.SetAnalog(true)
	d.SetRun(true)
	if v := bus.Reg(regCtrl); v != ctrlClock|ctrlAnalog|ctrlRun {
		t.Fatalf("ctrl: got 0x%x", v)
	}
	d.SetAnalog(false)
	d.SetRun(false)
	if v := bus.Reg(regCtrl); v != ctrlClock {
		t.Errorf("ctrl after stop: got 0x%x, want clock only", v)
	}
}

func TestStatusDecode(t *testing.T) {
	d, bus := newTestDevice()
	bus.SetStatus(StateCV, RegionWarm, true)

	s, err := d.MainState()
	if err != nil || s != StateCV {
		t.Errorf("MainState: got %v, %v", s, err)
	}
	r, err := d.JEITARegion()
	if err != nil || r != RegionWarm {
		t.Errorf("JEITARegion: got %v, %v", r, err)
	}
	low, err := d.VBATUnderVoltage()
	if err != nil || !low {
		t.Errorf("VBATUnderVoltage: got %v, %v", low, err)
	}
}

func TestErrorIRQ(t *testing.T) {
	d, bus := newTestDevice()
	bus.SetFaults(FaultTDie | FaultCVTimeout)

	var fired int
	if err := d.EnableErrorIRQ(func() { fired++ }); err != nil {
		t.Fatal(err)
	}
	if bus.Reg(regIRQEnable)&irqEnableErr == 0 {
		t.Error("error irq not enabled")
	}
	d.ServiceErrorIRQ()
	if fired != 1 {
		t.Errorf("handler fired %d times", fired)
	}

	f, _ := d.ErrorStatus()
	if f != FaultTDie|FaultCVTimeout {
		t.Errorf("ErrorStatus: got %v", f)
	}
	d.ClearErrorIRQ()
	if f, _ := d.ErrorStatus(); f != 0 {
		t.Errorf("after clear: got %v", f)
	}

	d.DisableErrorIRQ()
	d.ServiceErrorIRQ()
	if fired != 1 {
		t.Error("handler fired after disable")
	}
}

func TestOKIRQUnclaimedIsCleared(t *testing.T) {
	d, bus := newTestDevice()
	bus.SetReg(regOKIRQStat, 0x10)
	if err := d.ServiceOKIRQ(); err != nil {
		t.Fatal(err)
	}
	if v := bus.Reg(regOKIRQStat); v != 0 {
		t.Errorf("ok irq status not cleared: 0x%x", v)
	}
}

func TestDetectionPhases(t *testing.T) {
	d, bus := newTestDevice()

	d.StartContactDetection()
	if v := bus.Reg(regDetCtrl); v != detContact {
		t.Errorf("contact: ctrl 0x%x", v)
	}
	d.StartPrimaryDetection()
	if v := bus.Reg(regDetCtrl); v != detPrimary {
		t.Errorf("primary: ctrl 0x%x", v)
	}
	d.StartSecondaryDetection()
	d.SetDPHigh()
	if v := bus.Reg(regDetCtrl); v != detSecondary|detDPHigh {
		t.Errorf("secondary: ctrl 0x%x", v)
	}
	d.Disable()
	if v := bus.Reg(regDetCtrl); v != 0 {
		t.Errorf("disabled: ctrl 0x%x", v)
	}

	bus.SetDetection(true, true, true, 0)
	if c, _ := d.DataContact(); !c {
		t.Error("expected contact")
	}
	if hc, _ := d.PrimaryResult(); !hc {
		t.Error("expected high current port")
	}
	if sr, _ := d.SecondaryResult(); sr != SecondaryDCP {
		t.Errorf("secondary: got %v", sr)
	}
	bus.SetDetection(false, true, false, 0)
	if sr, _ := d.SecondaryResult(); sr != SecondaryCDP {
		t.Errorf("secondary: got %v", sr)
	}
}

func TestDetectionFSM(t *testing.T) {
	d, bus := newTestDevice()

	var got []DetectionStatus
	if err := d.EnableDetectionFSM(func(s DetectionStatus) { got = append(got, s) }); err != nil {
		t.Fatal(err)
	}
	if v := bus.Reg(regDetCtrl); v&detFSMEnable == 0 || v&detIRQEnable == 0 {
		t.Errorf("fsm not enabled: 0x%x", v)
	}
	if bus.Reg(regCtrl)&ctrlClock == 0 {
		t.Error("clock not enabled")
	}

	// Not yet completed: no callback.
	bus.SetDetection(false, false, false, DetectionCDP)
	d.ServiceDetectionIRQ()
	if len(got) != 0 {
		t.Fatalf("callback before completion: %v", got)
	}

	bus.SetDetection(false, false, false, DetectionCompleted|DetectionDCP)
	d.ServiceDetectionIRQ()
	if len(got) != 1 || got[0] != DetectionCompleted|DetectionDCP {
		t.Fatalf("got %v", got)
	}

	d.DisableDetectionFSM()
	d.ServiceDetectionIRQ()
	if len(got) != 1 {
		t.Error("callback after disable")
	}
}

func TestBusErrorWrapped(t *testing.T) {
	d, bus := newTestDevice()
	boom := errors.New("nak")
	bus.TxError = boom
	if _, err := d.MainState(); !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped nak", err)
	}
	if err := d.Program(DefaultProfile()); !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped nak", err)
	}
}
