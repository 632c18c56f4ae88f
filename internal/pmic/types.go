package pmic

import "fmt"

// CurrentLevel is a charge current in milliamps.
type CurrentLevel uint16

// VoltageLevel is a battery voltage in millivolts.
type VoltageLevel uint16

// Temperature is a die or battery temperature in degrees Celsius.
type Temperature int16

// MainState is the state reported by the hardware charging FSM.
type MainState uint8

const (
	StatePowerUp MainState = iota
	StateInit
	StateDisabled
	StatePreCharge
	StateCC
	StateCV
	StateEOC
	StateTDieProt
	StateTBatProt
	StateBypassed
	StateError
)

var mainStateNames = [...]string{
	StatePowerUp:   "POWER_UP",
	StateInit:      "INIT",
	StateDisabled:  "DISABLED",
	StatePreCharge: "PRE_CHARGE",
	StateCC:        "CC",
	StateCV:        "CV",
	StateEOC:       "EOC",
	StateTDieProt:  "TDIE_PROT",
	StateTBatProt:  "TBAT_PROT",
	StateBypassed:  "BYPASSED",
	StateError:     "ERROR",
}

func (s MainState) String() string {
	if int(s) < len(mainStateNames) {
		return mainStateNames[s]
	}
	return fmt.Sprintf("MainState(%d)", uint8(s))
}

// JEITARegion is the battery temperature zone the charger is operating in.
type JEITARegion uint8

const (
	RegionCold JEITARegion = iota
	RegionCooler
	RegionCool
	RegionNormal
	RegionWarm
	RegionWarmer
	RegionHot
)

var regionNames = [...]string{
	RegionCold:   "COLD",
	RegionCooler: "COOLER",
	RegionCool:   "COOL",
	RegionNormal: "NORMAL",
	RegionWarm:   "WARM",
	RegionWarmer: "WARMER",
	RegionHot:    "HOT",
}

func (r JEITARegion) String() string {
	if int(r) < len(regionNames) {
		return regionNames[r]
	}
	return fmt.Sprintf("JEITARegion(%d)", uint8(r))
}

// Faults is the error-interrupt status of the charging FSM.
// Bit order is the order in which faults are reported.
type Faults uint16

const (
	FaultTBat Faults = 1 << iota
	FaultTDie
	FaultOVP
	FaultTotalTimeout
	FaultCVTimeout
	FaultCCTimeout
	FaultPrechargeTimeout

	FaultAll = FaultTBat | FaultTDie | FaultOVP | FaultTotalTimeout |
		FaultCVTimeout | FaultCCTimeout | FaultPrechargeTimeout
)

var faultNames = []flagName{
	{uint16(FaultTBat), "TBAT"},
	{uint16(FaultTDie), "TDIE"},
	{uint16(FaultOVP), "VBAT_OVP"},
	{uint16(FaultTotalTimeout), "TOTAL_TIMEOUT"},
	{uint16(FaultCVTimeout), "CV_TIMEOUT"},
	{uint16(FaultCCTimeout), "CC_TIMEOUT"},
	{uint16(FaultPrechargeTimeout), "PRECHARGE_TIMEOUT"},
}

func (f Faults) String() string { return formatFlags(uint16(f), faultNames) }

// MarshalJSON encodes the mask as a list of fault names.
func (f Faults) MarshalJSON() ([]byte, error) { return marshalFlags(uint16(f), faultNames) }

// UnmarshalJSON accepts a list of fault names or a raw number.
func (f *Faults) UnmarshalJSON(b []byte) error {
	v, err := unmarshalFlags(b, faultNames)
	*f = Faults(v)
	return err
}

// StateIRQ selects which main-state transitions raise the OK interrupt.
// Bit n corresponds to entering MainState n.
type StateIRQ uint16

// StateIRQAll enables the OK interrupt for every main state.
const StateIRQAll StateIRQ = 1<<(StateError+1) - 1

// IRQBit returns the interrupt mask bit for entering s.
func (s MainState) IRQBit() StateIRQ { return 1 << s }

var stateIRQNames = func() []flagName {
	out := make([]flagName, 0, len(mainStateNames))
	for i, n := range mainStateNames {
		out = append(out, flagName{uint16(1) << i, n})
	}
	return out
}()

func (m StateIRQ) String() string { return formatFlags(uint16(m), stateIRQNames) }

// MarshalJSON encodes the mask as a list of main-state names.
func (m StateIRQ) MarshalJSON() ([]byte, error) { return marshalFlags(uint16(m), stateIRQNames) }

// UnmarshalJSON accepts a list of main-state names or a raw number.
func (m *StateIRQ) UnmarshalJSON(b []byte) error {
	v, err := unmarshalFlags(b, stateIRQNames)
	*m = StateIRQ(v)
	return err
}

// ControlFlags are the charging profile control bits.
type ControlFlags uint16

const (
	CtrlDieTempProt ControlFlags = 1 << iota
	CtrlBatTempProt
	CtrlHaltTimersOnTempProt
	CtrlBatLowTemp
	CtrlResumeFromDieProt
	CtrlResumeFromError
	CtrlJEITA
	CtrlSWLock
)

var controlNames = []flagName{
	{uint16(CtrlDieTempProt), "DIE_TEMP_PROT"},
	{uint16(CtrlBatTempProt), "BAT_TEMP_PROT"},
	{uint16(CtrlHaltTimersOnTempProt), "HALT_TIMERS_ON_TEMP_PROT"},
	{uint16(CtrlBatLowTemp), "BAT_LOW_TEMP"},
	{uint16(CtrlResumeFromDieProt), "RESUME_FROM_DIE_PROT"},
	{uint16(CtrlResumeFromError), "RESUME_FROM_ERROR"},
	{uint16(CtrlJEITA), "JEITA"},
	{uint16(CtrlSWLock), "SW_LOCK"},
}

// Has reports whether all bits in want are set.
func (c ControlFlags) Has(want ControlFlags) bool { return c&want == want }

func (c ControlFlags) String() string { return formatFlags(uint16(c), controlNames) }

// MarshalJSON encodes the flags as a list of names.
func (c ControlFlags) MarshalJSON() ([]byte, error) { return marshalFlags(uint16(c), controlNames) }

// UnmarshalJSON accepts a list of flag names or a raw number.
func (c *ControlFlags) UnmarshalJSON(b []byte) error {
	v, err := unmarshalFlags(b, controlNames)
	*c = ControlFlags(v)
	return err
}

// TBATMonitorMode selects how often the battery temperature is sampled.
type TBATMonitorMode uint8

const (
	TBATMonitorOnce TBATMonitorMode = iota // once per charge cycle
	TBATMonitorPeriodic
	TBATMonitorOff
)

// DetectionStatus is the completion status of the hardware port-detection FSM.
type DetectionStatus uint8

const (
	DetectionCompleted DetectionStatus = 1 << iota
	DetectionSDP
	DetectionCDP
	DetectionDCP
)

// Completed reports whether the detection FSM has finished.
func (s DetectionStatus) Completed() bool { return s&DetectionCompleted != 0 }

// SecondaryResult distinguishes the two high-current port kinds.
type SecondaryResult uint8

const (
	SecondaryCDP SecondaryResult = iota
	SecondaryDCP
)

func (r SecondaryResult) String() string {
	if r == SecondaryDCP {
		return "DCP"
	}
	return "CDP"
}
