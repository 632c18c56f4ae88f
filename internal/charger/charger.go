// Package charger coordinates USB charger port detection with the hardware
// charging engine.
//
// Interrupt relays (Attach, Detach, OKInterrupt, ...) never block and run
// no state-machine logic; they post typed messages to one of three
// goroutines started by Run:
//
//   - the coordinator loop, which owns the attach session, the port
//     detection strategy and the charging Supervisor;
//   - the state-transition consumer, which turns hardware FSM observations
//     into hooks and owns the oscillation safety net;
//   - the error consumer, which fans fault bits out into one hook each.
package charger

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/usb-charger/internal/pmic"
)

var (
	// ErrNotProgrammed is returned when a current limit is applied before
	// the profile has been programmed.
	ErrNotProgrammed = errors.New("charger: profile not programmed")

	// ErrAlreadyRunning is returned by Run when the coordinator is already running.
	ErrAlreadyRunning = errors.New("charger: coordinator already running")
)

// PortClass is the result of port detection.
type PortClass uint8

const (
	ClassUnknown PortClass = iota
	ClassSDP
	ClassCDP
	ClassDCP
)

func (c PortClass) String() string {
	switch c {
	case ClassSDP:
		return "SDP"
	case ClassCDP:
		return "CDP"
	case ClassDCP:
		return "DCP"
	}
	return "UNKNOWN"
}

// DetectState is the port-detection state of the current session.
type DetectState uint8

const (
	StateIdle DetectState = iota
	StateAttached
	StateDCD
	StatePrimary
	StateSecondary
	StateSDP
	StateHWDetect
)

var detectStateNames = [...]string{
	StateIdle:      "IDLE",
	StateAttached:  "ATTACHED",
	StateDCD:       "DCD",
	StatePrimary:   "PRIMARY",
	StateSecondary: "SECONDARY",
	StateSDP:       "SDP",
	StateHWDetect:  "HW_DETECT",
}

func (s DetectState) String() string {
	if int(s) < len(detectStateNames) {
		return detectStateNames[s]
	}
	return fmt.Sprintf("DetectState(%d)", uint8(s))
}

// Default tunables.
const (
	DefaultTickPeriod           = 10 * time.Millisecond
	DefaultDCDDebounceTicks     = 10
	DefaultDCDTimeoutTicks      = 60
	DefaultSettleTicks          = 5
	DefaultSDPSettleTicks       = 1
	DefaultSDPCurrentLimit      = pmic.CurrentLevel(90)
	DefaultSDPClampThreshold    = pmic.CurrentLevel(100)
	DefaultQueueSize            = 16
	DefaultOscillationWindow    = time.Second
	DefaultOscillationThreshold = 10
)

// Config holds the coordinator tunables. Zero numeric fields take the
// package defaults.
type Config struct {
	TickPeriod       time.Duration
	DCDDebounceTicks int
	DCDTimeoutTicks  int
	// SettleTicks is the wait before reading primary and secondary results.
	SettleTicks    int
	SDPSettleTicks int

	// A programmed CC at or above SDPClampThreshold is lowered to
	// SDPCurrentLimit on a standard downstream port until enumeration.
	SDPCurrentLimit   pmic.CurrentLevel
	SDPClampThreshold pmic.CurrentLevel

	QueueSize int

	// OscillationCheck enables the pre-charge/CC oscillation safety net.
	// It is a heuristic: a burst of more than OscillationThreshold OK
	// interrupts within OscillationWindow after a regression from CC to
	// pre-charge is taken as charger oscillation.
	OscillationCheck     bool
	OscillationWindow    time.Duration
	OscillationThreshold int

	Logger *log.Logger
}

// DefaultConfig returns the default tunables with the oscillation check enabled.
func DefaultConfig() Config {
	return Config{
		TickPeriod:           DefaultTickPeriod,
		DCDDebounceTicks:     DefaultDCDDebounceTicks,
		DCDTimeoutTicks:      DefaultDCDTimeoutTicks,
		SettleTicks:          DefaultSettleTicks,
		SDPSettleTicks:       DefaultSDPSettleTicks,
		SDPCurrentLimit:      DefaultSDPCurrentLimit,
		SDPClampThreshold:    DefaultSDPClampThreshold,
		QueueSize:            DefaultQueueSize,
		OscillationCheck:     true,
		OscillationWindow:    DefaultOscillationWindow,
		OscillationThreshold: DefaultOscillationThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickPeriod <= 0 {
		c.TickPeriod = d.TickPeriod
	}
	if c.DCDDebounceTicks <= 0 {
		c.DCDDebounceTicks = d.DCDDebounceTicks
	}
	if c.DCDTimeoutTicks <= 0 {
		c.DCDTimeoutTicks = d.DCDTimeoutTicks
	}
	if c.SettleTicks <= 0 {
		c.SettleTicks = d.SettleTicks
	}
	if c.SDPSettleTicks <= 0 {
		c.SDPSettleTicks = d.SDPSettleTicks
	}
	if c.SDPCurrentLimit == 0 {
		c.SDPCurrentLimit = d.SDPCurrentLimit
	}
	if c.SDPClampThreshold == 0 {
		c.SDPClampThreshold = d.SDPClampThreshold
	}
	if c.QueueSize < 2 {
		c.QueueSize = d.QueueSize
	}
	if c.OscillationWindow <= 0 {
		c.OscillationWindow = d.OscillationWindow
	}
	if c.OscillationThreshold <= 0 {
		c.OscillationThreshold = d.OscillationThreshold
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// USB is the slice of the USB stack the coordinator drives.
type USB interface {
	// FinalizeAttach releases the device for enumeration by the host.
	FinalizeAttach() error
}

// USBFunc adapts a plain function to USB.
type USBFunc func() error

func (f USBFunc) FinalizeAttach() error { return f() }

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Engine   pmic.Engine
	Detector pmic.PortDetector
	// FSM selects hardware port detection when non-nil.
	FSM pmic.DetectionFSM
	// USB may be nil when the device never enumerates.
	USB     USB
	Profile *pmic.Profile
	Hooks   Hooks

	// Ticker drives software detection. Nil uses a time.Ticker.
	Ticker TickSource
	// AfterFunc schedules the oscillation verdict. Nil uses time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)
}

// Observation is one hardware FSM sample taken by the OK interrupt relay.
type Observation struct {
	State   pmic.MainState
	Region  pmic.JEITARegion
	VBATLow bool
}

// Snapshot is a point-in-time view of the coordinator. It is a value type.
type Snapshot struct {
	Attached   bool
	State      DetectState
	Class      PortClass // last classification, kept across detach
	Enumerated bool
	Charging   bool
	Suspended  bool
	Halted     bool // charging stopped by the oscillation net until detach

	Observed    bool
	Observation Observation

	AttachCycles    uint64
	Classifications uint64
	Oscillations    uint64

	DroppedCommands     uint64
	DroppedObservations uint64
	DroppedFaults       uint64
	RelayErrors         uint64
}
