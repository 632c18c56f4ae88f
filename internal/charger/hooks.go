package charger

// Hooks are the outbound notification slots. Each is called at most once
// per triggering event, from a consumer goroutine. Nil slots are no-ops.
type Hooks struct {
	HWFSMDisabled     func()
	PreCharging       func()
	Charging          func()
	Charged           func()
	ThermalProtection func()
	Bypassed          func()
	FSMError          func()

	TBatError        func()
	TDieError        func()
	OVPError         func()
	TotalTimeout     func()
	CVTimeout        func()
	CCTimeout        func()
	PrechargeTimeout func()

	OscillationDetected func()
}

// Notification names one hook.
type Notification string

const (
	NotifyHWFSMDisabled     Notification = "HW_FSM_DISABLED"
	NotifyPreCharging       Notification = "PRE_CHARGING"
	NotifyCharging          Notification = "CHARGING"
	NotifyCharged           Notification = "CHARGED"
	NotifyThermalProtection Notification = "THERMAL_PROTECTION"
	NotifyBypassed          Notification = "BYPASSED"
	NotifyFSMError          Notification = "FSM_ERROR"
	NotifyTBatError         Notification = "TBAT_ERROR"
	NotifyTDieError         Notification = "TDIE_ERROR"
	NotifyOVPError          Notification = "OVP_ERROR"
	NotifyTotalTimeout      Notification = "TOTAL_CHARGE_TIMEOUT"
	NotifyCVTimeout         Notification = "CV_CHARGE_TIMEOUT"
	NotifyCCTimeout         Notification = "CC_CHARGE_TIMEOUT"
	NotifyPrechargeTimeout  Notification = "PRE_CHARGE_TIMEOUT"
	NotifyOscillation       Notification = "OSCILLATION_DETECTED"
)

// Notifications lists every notification in hook declaration order.
var Notifications = []Notification{
	NotifyHWFSMDisabled, NotifyPreCharging, NotifyCharging, NotifyCharged,
	NotifyThermalProtection, NotifyBypassed, NotifyFSMError,
	NotifyTBatError, NotifyTDieError, NotifyOVPError,
	NotifyTotalTimeout, NotifyCVTimeout, NotifyCCTimeout, NotifyPrechargeTimeout,
	NotifyOscillation,
}

// NotifyAll returns Hooks whose every slot reports its Notification to fn.
func NotifyAll(fn func(Notification)) Hooks {
	on := func(n Notification) func() { return func() { fn(n) } }
	return Hooks{
		HWFSMDisabled:       on(NotifyHWFSMDisabled),
		PreCharging:         on(NotifyPreCharging),
		Charging:            on(NotifyCharging),
		Charged:             on(NotifyCharged),
		ThermalProtection:   on(NotifyThermalProtection),
		Bypassed:            on(NotifyBypassed),
		FSMError:            on(NotifyFSMError),
		TBatError:           on(NotifyTBatError),
		TDieError:           on(NotifyTDieError),
		OVPError:            on(NotifyOVPError),
		TotalTimeout:        on(NotifyTotalTimeout),
		CVTimeout:           on(NotifyCVTimeout),
		CCTimeout:           on(NotifyCCTimeout),
		PrechargeTimeout:    on(NotifyPrechargeTimeout),
		OscillationDetected: on(NotifyOscillation),
	}
}

func noop() {}

func orNoop(f func()) func() {
	if f == nil {
		return noop
	}
	return f
}

func (h Hooks) withDefaults() Hooks {
	for _, p := range h.slots() {
		*p = orNoop(*p)
	}
	return h
}

func (h *Hooks) slots() []*func() {
	return []*func(){
		&h.HWFSMDisabled, &h.PreCharging, &h.Charging, &h.Charged,
		&h.ThermalProtection, &h.Bypassed, &h.FSMError,
		&h.TBatError, &h.TDieError, &h.OVPError,
		&h.TotalTimeout, &h.CVTimeout, &h.CCTimeout, &h.PrechargeTimeout,
		&h.OscillationDetected,
	}
}
