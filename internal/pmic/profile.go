package pmic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sweeney/usb-charger/internal/mathx"
)

// ErrInvalidProfile is returned (wrapped) when a charging profile fails validation.
var ErrInvalidProfile = errors.New("invalid charging profile")

// Hardware limits of the charging engine.
const (
	MinVoltage VoltageLevel = 2900
	MaxVoltage VoltageLevel = 4900

	MinCurrent CurrentLevel = 5
	MaxCurrent CurrentLevel = 720

	MinPrechargeCurrent CurrentLevel = 1
	MaxPrechargeCurrent CurrentLevel = 72

	MinEOCPercent uint8 = 6
	MaxEOCPercent uint8 = 40

	MinBatTemp Temperature = -10
	MaxBatTemp Temperature = 60

	MaxDieTemp Temperature = 130
)

// Zone holds the parameters the JEITA FSM applies when the battery
// temperature is inside one zone.
type Zone struct {
	OVP                 VoltageLevel `json:"ovp_mv"`
	Replenish           VoltageLevel `json:"replenish_mv"`
	PrechargedThreshold VoltageLevel `json:"precharged_threshold_mv"`
	CV                  VoltageLevel `json:"cv_mv"`
	PrechargeCC         CurrentLevel `json:"precharge_cc_ma"`
	CC                  CurrentLevel `json:"cc_ma"`
}

// Zones are the per-region overrides. They are only written when the
// profile has CtrlJEITA set.
type Zones struct {
	Warm   Zone `json:"warm"`
	Cool   Zone `json:"cool"`
	Cooler Zone `json:"cooler"`
	Warmer Zone `json:"warmer"`
}

// BatTempLimits are the battery temperature thresholds between regions.
type BatTempLimits struct {
	Cold   Temperature `json:"cold_c"`
	Cooler Temperature `json:"cooler_c"`
	Cool   Temperature `json:"cool_c"`
	Warm   Temperature `json:"warm_c"`
	Warmer Temperature `json:"warmer_c"`
	Hot    Temperature `json:"hot_c"`
}

// Timeouts are the per-phase charge time limits, in seconds.
type Timeouts struct {
	Precharge uint16 `json:"precharge_s"`
	CC        uint16 `json:"cc_s"`
	CV        uint16 `json:"cv_s"`
	Total     uint16 `json:"total_s"`
}

// FineTuning holds optional comparator and interval settings.
type FineTuning struct {
	VBATSettleUs    uint16 `json:"vbat_settle_us"`
	OVPSettleUs     uint16 `json:"ovp_settle_us"`
	TDieSettleUs    uint16 `json:"tdie_settle_us"`
	TBatSettleUs    uint16 `json:"tbat_settle_us"`
	TBatHotSettleUs uint16 `json:"tbat_hot_settle_us"`
	TBatMonitorMs   uint16 `json:"tbat_monitor_ms"`
	PowerUpMs       uint16 `json:"power_up_ms"`
	EOCIntervalUs   uint16 `json:"eoc_interval_us"`
}

// Profile is the charging profile programmed into the engine. It is
// loaded once and must not be modified afterwards.
type Profile struct {
	Flags       ControlFlags    `json:"flags"`
	TBATMonitor TBATMonitorMode `json:"tbat_monitor"`

	OKIRQMask    StateIRQ `json:"ok_irq_mask"`
	ErrorIRQMask Faults   `json:"error_irq_mask"`

	OVP                 VoltageLevel `json:"ovp_mv"`
	Replenish           VoltageLevel `json:"replenish_mv"`
	PrechargedThreshold VoltageLevel `json:"precharged_threshold_mv"`
	CV                  VoltageLevel `json:"cv_mv"`

	EOCPercent  uint8        `json:"eoc_percent"`
	PrechargeCC CurrentLevel `json:"precharge_cc_ma"`
	CC          CurrentLevel `json:"cc_ma"`

	Zones Zones `json:"zones"`

	DieTempLimit Temperature   `json:"die_temp_limit_c"`
	BatTemp      BatTempLimits `json:"bat_temp"`

	Timeouts Timeouts `json:"timeouts"`

	FineTuning *FineTuning `json:"fine_tuning,omitempty"`
}

// DefaultProfile returns a conservative single-cell Li-ion profile.
func DefaultProfile() *Profile {
	return &Profile{
		Flags:       CtrlDieTempProt | CtrlBatTempProt | CtrlResumeFromDieProt | CtrlResumeFromError | CtrlJEITA,
		TBATMonitor: TBATMonitorPeriodic,

		OKIRQMask:    StateIRQAll,
		ErrorIRQMask: FaultAll,

		OVP:                 4600,
		Replenish:           4100,
		PrechargedThreshold: 3000,
		CV:                  4200,

		EOCPercent:  10,
		PrechargeCC: 24,
		CC:          240,

		Zones: Zones{
			Warm:   Zone{OVP: 4600, Replenish: 3950, PrechargedThreshold: 3000, CV: 4100, PrechargeCC: 24, CC: 240},
			Cool:   Zone{OVP: 4600, Replenish: 4100, PrechargedThreshold: 3000, CV: 4200, PrechargeCC: 12, CC: 120},
			Cooler: Zone{OVP: 4600, Replenish: 3950, PrechargedThreshold: 3000, CV: 4100, PrechargeCC: 6, CC: 60},
			Warmer: Zone{OVP: 4600, Replenish: 3900, PrechargedThreshold: 3000, CV: 4000, PrechargeCC: 12, CC: 120},
		},

		DieTempLimit: 90,
		BatTemp: BatTempLimits{
			Cold:   0,
			Cooler: 5,
			Cool:   10,
			Warm:   45,
			Warmer: 50,
			Hot:    55,
		},

		Timeouts: Timeouts{
			Precharge: 1800,
			CC:        10800,
			CV:        10800,
			Total:     21600,
		},
	}
}

// LoadProfile decodes a JSON profile. Fields absent from the input keep
// their DefaultProfile values. The result is validated.
func LoadProfile(r io.Reader) (*Profile, error) {
	p := DefaultProfile()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks every field against the engine's limits.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrInvalidProfile)
	}
	if p.TBATMonitor > TBATMonitorOff {
		return fmt.Errorf("%w: tbat monitor mode %d", ErrInvalidProfile, p.TBATMonitor)
	}
	if p.OKIRQMask&^StateIRQAll != 0 {
		return fmt.Errorf("%w: ok irq mask 0x%x", ErrInvalidProfile, uint16(p.OKIRQMask))
	}
	if p.ErrorIRQMask&^FaultAll != 0 {
		return fmt.Errorf("%w: error irq mask 0x%x", ErrInvalidProfile, uint16(p.ErrorIRQMask))
	}
	if err := checkLevels("", p.OVP, p.Replenish, p.PrechargedThreshold, p.CV, p.PrechargeCC, p.CC); err != nil {
		return err
	}
	if !mathx.Between(p.EOCPercent, MinEOCPercent, MaxEOCPercent) {
		return fmt.Errorf("%w: eoc threshold %d%% outside [%d, %d]", ErrInvalidProfile, p.EOCPercent, MinEOCPercent, MaxEOCPercent)
	}
	if p.Flags.Has(CtrlJEITA) {
		zones := []struct {
			name string
			z    Zone
		}{
			{"warm", p.Zones.Warm},
			{"cool", p.Zones.Cool},
			{"cooler", p.Zones.Cooler},
			{"warmer", p.Zones.Warmer},
		}
		for _, zz := range zones {
			z := zz.z
			if err := checkLevels(zz.name+" ", z.OVP, z.Replenish, z.PrechargedThreshold, z.CV, z.PrechargeCC, z.CC); err != nil {
				return err
			}
		}
	}
	if !mathx.Between(p.DieTempLimit, 1, MaxDieTemp) {
		return fmt.Errorf("%w: die temperature limit %dC outside [1, %d]", ErrInvalidProfile, p.DieTempLimit, MaxDieTemp)
	}
	bt := p.BatTemp
	order := []Temperature{bt.Cold, bt.Cooler, bt.Cool, bt.Warm, bt.Warmer, bt.Hot}
	for i, t := range order {
		if !mathx.Between(t, MinBatTemp, MaxBatTemp) {
			return fmt.Errorf("%w: battery temperature limit %dC outside [%d, %d]", ErrInvalidProfile, t, MinBatTemp, MaxBatTemp)
		}
		if i > 0 && t < order[i-1] {
			return fmt.Errorf("%w: battery temperature limits not ascending", ErrInvalidProfile)
		}
	}
	return nil
}

func checkLevels(zone string, ovp, replenish, prechargedThr, cv VoltageLevel, prechargeCC, cc CurrentLevel) error {
	for _, v := range []struct {
		name string
		mv   VoltageLevel
	}{
		{"ovp", ovp},
		{"replenish", replenish},
		{"precharged threshold", prechargedThr},
		{"cv", cv},
	} {
		if !mathx.Between(v.mv, MinVoltage, MaxVoltage) {
			return fmt.Errorf("%w: %s%s %d mV outside [%d, %d]", ErrInvalidProfile, zone, v.name, v.mv, MinVoltage, MaxVoltage)
		}
	}
	if cv > ovp {
		return fmt.Errorf("%w: %scv %d mV above ovp %d mV", ErrInvalidProfile, zone, cv, ovp)
	}
	if replenish >= cv {
		return fmt.Errorf("%w: %sreplenish %d mV not below cv %d mV", ErrInvalidProfile, zone, replenish, cv)
	}
	if prechargedThr >= cv {
		return fmt.Errorf("%w: %sprecharged threshold %d mV not below cv %d mV", ErrInvalidProfile, zone, prechargedThr, cv)
	}
	if !mathx.Between(cc, MinCurrent, MaxCurrent) {
		return fmt.Errorf("%w: %scc %d mA outside [%d, %d]", ErrInvalidProfile, zone, cc, MinCurrent, MaxCurrent)
	}
	if !mathx.Between(prechargeCC, MinPrechargeCurrent, MaxPrechargeCurrent) {
		return fmt.Errorf("%w: %sprecharge cc %d mA outside [%d, %d]", ErrInvalidProfile, zone, prechargeCC, MinPrechargeCurrent, MaxPrechargeCurrent)
	}
	return nil
}
