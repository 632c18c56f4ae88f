package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/usb-charger/internal/charger"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Port          PortJSON       `json:"port"`
	FSM           *FSMJSON       `json:"fsm,omitempty"`
	Notifications map[string]int `json:"notifications"`
	Counters      CountersJSON   `json:"counters"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// PortJSON reports the attach session.
type PortJSON struct {
	Attached   bool   `json:"attached"`
	State      string `json:"state"`
	Class      string `json:"class"`
	Enumerated bool   `json:"enumerated"`
	Charging   bool   `json:"charging"`
	Suspended  bool   `json:"suspended"`
	Halted     bool   `json:"halted"`
}

// FSMJSON is the last hardware FSM observation.
type FSMJSON struct {
	State   string `json:"state"`
	Region  string `json:"region"`
	VBATLow bool   `json:"vbat_low"`
}

// CountersJSON holds coordinator counters.
type CountersJSON struct {
	AttachCycles        uint64 `json:"attach_cycles"`
	Classifications     uint64 `json:"classifications"`
	Oscillations        uint64 `json:"oscillations"`
	DroppedCommands     uint64 `json:"dropped_commands"`
	DroppedObservations uint64 `json:"dropped_observations"`
	DroppedFaults       uint64 `json:"dropped_faults"`
	RelayErrors         uint64 `json:"relay_errors"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	I2CBus       string `json:"i2c_bus"`
	UDC          string `json:"udc,omitempty"`
	TickMs       int64  `json:"tick_ms"`
	HWDetect     bool   `json:"hw_detect"`
	OscCheck     bool   `json:"osc_check"`
	OscWindowMs  int64  `json:"osc_window_ms"`
	OscThreshold int    `json:"osc_threshold"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	ProfileCCmA  int    `json:"profile_cc_ma"`
	ProfileCVmV  int    `json:"profile_cv_mv"`
	Broker       string `json:"broker"`
	HTTPPort     string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Charger
	class := "NONE"
	if c.Class != charger.ClassUnknown {
		class = c.Class.String()
	}

	inner := StatusInner{
		Port: PortJSON{
			Attached:   c.Attached,
			State:      c.State.String(),
			Class:      class,
			Enumerated: c.Enumerated,
			Charging:   c.Charging,
			Suspended:  c.Suspended,
			Halted:     c.Halted,
		},
		Notifications: make(map[string]int, len(snap.Notifications)),
		Counters: CountersJSON{
			AttachCycles:        c.AttachCycles,
			Classifications:     c.Classifications,
			Oscillations:        c.Oscillations,
			DroppedCommands:     c.DroppedCommands,
			DroppedObservations: c.DroppedObservations,
			DroppedFaults:       c.DroppedFaults,
			RelayErrors:         c.RelayErrors,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			I2CBus:       snap.Config.I2CBus,
			UDC:          snap.Config.UDC,
			TickMs:       snap.Config.TickMs,
			HWDetect:     snap.Config.HWDetect,
			OscCheck:     snap.Config.OscCheck,
			OscWindowMs:  snap.Config.OscWindowMs,
			OscThreshold: snap.Config.OscThreshold,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			ProfileCCmA:  snap.Config.ProfileCCmA,
			ProfileCVmV:  snap.Config.ProfileCVmV,
			Broker:       snap.Config.Broker,
			HTTPPort:     snap.Config.HTTPPort,
		},
	}
	for n, v := range snap.Notifications {
		inner.Notifications[string(n)] = v
	}
	if c.Observed {
		inner.FSM = &FSMJSON{
			State:   c.Observation.State.String(),
			Region:  c.Observation.Region.String(),
			VBATLow: c.Observation.VBATLow,
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// PortStatusJSON is the port-only document served at /port.json.
type PortStatusJSON struct {
	Port      PortJSON `json:"port"`
	FSM       *FSMJSON `json:"fsm,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// FormatPortJSON returns the attach session and the last FSM observation.
func FormatPortJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	data, _ := json.MarshalIndent(PortStatusJSON{
		Port:      inner.Port,
		FSM:       inner.FSM,
		Timestamp: inner.Timestamp,
	}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
