package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/usb-charger/internal/charger"
	"github.com/sweeney/usb-charger/internal/pmic"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{TickMs: 10, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.TickMs != 10 {
		t.Errorf("Config.TickMs: got %d, want 10", snap.Config.TickMs)
	}
	if snap.Charger.Attached {
		t.Error("expected detached initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if len(snap.Notifications) != 0 {
		t.Errorf("expected no notifications, got %v", snap.Notifications)
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(charger.Snapshot{Attached: true, Class: charger.ClassCDP, Charging: true, AttachCycles: 2})

	snap := tr.Snapshot()
	if !snap.Charger.Attached || !snap.Charger.Charging {
		t.Errorf("charger: got %+v", snap.Charger)
	}
	if snap.Charger.Class != charger.ClassCDP {
		t.Errorf("Class: got %v, want CDP", snap.Charger.Class)
	}
	if snap.Charger.AttachCycles != 2 {
		t.Errorf("AttachCycles: got %d, want 2", snap.Charger.AttachCycles)
	}
}

func TestNotify(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Notify(charger.NotifyCharging)
	tr.Notify(charger.NotifyCharging)
	tr.Notify(charger.NotifyOVPError)

	snap := tr.Snapshot()
	if snap.Notifications[charger.NotifyCharging] != 2 {
		t.Errorf("CHARGING: got %d, want 2", snap.Notifications[charger.NotifyCharging])
	}
	if snap.Notifications[charger.NotifyOVPError] != 1 {
		t.Errorf("OVP_ERROR: got %d, want 1", snap.Notifications[charger.NotifyOVPError])
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(charger.Snapshot{Class: charger.ClassSDP})
	tr.Notify(charger.NotifyCharged)

	snap1 := tr.Snapshot()

	tr.Update(charger.Snapshot{Class: charger.ClassDCP})
	tr.Notify(charger.NotifyCharged)

	if snap1.Charger.Class != charger.ClassSDP {
		t.Error("snapshot should be a copy; class was modified")
	}
	if snap1.Notifications[charger.NotifyCharged] != 1 {
		t.Error("snapshot should be a copy; notification counts were modified")
	}
}

func testSnapshot() Snapshot {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return Snapshot{
		Charger: charger.Snapshot{
			Attached:        true,
			State:           charger.StateIdle,
			Class:           charger.ClassDCP,
			Charging:        true,
			Observed:        true,
			Observation:     charger.Observation{State: pmic.StateCV, Region: pmic.RegionWarm},
			AttachCycles:    3,
			Classifications: 3,
		},
		Notifications: map[charger.Notification]int{charger.NotifyCharging: 4},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{TickMs: 10, OscCheck: true, OscThreshold: 10, Broker: "tcp://localhost:1883", HTTPPort: ":80"},
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(testSnapshot())

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if !s.Port.Attached || !s.Port.Charging {
		t.Errorf("Port: got %+v", s.Port)
	}
	if s.Port.Class != "DCP" {
		t.Errorf("Port.Class: got %q, want DCP", s.Port.Class)
	}
	if s.Port.State != "IDLE" {
		t.Errorf("Port.State: got %q, want IDLE", s.Port.State)
	}
	if s.FSM == nil || s.FSM.State != "CV" || s.FSM.Region != "WARM" {
		t.Errorf("FSM: got %+v", s.FSM)
	}
	if s.Notifications["CHARGING"] != 4 {
		t.Errorf("Notifications: got %v", s.Notifications)
	}
	if s.Counters.AttachCycles != 3 {
		t.Errorf("Counters.AttachCycles: got %d, want 3", s.Counters.AttachCycles)
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if !s.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if !s.Config.OscCheck || s.Config.OscThreshold != 10 {
		t.Errorf("Config: got %+v", s.Config)
	}
	// Event and Reason should be omitted
	if s.Event != "" || s.Reason != "" {
		t.Errorf("expected empty Event/Reason for web format, got %q/%q", s.Event, s.Reason)
	}
}

func TestFormatJSONBeforeAttach(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Port.Class != "NONE" {
		t.Errorf("Port.Class: got %q, want NONE", parsed.Status.Port.Class)
	}
	if parsed.Status.FSM != nil {
		t.Errorf("FSM should be omitted before the first observation, got %+v", parsed.Status.FSM)
	}
}

func TestFormatPortJSON(t *testing.T) {
	snap := testSnapshot()
	data := FormatPortJSON(snap)

	var parsed PortStatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !parsed.Port.Attached || parsed.Port.Class != "DCP" {
		t.Errorf("Port: got %+v", parsed.Port)
	}
	if parsed.FSM == nil || parsed.FSM.State != "CV" {
		t.Errorf("FSM: got %+v", parsed.FSM)
	}
	if want := snap.Now.UTC().Format(time.RFC3339); parsed.Timestamp != want {
		t.Errorf("Timestamp: got %q, want %q", parsed.Timestamp, want)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"notifications", "config", "mqtt"} {
		if _, ok := raw[key]; ok {
			t.Errorf("port document carries %q", key)
		}
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tests := []struct {
		event, reason string
	}{
		{"HEARTBEAT", ""},
		{"STARTUP", ""},
		{"SHUTDOWN", "SIGTERM"},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			data := FormatStatusEvent(testSnapshot(), tt.event, tt.reason)

			var raw map[string]interface{}
			if err := json.Unmarshal(data, &raw); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			status := raw["status"].(map[string]interface{})
			if status["event"] != tt.event {
				t.Errorf("event: got %v, want %s", status["event"], tt.event)
			}
			_, hasReason := status["reason"]
			if hasReason != (tt.reason != "") {
				t.Errorf("reason present = %v for reason %q", hasReason, tt.reason)
			}
		})
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := testSnapshot()
	snap.Network = &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(charger.Snapshot{AttachCycles: uint64(i)})
			tr.Notify(charger.NotifyCharging)
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
