// Package status provides a thread-safe status tracker for the usb-charger daemon.
// It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/usb-charger/internal/charger"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	I2CBus       string
	UDC          string
	TickMs       int64
	HWDetect     bool
	OscCheck     bool
	OscWindowMs  int64
	OscThreshold int
	HeartbeatMs  int64
	ProfileCCmA  int
	ProfileCVmV  int
	Broker       string
	HTTPPort     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Charger       charger.Snapshot
	Notifications map[charger.Notification]int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:     startTime,
			Config:        cfg,
			Notifications: make(map[charger.Notification]int),
		},
		now: time.Now,
	}
}

// Update records the coordinator's latest state.
func (t *Tracker) Update(c charger.Snapshot) {
	t.mu.Lock()
	t.snap.Charger = c
	t.mu.Unlock()
}

// Notify counts one outbound notification. It is safe to call from a
// charger hook.
func (t *Tracker) Notify(n charger.Notification) {
	t.mu.Lock()
	t.snap.Notifications[n]++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	counts := make(map[charger.Notification]int, len(s.Notifications))
	for k, v := range s.Notifications {
		counts[k] = v
	}
	t.mu.RUnlock()
	s.Notifications = counts
	s.Now = t.now()
	return s
}
