// Package mqtt publishes charger notifications and daemon lifecycle events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/usb-charger/internal/charger"
)

// Topic is the MQTT topic for charger notifications.
const Topic = "power/usb-charger/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "power/usb-charger/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a charger notification to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Event is one charger notification with the coordinator state it was
// raised in.
type Event struct {
	Timestamp    time.Time
	Notification charger.Notification
	Port         charger.PortClass
	Attached     bool
	Observation  *charger.Observation
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Charger ChargerPayload `json:"charger"`
}

// ChargerPayload contains the notification details.
type ChargerPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Attached  bool   `json:"attached"`
	Port      string `json:"port"`
	State     string `json:"state,omitempty"`
	Region    string `json:"region,omitempty"`
	VBATLow   bool   `json:"vbat_low,omitempty"`
}

// FormatPayload creates the JSON payload for a charger notification.
func FormatPayload(event Event) ([]byte, error) {
	p := ChargerPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Notification),
		Attached:  event.Attached,
		Port:      event.Port.String(),
	}
	if o := event.Observation; o != nil {
		p.State = o.State.String()
		p.Region = o.Region.String()
		p.VBATLow = o.VBATLow
	}
	return json.Marshal(Payload{Charger: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
