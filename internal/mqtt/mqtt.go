// Package mqtt publishes acceptor events to a broker, with abstraction for
// testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/bill-acceptor/internal/ledger"
)

// Topic is the MQTT topic for accepted-note events.
const Topic = "cash/acceptor/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "cash/acceptor/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishAccepted sends one accepted-note event to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishAccepted(ev ledger.AcceptedEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // "STARTUP", "SHUTDOWN"
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// EventPayload is the wire shape of an accepted-note event.
type EventPayload struct {
	Event     string  `json:"event"`
	Timestamp string  `json:"timestamp"`
	Channel   int     `json:"channel"`
	Value     int     `json:"value"`
	PulseMs   float64 `json:"pulse_ms"`
}

// FormatEventPayload creates the JSON payload for an accepted-note event.
func FormatEventPayload(ev ledger.AcceptedEvent) ([]byte, error) {
	return json.Marshal(EventPayload{
		Event:     "bill_accepted",
		Timestamp: ev.Time.UTC().Format(time.RFC3339),
		Channel:   ev.Channel,
		Value:     ev.Value,
		PulseMs:   float64(ev.Width) / float64(time.Millisecond),
	})
}

// SystemPayload is the wire shape of a plain system event.
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
// If event.RawPayload is set, it is returned directly (used for payloads
// carrying a full ledger snapshot).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
