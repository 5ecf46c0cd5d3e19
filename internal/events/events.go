// Package events fans lifecycle notifications out to per-tenant observers.
// Delivery is best-effort and at-most-once per observer connection; a slow
// or dead sink is unregistered, never waited on.
package events

// Event is one JSON-shaped lifecycle notice for a tenant's live sink.
type Event struct {
	Type         string   `json:"type"`
	Message      string   `json:"message,omitempty"`
	Number       string   `json:"number,omitempty"`
	Status       string   `json:"status,omitempty"`
	Code         string   `json:"code,omitempty"`
	QR           string   `json:"qr,omitempty"`
	AttemptID    string   `json:"attempt_id,omitempty"`
	Instructions []string `json:"instructions,omitempty"`
}

// Event types mirrored on the wire.
const (
	TypeConnected   = "connected"
	TypeStatus      = "status"
	TypeQR          = "qr"
	TypePairingCode = "pairing_code"
	TypeSuccess     = "success"
	TypeError       = "error"
	TypeWarning     = "warning"
)

// Sink is one tenant's long-lived observer channel.
type Sink interface {
	// WriteEvent serializes and delivers one event. An error marks the
	// sink dead; the publisher unregisters it and never retries.
	WriteEvent(Event) error
	// KeepAlive writes a liveness probe to detect dead connections.
	KeepAlive() error
}
