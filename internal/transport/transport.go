// Package transport defines the boundary to the external session-transport
// library. The orchestration core consumes connection-state and
// credential-update streams and drives send/logout/pairing primitives;
// handshake cryptography stays on the far side of this interface.
package transport

import "context"

// EventKind identifies one connection-state transition.
type EventKind int

const (
	KindConnecting EventKind = iota
	KindOpen
	KindClose
	KindQR
)

func (k EventKind) String() string {
	switch k {
	case KindConnecting:
		return "connecting"
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	case KindQR:
		return "qr"
	default:
		return "unknown"
	}
}

// CloseCause classifies a close event for retry/fatal/rebuild decisions.
type CloseCause int

const (
	CauseUnknown CloseCause = iota
	CauseLoggedOut
	CauseRestartRequired
	CauseTimedOut
	CauseOther
)

func (c CloseCause) String() string {
	switch c {
	case CauseLoggedOut:
		return "logged_out"
	case CauseRestartRequired:
		return "restart_required"
	case CauseTimedOut:
		return "timed_out"
	case CauseOther:
		return "other"
	default:
		return "unknown"
	}
}

// Retryable reports whether the cause warrants an in-place reconnect.
func (c CloseCause) Retryable() bool {
	return c == CauseRestartRequired || c == CauseTimedOut
}

// ConnectionEvent is one entry on a transport's state stream.
type ConnectionEvent struct {
	Kind  EventKind
	Cause CloseCause // meaningful only for KindClose
	QR    string     // meaningful only for KindQR
}

// CredentialUpdate carries an opaque refreshed credential bundle.
type CredentialUpdate struct {
	Bundle []byte
}

// Transport is one live connection for one identity.
type Transport interface {
	// Events delivers connection-state transitions until the transport
	// terminates; the channel is closed when no further events will arrive.
	Events() <-chan ConnectionEvent
	// CredentialUpdates delivers refreshed credential bundles to persist.
	CredentialUpdates() <-chan CredentialUpdate
	// RequestPairingCode asks the remote service for a pairing code bound
	// to the given number.
	RequestPairingCode(ctx context.Context, number string) (string, error)
	// Send delivers one opaque payload to a target address.
	Send(ctx context.Context, target string, payload []byte) error
	// Logout invalidates the remote device registration.
	Logout(ctx context.Context) error
	// Close tears the connection down without touching remote state.
	Close() error
}

// Dialer opens transports from stored credentials.
type Dialer interface {
	Dial(ctx context.Context, credentialDir, number string) (Transport, error)
}
