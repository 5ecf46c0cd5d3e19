// Package transporttest provides a scriptable in-memory transport for
// exercising the lifecycle driver and its supervisors without a real
// protocol connection.
package transporttest

import (
	"context"
	"sync"

	"github.com/okynn/senderctl/internal/transport"
)

// Fake is a controllable transport. Tests push connection events through
// Emit and observe the primitives the orchestrator invoked.
type Fake struct {
	events chan transport.ConnectionEvent
	creds  chan transport.CredentialUpdate

	PairingCode string
	PairingErr  error

	mu              sync.Mutex
	closed          bool
	loggedOut       bool
	pairingRequests []string
	sent            []SentPayload
}

// SentPayload records one Send invocation.
type SentPayload struct {
	Target  string
	Payload []byte
}

func New() *Fake {
	return &Fake{
		events: make(chan transport.ConnectionEvent, 16),
		creds:  make(chan transport.CredentialUpdate, 16),
	}
}

// Emit queues one connection event for the consumer loop.
func (f *Fake) Emit(ev transport.ConnectionEvent) {
	f.events <- ev
}

// EmitCredentials queues one credential update.
func (f *Fake) EmitCredentials(bundle []byte) {
	f.creds <- transport.CredentialUpdate{Bundle: bundle}
}

// EndStream signals that no further connection events will arrive.
func (f *Fake) EndStream() {
	close(f.events)
}

func (f *Fake) Events() <-chan transport.ConnectionEvent {
	return f.events
}

func (f *Fake) CredentialUpdates() <-chan transport.CredentialUpdate {
	return f.creds
}

func (f *Fake) RequestPairingCode(_ context.Context, number string) (string, error) {
	f.mu.Lock()
	f.pairingRequests = append(f.pairingRequests, number)
	f.mu.Unlock()
	if f.PairingErr != nil {
		return "", f.PairingErr
	}
	if f.PairingCode != "" {
		return f.PairingCode, nil
	}
	return "ABCDEFGH", nil
}

func (f *Fake) Send(_ context.Context, target string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentPayload{Target: target, Payload: payload})
	return nil
}

func (f *Fake) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// LoggedOut reports whether Logout was called.
func (f *Fake) LoggedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

// PairingRequests returns the numbers pairing codes were requested for.
func (f *Fake) PairingRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.pairingRequests))
	copy(out, f.pairingRequests)
	return out
}

// Sent returns recorded Send invocations.
func (f *Fake) Sent() []SentPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentPayload, len(f.sent))
	copy(out, f.sent)
	return out
}

// DialRecord captures one Dial invocation.
type DialRecord struct {
	CredentialDir string
	Number        string
}

// Dialer hands out fakes per Dial call. OnDial, when set, decides the
// transport (or error) for each call; otherwise a fresh Fake is returned.
type Dialer struct {
	OnDial func(credentialDir, number string) (transport.Transport, error)

	mu    sync.Mutex
	dials []DialRecord
}

func (d *Dialer) Dial(_ context.Context, credentialDir, number string) (transport.Transport, error) {
	d.mu.Lock()
	d.dials = append(d.dials, DialRecord{CredentialDir: credentialDir, Number: number})
	d.mu.Unlock()
	if d.OnDial != nil {
		return d.OnDial(credentialDir, number)
	}
	return New(), nil
}

// Dials returns recorded Dial invocations.
func (d *Dialer) Dials() []DialRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialRecord, len(d.dials))
	copy(out, d.dials)
	return out
}
