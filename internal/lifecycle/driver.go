package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/okynn/senderctl/internal/events"
	"github.com/okynn/senderctl/internal/identity"
	"github.com/okynn/senderctl/internal/logging"
	"github.com/okynn/senderctl/internal/observability"
	"github.com/okynn/senderctl/internal/registry"
	"github.com/okynn/senderctl/internal/store"
	"github.com/okynn/senderctl/internal/transport"
)

// Driver runs connection attempt chains and owns all session side effects:
// registry membership, session records, credential persistence and
// destruction, and lifecycle event publication.
type Driver struct {
	dialer    transport.Dialer
	creds     *store.CredentialStore
	records   *store.Records
	registry  *registry.Registry
	publisher *events.Publisher
	opts      Options
	log       zerolog.Logger

	mu       sync.Mutex
	inflight map[identity.Identity]struct{}
}

// NewDriver wires a lifecycle driver to its collaborators.
func NewDriver(
	dialer transport.Dialer,
	creds *store.CredentialStore,
	records *store.Records,
	reg *registry.Registry,
	publisher *events.Publisher,
	opts Options,
) *Driver {
	return &Driver{
		dialer:    dialer,
		creds:     creds,
		records:   records,
		registry:  reg,
		publisher: publisher,
		opts:      opts.WithDefaults(),
		log:       logging.Component("lifecycle"),
		inflight:  make(map[identity.Identity]struct{}),
	}
}

// Start drives one attempt chain for the identity and blocks until the
// chain first resolves: nil once the session reaches open, an error when
// the attempt fails before connecting. After open, supervision continues
// in the background for registry cleanup and in-place reconnects; ctx must
// therefore outlive the caller (pass the process context, not a request
// context).
//
// At most one chain runs per identity; a second Start while one is live
// returns ErrAttemptInFlight.
func (d *Driver) Start(ctx context.Context, id identity.Identity, profile Profile) error {
	if err := identity.ValidateTenant(id.Tenant); err != nil {
		return err
	}
	if err := identity.ValidateNumber(id.Number); err != nil {
		return err
	}
	if !d.acquire(id) {
		return fmt.Errorf("%w: %s", ErrAttemptInFlight, id)
	}

	result := make(chan error, 1)
	var once sync.Once
	resolve := func(err error) {
		once.Do(func() { result <- err })
	}
	go d.supervise(ctx, id, profile, resolve)
	return <-result
}

// InFlight reports whether an attempt chain currently owns the identity.
func (d *Driver) InFlight(id identity.Identity) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[id]
	return ok
}

// RemoveSender tears one identity down for good: logs the live transport
// out if registered, drops the registry entry, removes the number from the
// tenant's session record, and deletes the credential directory.
func (d *Driver) RemoveSender(ctx context.Context, id identity.Identity) error {
	removed, err := d.records.Remove(id.Tenant, id.Number)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrUnknownSender, id)
	}

	if tr, ok := d.registry.Evict(id); ok {
		if err := tr.Logout(ctx); err != nil {
			d.log.Warn().Stringer("identity", id).Err(err).Msg("logout failed during removal")
		}
		_ = tr.Close()
	}
	if err := d.creds.Delete(id); err != nil {
		return err
	}
	d.publisher.Publish(id.Tenant, events.Event{
		Type:    events.TypeSuccess,
		Message: "sender removed",
		Number:  id.Number,
		Status:  "removed",
	})
	d.log.Info().Stringer("identity", id).Msg("sender removed")
	return nil
}

func (d *Driver) acquire(id identity.Identity) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[id]; ok {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Driver) release(id identity.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}

type attemptResult int

const (
	attemptRetry attemptResult = iota
	attemptExit
)

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrLoggedOut):
		return "logged_out"
	case errors.Is(err, ErrAttemptTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}

// supervise runs the attempt loop for one identity until terminal. The
// explicit loop replaces the recursive re-entry the behavior is modeled
// on, so pathological flapping cannot grow the stack.
func (d *Driver) supervise(ctx context.Context, id identity.Identity, profile Profile, resolve func(error)) {
	defer d.release(id)

	for {
		res, err := d.attemptOnce(ctx, id, profile, resolve)
		if err != nil {
			d.log.Warn().Stringer("identity", id).Str("profile", profile.String()).Err(err).Msg("attempt chain ended")
			observability.RecordAttemptOutcome(profile.String(), outcomeLabel(err))
			resolve(err)
			return
		}
		if res == attemptExit {
			observability.RecordAttemptOutcome(profile.String(), "closed")
			resolve(nil)
			return
		}

		select {
		case <-ctx.Done():
			resolve(ctx.Err())
			return
		case <-time.After(d.opts.retryDelay(profile)):
		}
	}
}

// attemptOnce runs a single dial-to-terminal pass. It returns attemptRetry
// for retryable disconnects; any other return ends the chain. resolve is
// invoked with nil the moment the session reaches open.
func (d *Driver) attemptOnce(ctx context.Context, id identity.Identity, profile Profile, resolve func(error)) (attemptResult, error) {
	attemptID := uuid.NewString()
	log := d.log.With().
		Stringer("identity", id).
		Str("attempt_id", attemptID).
		Str("profile", profile.String()).
		Logger()

	dir, err := d.creds.EnsureDir(id)
	if err != nil {
		return attemptExit, err
	}
	hadBundle := d.creds.HasBundle(id)

	d.publish(id, events.Event{
		Type:      events.TypeStatus,
		Message:   "starting connection",
		Number:    id.Number,
		Status:    "connecting",
		AttemptID: attemptID,
	})

	tr, err := d.dialer.Dial(ctx, dir, id.Number)
	if err != nil {
		d.publish(id, events.Event{
			Type:    events.TypeError,
			Message: fmt.Sprintf("connection error: %v", err),
			Number:  id.Number,
			Status:  "error",
		})
		return attemptExit, fmt.Errorf("%w: dial: %v", ErrConnectionFailed, err)
	}
	defer tr.Close()

	watchdog := time.NewTimer(d.opts.watchdog(profile))
	defer watchdog.Stop()
	watchdogC := watchdog.C

	var pairingTimer *time.Timer
	var pairingC <-chan time.Time
	defer func() {
		if pairingTimer != nil {
			pairingTimer.Stop()
		}
	}()

	credC := tr.CredentialUpdates()
	connected := false
	pairingRequested := false

	log.Debug().Msg("attempt started")

	for {
		select {
		case <-ctx.Done():
			d.registry.Remove(id, tr)
			return attemptExit, ctx.Err()

		case <-watchdogC:
			d.publish(id, events.Event{
				Type:    events.TypeError,
				Message: fmt.Sprintf("timeout: connection not established within %s", d.opts.watchdog(profile)),
				Number:  id.Number,
				Status:  "timeout",
			})
			return attemptExit, fmt.Errorf("%w: after %s", ErrAttemptTimeout, d.opts.watchdog(profile))

		case <-pairingC:
			pairingC = nil
			d.requestPairingCode(ctx, tr, id, log)

		case upd, ok := <-credC:
			if !ok {
				credC = nil
				continue
			}
			if err := d.creds.Persist(id, upd.Bundle); err != nil {
				log.Error().Err(err).Msg("credential persist failed")
			}

		case ev, ok := <-tr.Events():
			if !ok {
				d.registry.Remove(id, tr)
				if connected {
					log.Warn().Msg("event stream ended, session lost")
					return attemptExit, nil
				}
				return attemptExit, fmt.Errorf("%w: event stream ended", ErrConnectionFailed)
			}

			switch ev.Kind {
			case transport.KindConnecting:
				log.Debug().Msg("connecting")
				d.publish(id, events.Event{
					Type:    events.TypeStatus,
					Message: "connecting to messaging service",
					Number:  id.Number,
					Status:  "connecting",
				})
				if !hadBundle && !pairingRequested {
					pairingRequested = true
					pairingTimer = time.NewTimer(d.opts.PairingRequestDelay)
					pairingC = pairingTimer.C
				}

			case transport.KindQR:
				d.publish(id, events.Event{
					Type:    events.TypeQR,
					Message: "scan this QR code",
					Number:  id.Number,
					QR:      ev.QR,
					Status:  "waiting_qr",
				})

			case transport.KindOpen:
				connected = true
				watchdog.Stop()
				watchdogC = nil
				if displaced := d.registry.Register(id, tr); displaced != nil {
					log.Warn().Msg("displaced a prior transport, closing loser")
					_ = displaced.Close()
				}
				if _, err := d.records.Add(id.Tenant, id.Number); err != nil {
					log.Error().Err(err).Msg("session record update failed")
				}
				log.Info().Msg("connected")
				observability.RecordSessionOpen(id.Tenant)
				d.publish(id, events.Event{
					Type:    events.TypeSuccess,
					Message: "connected to messaging service",
					Number:  id.Number,
					Status:  "connected",
				})
				resolve(nil)

			case transport.KindClose:
				d.registry.Remove(id, tr)
				observability.RecordSessionClose(id.Tenant, ev.Cause.String())
				log.Info().Stringer("cause", ev.Cause).Bool("was_connected", connected).Msg("connection closed")

				switch {
				case ev.Cause == transport.CauseLoggedOut:
					if err := d.creds.Delete(id); err != nil {
						log.Error().Err(err).Msg("credential cleanup failed")
					}
					d.publish(id, events.Event{
						Type:    events.TypeError,
						Message: "device logged out, pair again",
						Number:  id.Number,
						Status:  "logged_out",
					})
					return attemptExit, ErrLoggedOut

				case ev.Cause.Retryable():
					d.publish(id, events.Event{
						Type:    events.TypeStatus,
						Message: "reconnecting",
						Number:  id.Number,
						Status:  "reconnecting",
					})
					return attemptRetry, nil

				case connected:
					// Session died after a successful open with a cause the
					// driver does not retry; the scheduler's next pass owns it.
					d.publish(id, events.Event{
						Type:    events.TypeWarning,
						Message: fmt.Sprintf("session lost: %s", ev.Cause),
						Number:  id.Number,
						Status:  "disconnected",
					})
					return attemptExit, nil

				default:
					d.publish(id, events.Event{
						Type:    events.TypeError,
						Message: fmt.Sprintf("connection failed: %s", ev.Cause),
						Number:  id.Number,
						Status:  "failed",
					})
					return attemptExit, fmt.Errorf("%w: close cause %s", ErrConnectionFailed, ev.Cause)
				}
			}
		}
	}
}

// requestPairingCode asks the transport for a pairing code and publishes it
// for human display. Failure is informational; the attempt continues via QR
// or existing credentials.
func (d *Driver) requestPairingCode(ctx context.Context, tr transport.Transport, id identity.Identity, log zerolog.Logger) {
	code, err := tr.RequestPairingCode(ctx, id.Number)
	if err != nil {
		log.Warn().Err(err).Msg("pairing code request failed")
		d.publish(id, events.Event{
			Type:    events.TypeError,
			Message: fmt.Sprintf("pairing code request failed: %v", err),
			Number:  id.Number,
			Status:  "code_error",
		})
		return
	}
	formatted := FormatPairingCode(code)
	log.Info().Str("code", formatted).Msg("pairing code issued")
	d.publish(id, events.Event{
		Type:    events.TypePairingCode,
		Message: "pairing code issued",
		Number:  id.Number,
		Code:    formatted,
		Status:  "waiting_pairing",
		Instructions: []string{
			"open the messaging app on your phone",
			"go to Linked Devices > Link a Device",
			"enter the pairing code " + formatted,
			"the code expires after 30 seconds",
		},
	})
}

// publish forwards one lifecycle notice to the owning tenant's observer.
// Publishing is best-effort and never feeds back into the state machine.
func (d *Driver) publish(id identity.Identity, ev events.Event) {
	d.publisher.Publish(id.Tenant, ev)
}
