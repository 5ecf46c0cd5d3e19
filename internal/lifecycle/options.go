package lifecycle

import (
	"errors"
	"time"
)

var (
	ErrLoggedOut        = errors.New("lifecycle: device logged out, pairing required")
	ErrAttemptTimeout   = errors.New("lifecycle: connection attempt timed out")
	ErrConnectionFailed = errors.New("lifecycle: connection failed")
	ErrAttemptInFlight  = errors.New("lifecycle: attempt already in flight")
	ErrUnknownSender    = errors.New("lifecycle: sender not registered for tenant")
)

// Profile selects the timing envelope for an attempt chain. Interactive
// attempts answer a waiting human; background attempts belong to the
// reconnect scheduler and fail faster but retry more patiently.
type Profile int

const (
	ProfileInteractive Profile = iota
	ProfileBackground
)

func (p Profile) String() string {
	if p == ProfileBackground {
		return "background"
	}
	return "interactive"
}

// Options carries the driver's timing knobs.
type Options struct {
	// RetryDelayInteractive spaces in-place reconnects of interactive chains.
	RetryDelayInteractive time.Duration
	// RetryDelayBackground spaces in-place reconnects of background chains.
	RetryDelayBackground time.Duration
	// WatchdogInteractive bounds one interactive attempt reaching open.
	WatchdogInteractive time.Duration
	// WatchdogBackground bounds one background attempt reaching open.
	WatchdogBackground time.Duration
	// PairingRequestDelay is the settle time after the first connecting
	// signal before a pairing code is requested.
	PairingRequestDelay time.Duration
}

// DefaultOptions returns the production timing envelope.
func DefaultOptions() Options {
	return Options{
		RetryDelayInteractive: 5 * time.Second,
		RetryDelayBackground:  10 * time.Second,
		WatchdogInteractive:   120 * time.Second,
		WatchdogBackground:    60 * time.Second,
		PairingRequestDelay:   3 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.RetryDelayInteractive <= 0 {
		o.RetryDelayInteractive = def.RetryDelayInteractive
	}
	if o.RetryDelayBackground <= 0 {
		o.RetryDelayBackground = def.RetryDelayBackground
	}
	if o.WatchdogInteractive <= 0 {
		o.WatchdogInteractive = def.WatchdogInteractive
	}
	if o.WatchdogBackground <= 0 {
		o.WatchdogBackground = def.WatchdogBackground
	}
	if o.PairingRequestDelay <= 0 {
		o.PairingRequestDelay = def.PairingRequestDelay
	}
	return o
}

func (o Options) retryDelay(p Profile) time.Duration {
	if p == ProfileBackground {
		return o.RetryDelayBackground
	}
	return o.RetryDelayInteractive
}

func (o Options) watchdog(p Profile) time.Duration {
	if p == ProfileBackground {
		return o.WatchdogBackground
	}
	return o.WatchdogInteractive
}
