package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/okynn/senderctl/internal/identity"
	"github.com/okynn/senderctl/internal/lifecycle"
	"github.com/okynn/senderctl/internal/logging"
	"github.com/okynn/senderctl/internal/observability"
	"github.com/okynn/senderctl/internal/registry"
	"github.com/okynn/senderctl/internal/store"
)

// Launcher dispatches one lifecycle attempt chain. Satisfied by
// *lifecycle.Driver.
type Launcher interface {
	Start(ctx context.Context, id identity.Identity, profile lifecycle.Profile) error
}

// Options carries the scheduler's timing and retry knobs.
type Options struct {
	// InitialReloadDelay postpones the first bounded reload after boot.
	InitialReloadDelay time.Duration
	// SettleTime is how long a reload pass waits before judging itself.
	SettleTime time.Duration
	// MaxReloadPasses bounds the startup reload retry sequence.
	MaxReloadPasses int
	// AutoInterval spaces the unconditional auto-reconnect passes.
	AutoInterval time.Duration
	// InitialAutoDelay postpones the first auto-reconnect pass after boot.
	InitialAutoDelay time.Duration
}

// DefaultOptions returns the production schedule.
func DefaultOptions() Options {
	return Options{
		InitialReloadDelay: 15 * time.Second,
		SettleTime:         30 * time.Second,
		MaxReloadPasses:    3,
		AutoInterval:       30 * time.Second,
		InitialAutoDelay:   10 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.InitialReloadDelay <= 0 {
		o.InitialReloadDelay = def.InitialReloadDelay
	}
	if o.SettleTime <= 0 {
		o.SettleTime = def.SettleTime
	}
	if o.MaxReloadPasses <= 0 {
		o.MaxReloadPasses = def.MaxReloadPasses
	}
	if o.AutoInterval <= 0 {
		o.AutoInterval = def.AutoInterval
	}
	if o.InitialAutoDelay <= 0 {
		o.InitialAutoDelay = def.InitialAutoDelay
	}
	return o
}

// PassReport summarizes one scan-and-dispatch pass.
type PassReport struct {
	Dispatched    int
	AlreadyLive   int
	MissingBundle int
}

// ReloadOutcome is the terminal judgment of a bounded reload sequence.
type ReloadOutcome string

const (
	ReloadIdle    ReloadOutcome = "idle"    // nothing persisted to reload
	ReloadSuccess ReloadOutcome = "success" // every dispatched identity came up
	ReloadPartial ReloadOutcome = "partial" // some sessions active
	ReloadFailed  ReloadOutcome = "failed"  // all passes exhausted, none active
	ReloadBusy    ReloadOutcome = "busy"    // another reload sequence is running
)

// Scheduler brings persisted identities back online without operator help.
type Scheduler struct {
	records  *store.Records
	creds    *store.CredentialStore
	registry *registry.Registry
	launcher Launcher
	opts     Options
	log      zerolog.Logger

	reloadMu sync.Mutex
}

// NewScheduler wires a reconnect scheduler to its collaborators.
func NewScheduler(
	records *store.Records,
	creds *store.CredentialStore,
	reg *registry.Registry,
	launcher Launcher,
	opts Options,
) *Scheduler {
	return &Scheduler{
		records:  records,
		creds:    creds,
		registry: reg,
		launcher: launcher,
		opts:     opts.WithDefaults(),
		log:      logging.Component("reconnect"),
	}
}

// Run is the scheduler's long-lived loop: one delayed bounded reload at
// boot, then unconditional auto-reconnect passes for the process lifetime.
func (s *Scheduler) Run(ctx context.Context) {
	reload := time.NewTimer(s.opts.InitialReloadDelay)
	defer reload.Stop()
	firstAuto := time.NewTimer(s.opts.InitialAutoDelay)
	defer firstAuto.Stop()
	ticker := time.NewTicker(s.opts.AutoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-reload.C:
			go s.ReloadWithRetry(ctx)
		case <-firstAuto.C:
			s.AutoReconnectOnce(ctx)
		case <-ticker.C:
			s.AutoReconnectOnce(ctx)
		}
	}
}

// ReloadWithRetry runs up to MaxReloadPasses full passes, waiting
// SettleTime after each and re-running only while zero sessions have come
// up. Concurrent invocations collapse into the running one.
func (s *Scheduler) ReloadWithRetry(ctx context.Context) ReloadOutcome {
	if !s.reloadMu.TryLock() {
		s.log.Debug().Msg("reload already in progress")
		return ReloadBusy
	}
	defer s.reloadMu.Unlock()

	for pass := 1; pass <= s.opts.MaxReloadPasses; pass++ {
		report := s.runPass(ctx)
		s.log.Info().
			Int("pass", pass).
			Int("max_passes", s.opts.MaxReloadPasses).
			Int("dispatched", report.Dispatched).
			Int("already_live", report.AlreadyLive).
			Int("missing_bundle", report.MissingBundle).
			Msg("reload pass dispatched")

		if report.Dispatched == 0 && report.AlreadyLive == 0 {
			s.log.Info().Msg("no sessions to reload")
			return ReloadIdle
		}
		if report.Dispatched == 0 {
			return ReloadSuccess
		}

		select {
		case <-ctx.Done():
			return ReloadFailed
		case <-time.After(s.opts.SettleTime):
		}

		live := s.registry.Count()
		switch {
		case live >= report.Dispatched+report.AlreadyLive:
			s.log.Info().Int("live", live).Msg("reload fully successful")
			return ReloadSuccess
		case live > 0:
			s.log.Warn().Int("live", live).Int("dispatched", report.Dispatched).Msg("reload partially successful")
			return ReloadPartial
		}
		s.log.Warn().Int("pass", pass).Msg("no sessions became active, retrying reload")
	}

	s.log.Error().Msg("all reload passes failed, manual reconnection required")
	return ReloadFailed
}

// AutoReconnectOnce attempts every persisted identity that is absent from
// the registry exactly once. Failures wait for the next interval.
func (s *Scheduler) AutoReconnectOnce(ctx context.Context) PassReport {
	report := s.runPass(ctx)
	s.log.Debug().
		Int("dispatched", report.Dispatched).
		Int("already_live", report.AlreadyLive).
		Int("missing_bundle", report.MissingBundle).
		Msg("auto-reconnect pass")
	return report
}

// runPass scans all persisted identities and dispatches a background
// lifecycle attempt for each one that is offline but holds a usable
// credential bundle. Dispatches are asynchronous; later identities never
// wait on earlier ones.
func (s *Scheduler) runPass(ctx context.Context) PassReport {
	var report PassReport

	all, err := s.records.Load()
	if err != nil {
		s.log.Error().Err(err).Msg("session records unreadable, skipping pass")
		return report
	}

	for tenant, numbers := range all {
		for _, number := range numbers {
			id := identity.Identity{Tenant: tenant, Number: number}
			if s.registry.Has(id) {
				report.AlreadyLive++
				continue
			}
			if !s.creds.HasBundle(id) {
				report.MissingBundle++
				s.log.Warn().Stringer("identity", id).Msg("no credential bundle, owner must re-pair")
				continue
			}
			report.Dispatched++
			go s.dispatch(ctx, id)
		}
	}
	return report
}

func (s *Scheduler) dispatch(ctx context.Context, id identity.Identity) {
	observability.RecordReconnectDispatch()
	err := s.launcher.Start(ctx, id, lifecycle.ProfileBackground)
	switch {
	case err == nil:
		s.log.Info().Stringer("identity", id).Msg("reconnected")
	default:
		// Attempt failures are informational; the next pass owns the retry.
		s.log.Warn().Stringer("identity", id).Err(err).Msg("reconnect attempt failed")
	}
}
