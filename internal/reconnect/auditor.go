package reconnect

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/okynn/senderctl/internal/logging"
	"github.com/okynn/senderctl/internal/registry"
	"github.com/okynn/senderctl/internal/store"
)

// DefaultAuditInterval spaces health audits.
const DefaultAuditInterval = 10 * time.Minute

// AuditVerdict is one health audit's conclusion.
type AuditVerdict string

const (
	AuditIdle     AuditVerdict = "idle"     // nothing persisted, nothing expected
	AuditHealthy  AuditVerdict = "healthy"  // sessions are active
	AuditRecovery AuditVerdict = "recovery" // total outage, reload re-triggered
)

// Auditor detects "everything died" and re-triggers the scheduler's bounded
// reload. Partial outages are left to per-identity retry.
type Auditor struct {
	records   *store.Records
	registry  *registry.Registry
	scheduler *Scheduler
	interval  time.Duration
	log       zerolog.Logger
}

// NewAuditor wires a health auditor to the stores and scheduler.
func NewAuditor(records *store.Records, reg *registry.Registry, scheduler *Scheduler, interval time.Duration) *Auditor {
	if interval <= 0 {
		interval = DefaultAuditInterval
	}
	return &Auditor{
		records:   records,
		registry:  reg,
		scheduler: scheduler,
		interval:  interval,
		log:       logging.Component("health"),
	}
}

// Run audits on a fixed interval until the context ends.
func (a *Auditor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("auditor stopped")
			return
		case <-ticker.C:
			a.AuditOnce(ctx)
		}
	}
}

// AuditOnce compares live session count against persisted identities and
// re-triggers the bounded reload on a total outage.
func (a *Auditor) AuditOnce(ctx context.Context) AuditVerdict {
	total, err := a.records.TotalCount()
	if err != nil {
		a.log.Error().Err(err).Msg("audit skipped, records unreadable")
		return AuditIdle
	}
	live := a.registry.Count()
	a.log.Info().Int("live", live).Int("registered", total).Msg("health check")

	if total == 0 {
		return AuditIdle
	}
	if live > 0 {
		a.log.Info().Msg("sessions are active")
		return AuditHealthy
	}

	a.log.Warn().Msg("registered sessions but none active, re-triggering reload")
	go a.scheduler.ReloadWithRetry(ctx)
	return AuditRecovery
}
