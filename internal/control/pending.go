// Package control carries the small pieces of state the administrative
// control surfaces park between interactions, most notably the per-tenant
// pending selection slot.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/okynn/senderctl/internal/logging"
)

const (
	// DefaultTTL expires selections the owner never followed up on.
	DefaultTTL = 10 * time.Minute
	// DefaultSweepInterval spaces janitor sweeps over expired slots.
	DefaultSweepInterval = 5 * time.Minute
)

// Selection is one parked choice awaiting the tenant's next interaction.
type Selection struct {
	Action string
	Args   map[string]string
}

type entry struct {
	sel      Selection
	storedAt time.Time
}

// PendingStore is a single-slot per-tenant selection store with TTL
// expiry. A later Put replaces the earlier slot.
type PendingStore struct {
	mu    sync.Mutex
	items map[string]entry

	ttl        time.Duration
	sweepEvery time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewPendingStore creates a store with the given TTL and sweep interval;
// zero values select the defaults.
func NewPendingStore(ttl, sweepEvery time.Duration) *PendingStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepInterval
	}
	return &PendingStore{
		items:      make(map[string]entry),
		ttl:        ttl,
		sweepEvery: sweepEvery,
		now:        time.Now,
		log:        logging.Component("control"),
	}
}

// Put parks a selection for the tenant, replacing any prior slot.
func (p *PendingStore) Put(tenant string, sel Selection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[tenant] = entry{sel: sel, storedAt: p.now()}
}

// Get returns the tenant's live selection. An expired slot is removed and
// reported as absent.
func (p *PendingStore) Get(tenant string) (Selection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.items[tenant]
	if !ok {
		return Selection{}, false
	}
	if p.now().Sub(e.storedAt) > p.ttl {
		delete(p.items, tenant)
		return Selection{}, false
	}
	return e.sel, true
}

// Take pops the tenant's live selection, consuming the slot.
func (p *PendingStore) Take(tenant string) (Selection, bool) {
	sel, ok := p.Get(tenant)
	if ok {
		p.mu.Lock()
		delete(p.items, tenant)
		p.mu.Unlock()
	}
	return sel, ok
}

// Clear drops the tenant's slot. Idempotent.
func (p *PendingStore) Clear(tenant string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, tenant)
}

// Len returns the number of parked selections, expired ones included.
func (p *PendingStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// RunJanitor sweeps expired slots on a fixed interval until the context ends.
func (p *PendingStore) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *PendingStore) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for tenant, e := range p.items {
		if now.Sub(e.storedAt) > p.ttl {
			delete(p.items, tenant)
			p.log.Debug().Str("tenant", tenant).Msg("expired pending selection swept")
		}
	}
}
