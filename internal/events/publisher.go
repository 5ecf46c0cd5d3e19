package events

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/okynn/senderctl/internal/logging"
	"github.com/okynn/senderctl/internal/observability"
)

const (
	// DefaultBacklogCap bounds the per-tenant recent-event ring.
	DefaultBacklogCap = 64
	// DefaultKeepAliveInterval is the dead-sink probe period.
	DefaultKeepAliveInterval = 30 * time.Second
)

// Publisher owns the tenant -> sink slots and a bounded per-tenant backlog
// of recent events. At most one sink is active per tenant; a later
// registration replaces the earlier one.
type Publisher struct {
	mu         sync.Mutex
	sinks      map[string]Sink
	backlog    map[string]*queue.Queue
	backlogCap int

	keepAliveEvery time.Duration
	log            zerolog.Logger
}

// NewPublisher creates a publisher with default backlog and keep-alive settings.
func NewPublisher() *Publisher {
	return &Publisher{
		sinks:          make(map[string]Sink),
		backlog:        make(map[string]*queue.Queue),
		backlogCap:     DefaultBacklogCap,
		keepAliveEvery: DefaultKeepAliveInterval,
		log:            logging.Component("events"),
	}
}

// Register installs the tenant's sink, replacing any prior one, and
// immediately acknowledges the stream. A sink whose ack write fails is
// dropped on the spot.
func (p *Publisher) Register(tenant string, sink Sink) {
	p.mu.Lock()
	p.sinks[tenant] = sink
	p.mu.Unlock()

	ack := Event{Type: TypeConnected, Message: "event stream connected"}
	if err := sink.WriteEvent(ack); err != nil {
		p.log.Debug().Str("tenant", tenant).Err(err).Msg("ack write failed, dropping sink")
		p.Unregister(tenant, sink)
	}
}

// Unregister removes the tenant's sink. When sink is non-nil the slot is
// only cleared if it still holds that sink, so a disconnecting observer
// cannot tear down its replacement. Idempotent.
func (p *Publisher) Unregister(tenant string, sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.sinks[tenant]
	if !ok {
		return
	}
	if sink != nil && current != sink {
		return
	}
	delete(p.sinks, tenant)
}

// Publish delivers one event to the tenant's sink if attached and records
// it in the backlog either way. A write failure unregisters the sink
// silently; publishing never blocks or fails the caller.
func (p *Publisher) Publish(tenant string, ev Event) {
	observability.RecordPublishedEvent(ev.Type)
	p.mu.Lock()
	p.appendBacklogLocked(tenant, ev)
	sink, ok := p.sinks[tenant]
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := sink.WriteEvent(ev); err != nil {
		p.log.Debug().Str("tenant", tenant).Err(err).Msg("sink write failed, unregistering")
		p.Unregister(tenant, sink)
	}
}

// Backlog returns the tenant's recent events, oldest first.
func (p *Publisher) Backlog(tenant string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.backlog[tenant]
	if !ok {
		return nil
	}
	out := make([]Event, 0, q.Length())
	for i := 0; i < q.Length(); i++ {
		out = append(out, q.Get(i).(Event))
	}
	return out
}

// ObserverCount returns the number of attached sinks.
func (p *Publisher) ObserverCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sinks)
}

// RunKeepAlive probes every registered sink on a fixed interval and
// unregisters the ones that fail, until the context ends.
func (p *Publisher) RunKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(p.keepAliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeSinks()
		}
	}
}

func (p *Publisher) probeSinks() {
	p.mu.Lock()
	type slot struct {
		tenant string
		sink   Sink
	}
	slots := make([]slot, 0, len(p.sinks))
	for tenant, sink := range p.sinks {
		slots = append(slots, slot{tenant: tenant, sink: sink})
	}
	p.mu.Unlock()

	for _, s := range slots {
		if err := s.sink.KeepAlive(); err != nil {
			p.log.Debug().Str("tenant", s.tenant).Err(err).Msg("keep-alive failed, unregistering")
			p.Unregister(s.tenant, s.sink)
		}
	}
}

func (p *Publisher) appendBacklogLocked(tenant string, ev Event) {
	q, ok := p.backlog[tenant]
	if !ok {
		q = queue.New()
		p.backlog[tenant] = q
	}
	q.Add(ev)
	for q.Length() > p.backlogCap {
		q.Remove()
	}
}
