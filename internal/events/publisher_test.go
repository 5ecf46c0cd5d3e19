package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/okynn/senderctl/internal/testutil/testlog"
)

type memorySink struct {
	mu         sync.Mutex
	events     []Event
	keepAlives int
	failWrites bool
	failProbes bool
}

func (m *memorySink) WriteEvent(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("sink closed")
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memorySink) KeepAlive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failProbes {
		return errors.New("sink closed")
	}
	m.keepAlives++
	return nil
}

func (m *memorySink) recorded() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func TestRegisterSendsAck(t *testing.T) {
	testlog.Start(t)
	p := NewPublisher()
	sink := &memorySink{}
	p.Register("alice", sink)

	got := sink.recorded()
	if len(got) != 1 || got[0].Type != TypeConnected {
		t.Fatalf("expected synthetic ack, got %+v", got)
	}
}

func TestPublishTargetsOnlyOwningTenant(t *testing.T) {
	testlog.Start(t)
	p := NewPublisher()
	alice := &memorySink{}
	bob := &memorySink{}
	p.Register("alice", alice)
	p.Register("bob", bob)

	p.Publish("alice", Event{Type: TypeSuccess, Number: "628123456789"})

	aliceEvents := alice.recorded()
	if len(aliceEvents) != 2 || aliceEvents[1].Number != "628123456789" {
		t.Fatalf("alice sink missing event: %+v", aliceEvents)
	}
	if got := bob.recorded(); len(got) != 1 {
		t.Fatalf("bob sink must only hold its ack, got %+v", got)
	}
}

func TestPublishWithoutSinkIsDroppedButBacklogged(t *testing.T) {
	testlog.Start(t)
	p := NewPublisher()
	p.Publish("alice", Event{Type: TypeStatus, Status: "connecting"})

	backlog := p.Backlog("alice")
	if len(backlog) != 1 || backlog[0].Status != "connecting" {
		t.Fatalf("backlog mismatch: %+v", backlog)
	}
}

func TestWriteFailureUnregistersSilently(t *testing.T) {
	testlog.Start(t)
	p := NewPublisher()
	sink := &memorySink{}
	p.Register("alice", sink)
	sink.failWrites = true

	p.Publish("alice", Event{Type: TypeStatus})
	if p.ObserverCount() != 0 {
		t.Fatalf("failed sink must be unregistered")
	}
	// Subsequent publishes drop without error.
	p.Publish("alice", Event{Type: TypeStatus})
}

func TestLaterRegistrationReplacesEarlier(t *testing.T) {
	testlog.Start(t)
	p := NewPublisher()
	old := &memorySink{}
	replacement := &memorySink{}
	p.Register("alice", old)
	p.Register("alice", replacement)

	// The displaced observer disconnecting must not tear down the new slot.
	p.Unregister("alice", old)
	if p.ObserverCount() != 1 {
		t.Fatalf("replacement sink lost")
	}

	p.Publish("alice", Event{Type: TypeSuccess})
	if got := replacement.recorded(); len(got) != 2 {
		t.Fatalf("replacement did not receive event: %+v", got)
	}
	if got := old.recorded(); len(got) != 1 {
		t.Fatalf("old sink received post-replacement events: %+v", got)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	testlog.Start(t)
	p := NewPublisher()
	sink := &memorySink{}
	p.Register("alice", sink)
	p.Unregister("alice", nil)
	p.Unregister("alice", nil)
	if p.ObserverCount() != 0 {
		t.Fatalf("unregister failed")
	}
}

func TestProbeUnregistersDeadSinks(t *testing.T) {
	testlog.Start(t)
	p := NewPublisher()
	live := &memorySink{}
	dead := &memorySink{failProbes: true}
	p.Register("alice", live)
	p.Register("bob", dead)

	p.probeSinks()
	if p.ObserverCount() != 1 {
		t.Fatalf("dead sink not removed, observers=%d", p.ObserverCount())
	}
	if live.keepAlives != 1 {
		t.Fatalf("live sink not probed")
	}
}

func TestBacklogBounded(t *testing.T) {
	testlog.Start(t)
	p := NewPublisher()
	p.backlogCap = 4
	for i := 0; i < 10; i++ {
		p.Publish("alice", Event{Type: TypeStatus, Message: string(rune('a' + i))})
	}
	backlog := p.Backlog("alice")
	if len(backlog) != 4 {
		t.Fatalf("backlog len=%d want 4", len(backlog))
	}
	if backlog[0].Message != "g" || backlog[3].Message != "j" {
		t.Fatalf("backlog must keep newest events: %+v", backlog)
	}
}
