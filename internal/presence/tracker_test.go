package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/pubsub"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []pubsub.Event
}

func (p *capturePublisher) Publish(topic string, evt pubsub.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func (p *capturePublisher) snapshot() []pubsub.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pubsub.Event, len(p.events))
	copy(out, p.events)
	return out
}

func TestTracker_EdgesOnly(t *testing.T) {
	pub := &capturePublisher{}
	tr := NewTracker(30*time.Second, pub, zerolog.Nop())

	tr.Join("ana", "s1")
	tr.Join("ana", "s2") // second session is silent
	tr.Heartbeat("ana", "s1")
	tr.Leave("ana", "s1") // still online via s2
	tr.Leave("ana", "s2") // offline edge

	evts := pub.snapshot()
	if len(evts) != 2 {
		t.Fatalf("want 2 edge events, got %d: %+v", len(evts), evts)
	}
	if !evts[0].Active || evts[0].UserID != "ana" {
		t.Fatalf("first event must be online edge: %+v", evts[0])
	}
	if evts[1].Active {
		t.Fatalf("second event must be offline edge: %+v", evts[1])
	}
}

func TestTracker_IsOnlineAndSnapshot(t *testing.T) {
	tr := NewTracker(30*time.Second, &capturePublisher{}, zerolog.Nop())

	if tr.IsOnline("ana") {
		t.Fatalf("online before join")
	}
	tr.Join("ana", "s1")
	tr.Join("luis", "s1")
	if !tr.IsOnline("ana") || !tr.IsOnline("luis") {
		t.Fatalf("both must be online")
	}
	if got := tr.OnlineSet(); len(got) != 2 {
		t.Fatalf("OnlineSet: %v", got)
	}
	tr.Leave("ana", "s1")
	if tr.IsOnline("ana") {
		t.Fatalf("online after last leave")
	}
}

func TestTracker_SweepExpiresSilentSessions(t *testing.T) {
	pub := &capturePublisher{}
	tr := NewTracker(30*time.Second, pub, zerolog.Nop())

	base := time.Now()
	tr.now = func() time.Time { return base }

	tr.Join("ana", "s1")
	tr.Join("luis", "s1")

	// luis keeps heartbeating, ana goes silent.
	tr.now = func() time.Time { return base.Add(20 * time.Second) }
	tr.Heartbeat("luis", "s1")

	tr.now = func() time.Time { return base.Add(31 * time.Second) }
	tr.sweep()

	if tr.IsOnline("ana") {
		t.Fatalf("ana must be swept")
	}
	if !tr.IsOnline("luis") {
		t.Fatalf("luis must survive the sweep")
	}

	evts := pub.snapshot()
	last := evts[len(evts)-1]
	if last.UserID != "ana" || last.Active {
		t.Fatalf("sweep must publish ana's offline edge, got %+v", last)
	}

	// A second sweep publishes nothing new.
	n := len(evts)
	tr.sweep()
	if got := pub.snapshot(); len(got) != n {
		t.Fatalf("repeat sweep published %d extra events", len(got)-n)
	}
}

func TestTracker_HeartbeatRevivesAfterSweep(t *testing.T) {
	pub := &capturePublisher{}
	tr := NewTracker(30*time.Second, pub, zerolog.Nop())

	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Join("ana", "s1")

	tr.now = func() time.Time { return base.Add(time.Minute) }
	tr.sweep()
	tr.Heartbeat("ana", "s1")

	if !tr.IsOnline("ana") {
		t.Fatalf("heartbeat after sweep must behave like a fresh join")
	}
	evts := pub.snapshot()
	if len(evts) != 3 || !evts[2].Active {
		t.Fatalf("want online,offline,online edges, got %+v", evts)
	}
}
