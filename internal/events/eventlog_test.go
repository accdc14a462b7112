package events

import (
	"sync"
	"testing"
	"time"
)

type memPersister struct {
	mu     sync.Mutex
	events []PlantEvent
}

func (p *memPersister) Append(e PlantEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func TestAppendAssignsIdentity(t *testing.T) {
	el := NewEventLog(0, nil)

	a := el.Append(PlantEvent{Type: EventTypeTick, ActorID: ActorPlant})
	b := el.Append(PlantEvent{Type: EventTypeFeedRequested, ActorID: ActorOperator})

	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty IDs, got %q and %q", a.ID, b.ID)
	}
	if a.Seq != 1 || b.Seq != 2 {
		t.Errorf("expected seq 1,2 got %d,%d", a.Seq, b.Seq)
	}
	if a.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if el.LastSeq() != 2 {
		t.Errorf("LastSeq = %d, want 2", el.LastSeq())
	}
}

func TestRetentionKeepsNewestAndCursorSurvives(t *testing.T) {
	el := NewEventLog(3, nil)
	for i := 0; i < 5; i++ {
		el.Append(PlantEvent{Type: EventTypeTick})
	}

	all := el.Replay()
	if len(all) != 3 {
		t.Fatalf("retained %d events, want 3", len(all))
	}
	if all[0].Seq != 3 || all[2].Seq != 5 {
		t.Errorf("retained seqs %d..%d, want 3..5", all[0].Seq, all[2].Seq)
	}

	// A reader whose cursor was evicted gets everything still retained.
	if got := el.Since(1); len(got) != 3 {
		t.Errorf("Since(1) returned %d events, want 3", len(got))
	}
	if got := el.Since(4); len(got) != 1 || got[0].Seq != 5 {
		t.Errorf("Since(4) = %+v, want only seq 5", got)
	}
	if got := el.Since(5); len(got) != 0 {
		t.Errorf("Since(5) returned %d events, want 0", len(got))
	}
}

func TestByType(t *testing.T) {
	el := NewEventLog(0, nil)
	el.Append(PlantEvent{Type: EventTypeTick})
	el.Append(PlantEvent{Type: EventTypeMilestoneReached})
	el.Append(PlantEvent{Type: EventTypeTick})

	if got := el.ByType(EventTypeTick); len(got) != 2 {
		t.Errorf("ByType(TICK) = %d events, want 2", len(got))
	}
	if got := el.ByType(EventTypeMilestoneReached); len(got) != 1 {
		t.Errorf("ByType(MILESTONE_REACHED) = %d events, want 1", len(got))
	}
}

func TestReplayReturnsCopy(t *testing.T) {
	el := NewEventLog(0, nil)
	el.Append(PlantEvent{Type: EventTypeTick})

	got := el.Replay()
	got[0].Type = EventTypeFeedCompleted

	if el.Replay()[0].Type != EventTypeTick {
		t.Error("mutating a replayed slice changed the log")
	}
}

func TestPersisterReceivesEveryEventBeforeClose(t *testing.T) {
	p := &memPersister{}
	el := NewEventLog(2, p)
	for i := 0; i < 10; i++ {
		el.Append(PlantEvent{Type: EventTypeTick})
	}
	el.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) != 10 {
		t.Fatalf("persister got %d events, want 10", len(p.events))
	}
	for i, e := range p.events {
		if e.Seq != uint64(i+1) {
			t.Errorf("persisted event %d has seq %d", i, e.Seq)
		}
	}

	// Appends after Close must not panic.
	el.Append(PlantEvent{Type: EventTypeTick})
}

type gatedPersister struct {
	memPersister
	gate chan struct{}
}

func (p *gatedPersister) Append(e PlantEvent) error {
	<-p.gate
	return p.memPersister.Append(e)
}

func TestFullQueueShedsTicksButKeepsFeeds(t *testing.T) {
	p := &gatedPersister{gate: make(chan struct{})}
	el := NewEventLog(0, p)

	ticks := 0
	for el.Dropped() == 0 {
		if ticks > 4*persistQueueSize {
			t.Fatal("queue never filled")
		}
		el.Append(PlantEvent{Type: EventTypeTick})
		ticks++
	}

	done := make(chan PlantEvent)
	go func() {
		done <- el.Append(PlantEvent{Type: EventTypeFeedCompleted, Payload: FeedPayload{FeedID: 1}})
	}()
	select {
	case <-done:
		t.Fatal("feed event was accepted while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.gate)
	feed := <-done
	el.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.events[len(p.events)-1]
	if last.Type != EventTypeFeedCompleted || last.Seq != feed.Seq {
		t.Errorf("last persisted event = %s seq %d, want feed seq %d", last.Type, last.Seq, feed.Seq)
	}
	if got := uint64(len(p.events)) + el.Dropped(); got != uint64(ticks+1) {
		t.Errorf("persisted %d + dropped %d != appended %d", len(p.events), el.Dropped(), ticks+1)
	}
}
