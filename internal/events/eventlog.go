// Package events provides the append-only event log of the pilot plant.
// Every tick, feed and milestone is recorded here; the WebSocket hub and the
// session recorder both consume it.
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a plant event.
type EventType string

const (
	EventTypeTick                 EventType = "TICK"
	EventTypeFeedRequested        EventType = "FEED_REQUESTED"
	EventTypeFeedCompleted        EventType = "FEED_COMPLETED"
	EventTypeMilestoneReached     EventType = "MILESTONE_REACHED"
	EventTypeMilestoneRebaselined EventType = "MILESTONE_REBASELINED"
)

// Actors
const (
	ActorPlant    = "PLANT"
	ActorOperator = "OPERATOR"
)

// DefaultRetention is the number of events kept in memory when none is configured.
const DefaultRetention = 1024

// persistQueueSize bounds the number of events waiting for the persister.
const persistQueueSize = 512

// PlantEvent represents an immutable record of something that happened to the plant.
type PlantEvent struct {
	ID        string      `json:"id"`
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"type"`
	ActorID   string      `json:"actor_id"`
	Tick      int64       `json:"tick"`    // Tick number the event belongs to
	Payload   interface{} `json:"payload"` // Event-specific data
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event PlantEvent) error
}

// EventLog is the in-memory, bounded, append-only log of plant events.
// Sequence numbers are strictly increasing and survive eviction, so readers
// can resume with Since after older events have been dropped.
type EventLog struct {
	mu        sync.RWMutex
	events    []PlantEvent
	nextSeq   uint64
	retention int

	persister EventPersister
	queue     chan PlantEvent
	dropped   uint64
	closeOnce sync.Once
	closed    bool
	wg        sync.WaitGroup
}

// NewEventLog creates a new event log with an optional persister.
// retention <= 0 selects DefaultRetention.
func NewEventLog(retention int, persister EventPersister) *EventLog {
	if retention <= 0 {
		retention = DefaultRetention
	}
	el := &EventLog{
		events:    make([]PlantEvent, 0, retention),
		retention: retention,
		persister: persister,
	}
	if persister != nil {
		el.queue = make(chan PlantEvent, persistQueueSize)
		el.wg.Add(1)
		go el.persistLoop()
	}
	return el
}

// Append adds a new event to the log and returns it with ID, Seq and Timestamp set.
// Events are immutable once appended.
func (el *EventLog) Append(event PlantEvent) PlantEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	el.nextSeq++
	event.Seq = el.nextSeq
	el.events = append(el.events, event)
	if over := len(el.events) - el.retention; over > 0 {
		el.events = el.events[over:]
	}

	if el.queue != nil && !el.closed {
		el.enqueueLocked(event)
	}
	return event
}

// enqueueLocked hands event to the persister. TICK events are shed when the
// queue is full; feed and milestone events wait for room so a recorded
// session never loses them.
func (el *EventLog) enqueueLocked(event PlantEvent) {
	select {
	case el.queue <- event:
		return
	default:
	}
	if event.Type == EventTypeTick {
		el.dropped++
		return
	}
	el.queue <- event
}

// Since returns the retained events with Seq greater than seq, oldest first.
func (el *EventLog) Since(seq uint64) []PlantEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	i := sort.Search(len(el.events), func(i int) bool {
		return el.events[i].Seq > seq
	})
	out := make([]PlantEvent, len(el.events)-i)
	copy(out, el.events[i:])
	return out
}

// ByType returns the retained events of one type.
func (el *EventLog) ByType(t EventType) []PlantEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []PlantEvent
	for _, e := range el.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

// Replay returns a copy of every retained event.
func (el *EventLog) Replay() []PlantEvent {
	return el.Since(0)
}

// LastSeq returns the sequence number of the newest event, 0 if none.
func (el *EventLog) LastSeq() uint64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.nextSeq
}

// Dropped reports how many TICK events never reached the persister because its queue was full.
func (el *EventLog) Dropped() uint64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.dropped
}

// Close stops accepting persister writes and waits for queued ones to finish.
func (el *EventLog) Close() {
	el.closeOnce.Do(func() {
		el.mu.Lock()
		el.closed = true
		if el.queue != nil {
			close(el.queue)
		}
		el.mu.Unlock()
		el.wg.Wait()
	})
}

func (el *EventLog) persistLoop() {
	defer el.wg.Done()
	for e := range el.queue {
		// Errors are surfaced by the persister itself (metrics/logs)
		_ = el.persister.Append(e)
	}
}
