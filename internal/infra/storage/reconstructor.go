package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
)

// Reconstructor rebuilds a session recap from the recorded event ledger.
// Used by the scenario runner and for auditing; the engine never reads it.
type Reconstructor struct {
	eventRepo EventRepository
}

// NewReconstructor creates a new session reconstructor.
func NewReconstructor(eventRepo EventRepository) *Reconstructor {
	return &Reconstructor{eventRepo: eventRepo}
}

// SessionRecap holds the totals rebuilt from a session's events.
type SessionRecap struct {
	SessionID      string       `json:"session_id"`
	LastTick       int64        `json:"last_tick"`
	FeedsRequested int          `json:"feeds_requested"`
	FeedsCompleted int          `json:"feeds_completed"`
	ManureAddedKG  float64      `json:"manure_added_kg"`
	Milestones     []int        `json:"milestones"` // Thresholds in the order they were rewarded
	Rebaselines    int          `json:"rebaselines"`
	TokenBalance   int          `json:"token_balance"`
	Events         []RecapEvent `json:"events"` // Everything except ticks
}

// RecapEvent is a simplified event for the session recap.
type RecapEvent struct {
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Summary   string `json:"summary"` // Human-readable description
	Impact    string `json:"impact"`  // "POSITIVE", "NEGATIVE", "NEUTRAL"
}

// Rebuild replays a session's events in sequence order.
func (r *Reconstructor) Rebuild(ctx context.Context, sessionID string) (*SessionRecap, error) {
	records, err := r.eventRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events for session: %w", err)
	}

	recap := &SessionRecap{SessionID: sessionID}
	for _, rec := range records {
		if rec.Tick > recap.LastTick {
			recap.LastTick = rec.Tick
		}
		if rec.EventType == string(events.EventTypeTick) {
			continue
		}

		e, err := decodeEvent(rec)
		if err != nil {
			return nil, fmt.Errorf("event %d (%s): %w", rec.Seq, rec.EventType, err)
		}
		applyEvent(recap, e)

		summary, impact := events.Describe(e)
		recap.Events = append(recap.Events, RecapEvent{
			Seq:       rec.Seq,
			Timestamp: formatTime(rec.Timestamp),
			EventType: rec.EventType,
			Summary:   summary,
			Impact:    impact,
		})
	}
	return recap, nil
}

// decodeEvent restores the typed payload of a recorded event.
func decodeEvent(rec EventRecord) (events.PlantEvent, error) {
	e := events.PlantEvent{
		ID:        rec.ID,
		Seq:       rec.Seq,
		Timestamp: rec.Timestamp,
		Type:      events.EventType(rec.EventType),
		ActorID:   rec.ActorID,
		Tick:      rec.Tick,
	}

	var err error
	switch e.Type {
	case events.EventTypeFeedRequested, events.EventTypeFeedCompleted:
		var p events.FeedPayload
		err = json.Unmarshal(rec.Payload, &p)
		e.Payload = p
	case events.EventTypeMilestoneReached:
		var p events.MilestonePayload
		err = json.Unmarshal(rec.Payload, &p)
		e.Payload = p
	case events.EventTypeMilestoneRebaselined:
		var p events.RebaselinePayload
		err = json.Unmarshal(rec.Payload, &p)
		e.Payload = p
	}
	return e, err
}

// applyEvent folds one event into the recap.
func applyEvent(recap *SessionRecap, e events.PlantEvent) {
	switch p := e.Payload.(type) {
	case events.FeedPayload:
		if e.Type == events.EventTypeFeedRequested {
			recap.FeedsRequested++
			return
		}
		recap.FeedsCompleted++
		recap.ManureAddedKG += p.Added
	case events.MilestonePayload:
		recap.Milestones = append(recap.Milestones, p.Threshold)
		recap.TokenBalance = p.TokenBalance
	case events.RebaselinePayload:
		recap.Rebaselines++
	}
}
