// Package storage provides the optional session recorder of the pilot server.
// It implements the repository pattern to keep the domain pure. Recorded data is
// an audit trail only: nothing here is ever loaded back into the engine.
package storage

import (
	"context"
	"encoding/json"
	"time"
)

// EventRecord mirrors the plant event structure for persistence.
// The domain package should NOT import this; use interfaces instead.
type EventRecord struct {
	ID        string          `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	Seq       uint64          `json:"seq" db:"seq"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	EventType string          `json:"event_type" db:"event_type"`
	ActorID   string          `json:"actor_id" db:"actor_id"`
	Tick      int64           `json:"tick" db:"tick"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
}

// EventRepository defines the interface for event persistence.
type EventRepository interface {
	// Append adds a new event to the immutable ledger.
	Append(ctx context.Context, event EventRecord) error

	// ListBySession retrieves a session's events in sequence order.
	ListBySession(ctx context.Context, sessionID string) ([]EventRecord, error)

	// ListByType retrieves the newest events of one type, at most limit, in sequence order.
	ListByType(ctx context.Context, sessionID, eventType string, limit int) ([]EventRecord, error)

	// CountByType counts a session's events per type.
	CountByType(ctx context.Context, sessionID string) (map[string]int, error)
}

// HistoryRecord is one recorded end-of-tick sample.
type HistoryRecord struct {
	SessionID         string    `json:"session_id" db:"session_id"`
	Tick              int64     `json:"tick" db:"tick"`
	Timestamp         time.Time `json:"timestamp" db:"timestamp"`
	ManureMass        float64   `json:"manure_mass" db:"manure_mass"`
	GasLevel          float64   `json:"gas_level" db:"gas_level"`
	ElectricityOutput float64   `json:"electricity_output" db:"electricity_output"`
	TokenBalance      int       `json:"token_balance" db:"token_balance"`
}

// HistoryRepository defines the interface for tick sample persistence.
type HistoryRepository interface {
	AppendPoint(ctx context.Context, point HistoryRecord) error
	CountPoints(ctx context.Context, sessionID string) (int, error)
}

// Session describes one server run.
type Session struct {
	ID        string    `json:"session_id" db:"session_id"`
	StartedAt time.Time `json:"started_at" db:"started_at"`
	EndedAt   time.Time `json:"ended_at" db:"ended_at"` // Zero while running
	Ticks     int64     `json:"ticks" db:"ticks"`
	Config    string    `json:"config" db:"config"` // YAML the session ran with
}

// SessionRepository defines the interface for session bookkeeping.
type SessionRepository interface {
	Create(ctx context.Context, s Session) error
	Finish(ctx context.Context, id string, endedAt time.Time, ticks int64) error
	Get(ctx context.Context, id string) (*Session, error)
}
