package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, event EventRecord) error {
	payload := string(event.Payload)
	if payload == "" {
		payload = "null"
	}

	query := `
		INSERT INTO events (id, session_id, seq, timestamp, event_type, actor_id, tick, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.SessionID, int64(event.Seq), formatTime(event.Timestamp), event.EventType,
		event.ActorID, event.Tick, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var e EventRecord
		var seq int64
		var ts, payload string
		if err := rows.Scan(&e.ID, &e.SessionID, &seq, &ts, &e.EventType, &e.ActorID, &e.Tick, &payload); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		e.Payload = []byte(payload)
		records = append(records, e)
	}
	return records, rows.Err()
}

func (r *SQLiteEventRepository) ListBySession(ctx context.Context, sessionID string) ([]EventRecord, error) {
	query := `SELECT id, session_id, seq, timestamp, event_type, actor_id, tick, payload FROM events WHERE session_id = ? ORDER BY seq ASC`
	return r.getMany(ctx, query, sessionID)
}

func (r *SQLiteEventRepository) ListByType(ctx context.Context, sessionID, eventType string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `SELECT id, session_id, seq, timestamp, event_type, actor_id, tick, payload FROM (
		SELECT * FROM events WHERE session_id = ? AND event_type = ? ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`
	return r.getMany(ctx, query, sessionID, eventType, limit)
}

func (r *SQLiteEventRepository) CountByType(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM events WHERE session_id = ? GROUP BY event_type`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// ---------------------------------------------------------
// SQLiteHistoryRepository
// ---------------------------------------------------------

type SQLiteHistoryRepository struct {
	db *sql.DB
}

func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

func (r *SQLiteHistoryRepository) AppendPoint(ctx context.Context, p HistoryRecord) error {
	query := `
		INSERT INTO history_points (session_id, tick, timestamp, manure_mass, gas_level, electricity_output, token_balance)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.SessionID, p.Tick, formatTime(p.Timestamp), p.ManureMass, p.GasLevel, p.ElectricityOutput, p.TokenBalance,
	)
	if err != nil {
		return fmt.Errorf("failed to append history point: %w", err)
	}
	return nil
}

func (r *SQLiteHistoryRepository) CountPoints(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_points WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// ---------------------------------------------------------
// SQLiteSessionRepository
// ---------------------------------------------------------

type SQLiteSessionRepository struct {
	db *sql.DB
}

func NewSQLiteSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

func (r *SQLiteSessionRepository) Create(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at, config) VALUES (?, ?, ?)`,
		s.ID, formatTime(s.StartedAt), s.Config,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SQLiteSessionRepository) Finish(ctx context.Context, id string, endedAt time.Time, ticks int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, ticks = ? WHERE session_id = ?`,
		formatTime(endedAt), ticks, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to finish session: %s not found", id)
	}
	return nil
}

func (r *SQLiteSessionRepository) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	var started, ended string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id, started_at, ended_at, ticks, config FROM sessions WHERE session_id = ?`, id,
	).Scan(&s.ID, &started, &ended, &s.Ticks, &s.Config)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if s.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if s.EndedAt, err = parseTime(ended); err != nil {
		return nil, err
	}
	return &s, nil
}
