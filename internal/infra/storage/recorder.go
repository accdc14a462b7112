package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/logger"
)

// writeTimeout bounds a single recorder write.
const writeTimeout = 2 * time.Second

// sampleQueueSize bounds the tick samples waiting to be written.
const sampleQueueSize = 512

// WriteObserver receives the outcome of every recorder write.
type WriteObserver interface {
	RecordEventWrite(latency time.Duration, err error)
}

// Recorder translates plant events and tick samples to storage records.
// It is an events.EventPersister and an engine.Observer. Tick samples are
// written by a background goroutine and shed when it falls behind.
type Recorder struct {
	sessionID string
	events    EventRepository
	history   HistoryRepository
	sessions  SessionRepository
	metrics   WriteObserver
	logger    *logger.Logger

	mu      sync.Mutex
	samples chan HistoryRecord
	closed  bool
	shed    uint64
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder writing to db under sessionID. metrics may be nil.
func NewRecorder(db *sql.DB, sessionID string, metrics WriteObserver, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Recorder{
		sessionID: sessionID,
		events:    NewSQLiteEventRepository(db),
		history:   NewSQLiteHistoryRepository(db),
		sessions:  NewSQLiteSessionRepository(db),
		metrics:   metrics,
		logger:    log.With("module", "recorder", "session", sessionID),
		samples:   make(chan HistoryRecord, sampleQueueSize),
	}
	r.wg.Add(1)
	go r.sampleLoop()
	return r
}

// SessionID returns the session the recorder writes to.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Begin registers the session row.
func (r *Recorder) Begin(ctx context.Context, startedAt time.Time, config string) error {
	return r.sessions.Create(ctx, Session{ID: r.sessionID, StartedAt: startedAt, Config: config})
}

// Finish flushes queued tick samples and stamps the session end.
// Samples observed afterwards are ignored.
func (r *Recorder) Finish(ctx context.Context, endedAt time.Time, ticks int64) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.samples)
	}
	r.mu.Unlock()
	r.wg.Wait()

	if shed := r.ShedSamples(); shed > 0 {
		r.logger.Warn("tick samples shed", "count", shed)
	}
	return r.sessions.Finish(ctx, r.sessionID, endedAt, ticks)
}

// ShedSamples reports how many tick samples were dropped because the writer fell behind.
func (r *Recorder) ShedSamples() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shed
}

// Append stores one plant event.
func (r *Recorder) Append(event events.PlantEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	rec := EventRecord{
		ID:        event.ID,
		SessionID: r.sessionID,
		Seq:       event.Seq,
		Timestamp: event.Timestamp,
		EventType: string(event.Type),
		ActorID:   event.ActorID,
		Tick:      event.Tick,
		Payload:   payload,
	}
	return r.write(func(ctx context.Context) error {
		return r.events.Append(ctx, rec)
	})
}

// ObserveTick queues the end-of-tick sample. It never waits on storage.
func (r *Recorder) ObserveTick(s engine.Snapshot, _ time.Duration) {
	p := HistoryRecord{
		SessionID:         r.sessionID,
		Tick:              s.TickNumber,
		Timestamp:         s.TakenAt,
		ManureMass:        s.ManureMass,
		GasLevel:          s.GasLevel,
		ElectricityOutput: s.ElectricityOutput,
		TokenBalance:      s.TokenBalance,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.samples <- p:
	default:
		r.shed++
	}
}

func (r *Recorder) sampleLoop() {
	defer r.wg.Done()
	for p := range r.samples {
		_ = r.write(func(ctx context.Context) error {
			return r.history.AppendPoint(ctx, p)
		})
	}
}

func (r *Recorder) ObserveFeed(bool) {}

func (r *Recorder) ObserveMilestone(int) {}

func (r *Recorder) write(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if r.metrics != nil {
		r.metrics.RecordEventWrite(time.Since(start), err)
	}
	if err != nil {
		r.logger.Error("recorder write failed", "error", err)
	}
	return err
}
