package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/digester"
	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/rules"
	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/logger"
)

// Config holds the numeric policy and timing of one engine.
type Config struct {
	Params        digester.Params
	Rewards       rules.RewardRule
	Grid          rules.Grid
	TickPeriod    time.Duration
	FeedDelay     time.Duration // Time between a feed request and the manure landing
	AlertDuration time.Duration // Suggested banner time for a milestone
	HistorySize   int
}

// DefaultConfig returns the reference pilot configuration.
func DefaultConfig() Config {
	return Config{
		Params:        digester.DefaultParams(),
		Rewards:       rules.DefaultRewardRule(),
		Grid:          rules.DefaultGrid(),
		TickPeriod:    DefaultTickPeriod,
		FeedDelay:     1 * time.Second,
		AlertDuration: 3 * time.Second,
		HistorySize:   DefaultHistorySize,
	}
}

// Snapshot is a consistent point-in-time view of the plant.
type Snapshot struct {
	digester.State
	FillPercent  float64                  `json:"fill_percent"`
	GridExport   float64                  `json:"grid_export"`
	HousesActive bool                     `json:"houses_active"`
	LitHouses    int                      `json:"lit_houses"`
	TickNumber   int64                    `json:"tick_number"`
	TakenAt      time.Time                `json:"taken_at"`
	Alert        *events.MilestonePayload `json:"alert,omitempty"` // Set while a milestone banner is due
}

// Observer is notified after engine operations complete, outside the engine lock.
type Observer interface {
	ObserveTick(snap Snapshot, took time.Duration)
	ObserveFeed(completed bool)
	ObserveMilestone(threshold int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for feed timers and banners.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithInitialState starts the engine from s instead of the reference state.
// Fields outside their domain are clamped, LastThreshold is snapped onto the
// reward ladder and IsFeeding is cleared since no feed is pending yet.
func WithInitialState(s digester.State) Option {
	return func(e *Engine) { e.state = s }
}

// Engine owns the digester state and is the only place it changes.
type Engine struct {
	mu         sync.RWMutex
	cfg        Config
	state      digester.State
	tickNumber int64
	history    *HistoryBuffer
	alert      *events.MilestonePayload
	pending    map[uint64]Timer // Feed completion timers by feed ID
	nextFeed   uint64
	started    bool
	stopped    bool

	clock     Clock
	observers []Observer
	eventLog  *events.EventLog
	logger    *logger.Logger
	ticker    *Ticker
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine creates a stopped engine. A nil eventLog gets a private in-memory log.
func NewEngine(cfg Config, eventLog *events.EventLog, log *logger.Logger, opts ...Option) *Engine {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = DefaultHistorySize
	}
	if len(cfg.Rewards.Thresholds) == 0 {
		cfg.Rewards = rules.DefaultRewardRule()
	}
	if eventLog == nil {
		eventLog = events.NewEventLog(0, nil)
	}
	if log == nil {
		log = logger.NewNop()
	}

	e := &Engine{
		cfg:      cfg,
		state:    digester.InitialState(),
		history:  NewHistoryBuffer(cfg.HistorySize),
		pending:  make(map[uint64]Timer),
		clock:    SystemClock(),
		eventLog: eventLog,
		logger:   log.With("module", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state = cfg.Params.Normalize(e.state)
	e.state.LastThreshold = cfg.Rewards.Snap(e.state.LastThreshold)
	e.state.IsFeeding = false
	e.ticker = NewTicker(cfg.TickPeriod, e.Tick, e.logger)
	return e
}

// Start spawns the Ticker. The context bounds the tick loop only; call Stop to
// release pending feed timers.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.mu.Lock()
		e.started = true
		manure, gas := e.state.ManureMass, e.state.GasLevel
		e.mu.Unlock()

		e.logger.Info("starting simulation engine",
			"tick_period", e.cfg.TickPeriod,
			"feed_delay", e.cfg.FeedDelay,
			"manure_kg", manure,
			"gas_pct", gas,
		)
		go e.ticker.Start(ctx)
	})
}

// Stop halts the ticker and cancels every in-flight feed. Idempotent.
// Ticks and feeds requested afterwards are ignored.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.ticker.Stop()

		e.mu.Lock()
		e.stopped = true
		cancelled := len(e.pending)
		for id, t := range e.pending {
			t.Stop()
			delete(e.pending, id)
		}
		e.state.IsFeeding = false
		started := e.started
		ticks := e.tickNumber
		e.mu.Unlock()

		if started {
			<-e.ticker.Done()
		}
		e.logger.Info("simulation engine stopped", "ticks", ticks, "cancelled_feeds", cancelled)
	})
}

// Tick advances the plant by one time unit. It is safe to call directly;
// ticks never interleave with each other or with feed completion.
func (e *Engine) Tick() {
	started := time.Now()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}

	prev := e.state
	e.state = e.cfg.Params.Advance(prev)
	e.tickNumber++
	now := e.clock.Now()

	var rewards []events.PlantEvent
	if e.state.ManureMass != prev.ManureMass {
		rewards = e.evaluateRewardsLocked(now)
	}

	e.history.Append(HistoryPoint{
		Tick:              e.tickNumber,
		Timestamp:         now,
		GasLevel:          e.state.GasLevel,
		ElectricityOutput: e.state.ElectricityOutput,
		ManureMass:        e.state.ManureMass,
	})

	snap := e.snapshotLocked(now)
	emitted := []events.PlantEvent{e.eventLog.Append(events.PlantEvent{
		Timestamp: now,
		Type:      events.EventTypeTick,
		ActorID:   events.ActorPlant,
		Tick:      e.tickNumber,
		Payload:   snap,
	})}
	emitted = append(emitted, e.appendLocked(rewards)...)
	e.mu.Unlock()

	took := time.Since(started)
	for _, o := range e.observers {
		o.ObserveTick(snap, took)
	}
	e.notify(emitted)
}

// InjectManure requests one feed. The manure lands after the configured feed delay.
// It never fails; a feed that would overflow the digester saturates at capacity.
func (e *Engine) InjectManure() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		e.logger.Warn("feed ignored: engine stopped")
		return
	}

	e.nextFeed++
	id := e.nextFeed
	e.state.IsFeeding = true
	e.pending[id] = e.clock.AfterFunc(e.cfg.FeedDelay, func() {
		e.completeFeed(id)
	})

	mass := e.state.ManureMass
	ev := e.eventLog.Append(events.PlantEvent{
		Timestamp: e.clock.Now(),
		Type:      events.EventTypeFeedRequested,
		ActorID:   events.ActorOperator,
		Tick:      e.tickNumber,
		Payload: events.FeedPayload{
			FeedID:       id,
			ManureBefore: mass,
			ManureAfter:  mass,
			Pending:      len(e.pending),
		},
	})
	e.mu.Unlock()

	e.notify([]events.PlantEvent{ev})
}

func (e *Engine) completeFeed(id uint64) {
	e.mu.Lock()
	if _, ok := e.pending[id]; !ok {
		// Cancelled by Stop
		e.mu.Unlock()
		return
	}
	delete(e.pending, id)

	before := e.state.ManureMass
	e.state.ManureMass = e.cfg.Params.AddFeed(before)
	e.state.IsFeeding = len(e.pending) > 0
	now := e.clock.Now()

	emitted := []events.PlantEvent{e.eventLog.Append(events.PlantEvent{
		Timestamp: now,
		Type:      events.EventTypeFeedCompleted,
		ActorID:   events.ActorOperator,
		Tick:      e.tickNumber,
		Payload: events.FeedPayload{
			FeedID:       id,
			ManureBefore: before,
			ManureAfter:  e.state.ManureMass,
			Added:        e.state.ManureMass - before,
			Saturated:    before+e.cfg.Params.FeedMass > e.cfg.Params.ManureCapacity,
			Pending:      len(e.pending),
		},
	})}
	if e.state.ManureMass != before {
		emitted = append(emitted, e.appendLocked(e.evaluateRewardsLocked(now))...)
	}
	e.mu.Unlock()

	e.notify(emitted)
}

// evaluateRewardsLocked applies the milestone rule to the current manure mass
// and returns the events to record. Caller holds e.mu.
func (e *Engine) evaluateRewardsLocked(now time.Time) []events.PlantEvent {
	level := e.cfg.Params.FillPercent(e.state.ManureMass)
	out := e.cfg.Rewards.Evaluate(level, e.state.LastThreshold)

	switch {
	case out.Awarded:
		e.state.TokenBalance += out.Tokens
		e.state.LastThreshold = out.LastThreshold
		m := events.MilestonePayload{
			Threshold:     out.LastThreshold,
			TokensAwarded: out.Tokens,
			TokenBalance:  e.state.TokenBalance,
			FillPercent:   level,
			ReachedAt:     now,
			DisplayFor:    e.cfg.AlertDuration,
			DisplayForMS:  e.cfg.AlertDuration.Milliseconds(),
		}
		e.alert = &m
		return []events.PlantEvent{{
			Timestamp: now,
			Type:      events.EventTypeMilestoneReached,
			ActorID:   events.ActorPlant,
			Tick:      e.tickNumber,
			Payload:   m,
		}}

	case out.Rebaselined:
		from := e.state.LastThreshold
		e.state.LastThreshold = out.LastThreshold
		return []events.PlantEvent{{
			Timestamp: now,
			Type:      events.EventTypeMilestoneRebaselined,
			ActorID:   events.ActorPlant,
			Tick:      e.tickNumber,
			Payload: events.RebaselinePayload{
				From:        from,
				To:          out.LastThreshold,
				FillPercent: level,
			},
		}}
	}
	return nil
}

func (e *Engine) appendLocked(evs []events.PlantEvent) []events.PlantEvent {
	for i := range evs {
		evs[i] = e.eventLog.Append(evs[i])
	}
	return evs
}

// notify forwards recorded events to observers and the log.
func (e *Engine) notify(evs []events.PlantEvent) {
	for _, ev := range evs {
		switch p := ev.Payload.(type) {
		case events.FeedPayload:
			completed := ev.Type == events.EventTypeFeedCompleted
			for _, o := range e.observers {
				o.ObserveFeed(completed)
			}
			e.logger.Event(string(ev.Type), ev.ActorID,
				fmt.Sprintf("feed %d: %.1f -> %.1f kg (pending %d)", p.FeedID, p.ManureBefore, p.ManureAfter, p.Pending))

		case events.MilestonePayload:
			for _, o := range e.observers {
				o.ObserveMilestone(p.Threshold)
			}
			e.logger.Event(string(ev.Type), ev.ActorID,
				fmt.Sprintf("%d%% reached at %.2f%% fill, +%d tokens (balance %d)", p.Threshold, p.FillPercent, p.TokensAwarded, p.TokenBalance))

		case events.RebaselinePayload:
			e.logger.Event(string(ev.Type), ev.ActorID,
				fmt.Sprintf("baseline %d%% -> %d%% at %.2f%% fill", p.From, p.To, p.FillPercent))

		case Snapshot:
			e.logger.Debug("tick", "tick", p.TickNumber, "manure_kg", p.ManureMass, "gas_pct", p.GasLevel, "kw", p.ElectricityOutput)
		}
	}
}

// Snapshot returns a consistent copy of the current plant state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked(e.clock.Now())
}

func (e *Engine) snapshotLocked(now time.Time) Snapshot {
	out := e.state.ElectricityOutput
	s := Snapshot{
		State:        e.state,
		FillPercent:  e.cfg.Params.FillPercent(e.state.ManureMass),
		GridExport:   e.cfg.Grid.Export(out),
		HousesActive: e.cfg.Grid.HousesActive(out),
		LitHouses:    e.cfg.Grid.LitHouses(out),
		TickNumber:   e.tickNumber,
		TakenAt:      now,
	}
	if e.alert != nil && e.alert.Active(now) {
		a := *e.alert
		s.Alert = &a
	}
	return s
}

// History returns the recorded points, oldest first.
func (e *Engine) History() []HistoryPoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.Points()
}

// ActiveMilestone returns the latest milestone notification while it is still
// within its display window.
func (e *Engine) ActiveMilestone() (events.MilestonePayload, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.alert == nil || !e.alert.Active(e.clock.Now()) {
		return events.MilestonePayload{}, false
	}
	return *e.alert, true
}

// PendingFeeds returns the number of feeds in flight.
func (e *Engine) PendingFeeds() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pending)
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// GetEventLog exposes the event log for the network layer.
func (e *Engine) GetEventLog() *events.EventLog {
	return e.eventLog
}

// Stopped reports whether Stop has been called.
func (e *Engine) Stopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}
