package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/digester"
	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/logger"
)

const eps = 1e-9

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func near(a, b float64) bool { return math.Abs(a-b) < eps }

// newTestEngine builds an engine on a manual clock.
func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *ManualClock, *events.EventLog) {
	t.Helper()
	clock := NewManualClock(epoch)
	el := events.NewEventLog(4096, nil)
	opts = append([]Option{WithClock(clock)}, opts...)
	e := NewEngine(cfg, el, logger.NewNop(), opts...)
	t.Cleanup(e.Stop)
	return e, clock, el
}

type recordingObserver struct {
	mu         sync.Mutex
	ticks      int
	requested  int
	completed  int
	milestones []int
}

func (o *recordingObserver) ObserveTick(Snapshot, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks++
}

func (o *recordingObserver) ObserveFeed(completed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if completed {
		o.completed++
	} else {
		o.requested++
	}
}

func (o *recordingObserver) ObserveMilestone(threshold int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.milestones = append(o.milestones, threshold)
}

func TestInitialSnapshot(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	s := e.Snapshot()
	if s.ManureMass != 450 || s.GasLevel != 30 || s.ElectricityOutput != 0 {
		t.Errorf("unexpected initial state %+v", s.State)
	}
	if s.TokenBalance != 0 || s.LastThreshold != 0 || s.IsFeeding {
		t.Errorf("unexpected initial rewards %+v", s.State)
	}
	if len(e.History()) != 0 {
		t.Errorf("expected empty history, got %d points", len(e.History()))
	}
}

func TestInitialStateIsNormalized(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig(), WithInitialState(digester.State{
		ManureMass:    5000,
		GasLevel:      -3,
		TokenBalance:  -1,
		LastThreshold: 60,
		IsFeeding:     true,
	}))

	s := e.Snapshot()
	if s.ManureMass != 1000 || s.GasLevel != 0 || s.TokenBalance != 0 {
		t.Errorf("state not clamped: %+v", s.State)
	}
	if s.LastThreshold != 50 {
		t.Errorf("LastThreshold = %d, want 50", s.LastThreshold)
	}
	if s.IsFeeding || e.PendingFeeds() != 0 {
		t.Errorf("IsFeeding = %v with %d pending feeds", s.IsFeeding, e.PendingFeeds())
	}

	// Nothing is in flight, so advancing the clock must not flip it back.
	clock.Advance(time.Minute)
	if e.Snapshot().IsFeeding {
		t.Error("IsFeeding set without a feed")
	}
}

func TestFirstTick(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	e.Tick()
	s := e.Snapshot()

	if !near(s.ManureMass, 449.5) {
		t.Errorf("manure = %v, want 449.5", s.ManureMass)
	}
	if !near(s.GasLevel, 30.2) {
		t.Errorf("gas = %v, want 30.2", s.GasLevel)
	}
	// Generated from the gas level the tick started with.
	if !near(s.ElectricityOutput, 3.0) {
		t.Errorf("electricity = %v, want 3.0", s.ElectricityOutput)
	}
	// 44.95% fill crosses the 25% milestone on the first manure change.
	if s.TokenBalance != 10 || s.LastThreshold != 25 {
		t.Errorf("rewards = %d tokens / last %d, want 10 / 25", s.TokenBalance, s.LastThreshold)
	}
	if s.TickNumber != 1 {
		t.Errorf("tick number = %d, want 1", s.TickNumber)
	}

	h := e.History()
	if len(h) != 1 {
		t.Fatalf("history has %d points, want 1", len(h))
	}
	if h[0].ManureMass != s.ManureMass || h[0].GasLevel != s.GasLevel || h[0].ElectricityOutput != s.ElectricityOutput {
		t.Errorf("history point %+v does not match state %+v", h[0], s.State)
	}
	if !h[0].Timestamp.Equal(epoch) {
		t.Errorf("history timestamp = %v, want %v", h[0].Timestamp, epoch)
	}
}

func TestElectricityUsesPreTickGas(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig(), WithInitialState(digester.State{ManureMass: 450, GasLevel: 25}))

	e.Tick()
	if got := e.Snapshot().ElectricityOutput; !near(got, 2.5) {
		t.Errorf("electricity = %v, want 2.5", got)
	}
}

func TestBoundsHoldEveryTick(t *testing.T) {
	cfg := DefaultConfig()
	e, clock, _ := newTestEngine(t, cfg)

	tokens := 0
	for i := 0; i < 3000; i++ {
		if i%7 == 0 && i < 1500 {
			e.InjectManure()
		}
		e.Tick()
		clock.Advance(cfg.TickPeriod)

		s := e.Snapshot()
		if s.ManureMass < 100 || s.ManureMass > 1000 {
			t.Fatalf("tick %d: manure %v out of bounds", i, s.ManureMass)
		}
		if s.GasLevel < 0 || s.GasLevel > 100 {
			t.Fatalf("tick %d: gas %v out of bounds", i, s.GasLevel)
		}
		if s.ElectricityOutput < 0 {
			t.Fatalf("tick %d: electricity %v negative", i, s.ElectricityOutput)
		}
		if s.TokenBalance < tokens {
			t.Fatalf("tick %d: tokens went down from %d to %d", i, tokens, s.TokenBalance)
		}
		tokens = s.TokenBalance
	}
}

func TestManureDecaysToFloorAndHolds(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	for i := 0; i < 700; i++ {
		e.Tick()
	}
	if got := e.Snapshot().ManureMass; got != 100 {
		t.Fatalf("manure after 700 ticks = %v, want exactly 100", got)
	}
	for i := 0; i < 50; i++ {
		e.Tick()
	}
	if got := e.Snapshot().ManureMass; got != 100 {
		t.Errorf("manure should hold at 100, got %v", got)
	}
}

func TestGasFallsOnceStarved(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig(), WithInitialState(digester.State{ManureMass: 200, GasLevel: 0.25}))

	e.Tick()
	if got := e.Snapshot().GasLevel; !near(got, 0.15) {
		t.Errorf("gas = %v, want 0.15", got)
	}
	e.Tick()
	e.Tick()
	if got := e.Snapshot().GasLevel; got != 0 {
		t.Errorf("gas should floor at 0, got %v", got)
	}
}

func TestFeedLandsAfterDelayAndSaturates(t *testing.T) {
	cfg := DefaultConfig()
	e, clock, el := newTestEngine(t, cfg, WithInitialState(digester.State{ManureMass: 900, GasLevel: 30, LastThreshold: 90}))

	e.InjectManure()
	s := e.Snapshot()
	if !s.IsFeeding {
		t.Error("expected IsFeeding immediately after the request")
	}
	if s.ManureMass != 900 {
		t.Errorf("manure changed before the delay: %v", s.ManureMass)
	}

	clock.Advance(cfg.FeedDelay - time.Millisecond)
	if got := e.Snapshot().ManureMass; got != 900 {
		t.Errorf("manure changed before the delay: %v", got)
	}

	clock.Advance(time.Millisecond)
	s = e.Snapshot()
	if s.ManureMass != 1000 {
		t.Errorf("manure = %v, want 1000", s.ManureMass)
	}
	if s.IsFeeding {
		t.Error("IsFeeding should clear once the feed lands")
	}

	done := el.ByType(events.EventTypeFeedCompleted)
	if len(done) != 1 {
		t.Fatalf("expected 1 FEED_COMPLETED event, got %d", len(done))
	}
	p, ok := done[0].Payload.(events.FeedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", done[0].Payload)
	}
	if !p.Saturated || p.Added != 100 {
		t.Errorf("payload = %+v, want saturated with 100 kg added", p)
	}
}

func TestConcurrentFeedsEachComplete(t *testing.T) {
	cfg := DefaultConfig()
	e, clock, _ := newTestEngine(t, cfg, WithInitialState(digester.State{ManureMass: 300, GasLevel: 30, LastThreshold: 25}))

	e.InjectManure()
	clock.Advance(cfg.FeedDelay / 2)
	e.InjectManure()
	if e.PendingFeeds() != 2 {
		t.Fatalf("pending = %d, want 2", e.PendingFeeds())
	}

	clock.Advance(cfg.FeedDelay / 2)
	s := e.Snapshot()
	if s.ManureMass != 450 {
		t.Errorf("after first feed manure = %v, want 450", s.ManureMass)
	}
	if !s.IsFeeding {
		t.Error("IsFeeding should stay set while a feed is still in flight")
	}

	clock.Advance(cfg.FeedDelay / 2)
	s = e.Snapshot()
	if s.ManureMass != 600 || s.IsFeeding {
		t.Errorf("after second feed got manure %v feeding %v, want 600 false", s.ManureMass, s.IsFeeding)
	}
}

func TestMilestoneAwardedOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Params.FeedMass = 20
	obs := &recordingObserver{}
	e, clock, el := newTestEngine(t, cfg,
		WithInitialState(digester.State{ManureMass: 240, GasLevel: 30}),
		WithObserver(obs),
	)

	// 24% -> 26%
	e.InjectManure()
	clock.Advance(cfg.FeedDelay)
	s := e.Snapshot()
	if s.TokenBalance != 10 || s.LastThreshold != 25 {
		t.Fatalf("after 24%%->26%% got %d tokens / last %d, want 10 / 25", s.TokenBalance, s.LastThreshold)
	}

	// 26% -> 30% awards nothing
	for i := 0; i < 2; i++ {
		e.InjectManure()
		clock.Advance(cfg.FeedDelay)
	}
	for i := 0; i < 5; i++ {
		e.Tick()
	}
	s = e.Snapshot()
	if s.TokenBalance != 10 || s.LastThreshold != 25 {
		t.Errorf("after 26%%->30%% got %d tokens / last %d, want 10 / 25", s.TokenBalance, s.LastThreshold)
	}

	reached := el.ByType(events.EventTypeMilestoneReached)
	if len(reached) != 1 {
		t.Fatalf("expected 1 MILESTONE_REACHED event, got %d", len(reached))
	}
	m := reached[0].Payload.(events.MilestonePayload)
	if m.Threshold != 25 || m.TokensAwarded != 10 || m.TokenBalance != 10 {
		t.Errorf("milestone payload = %+v", m)
	}
	if m.DisplayFor != cfg.AlertDuration || m.DisplayForMS != 3000 {
		t.Errorf("display window = %v / %dms, want %v", m.DisplayFor, m.DisplayForMS, cfg.AlertDuration)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.milestones) != 1 || obs.milestones[0] != 25 {
		t.Errorf("observer milestones = %v, want [25]", obs.milestones)
	}
	if obs.requested != 3 || obs.completed != 3 {
		t.Errorf("observer feeds = %d requested / %d completed, want 3 / 3", obs.requested, obs.completed)
	}
	if obs.ticks != 5 {
		t.Errorf("observer ticks = %d, want 5", obs.ticks)
	}
}

func TestDipRebaselinesWithoutClawback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Params.DecayPerTick = 160
	e, _, el := newTestEngine(t, cfg,
		WithInitialState(digester.State{ManureMass: 300, GasLevel: 30, TokenBalance: 10, LastThreshold: 25}))

	// 30% -> 14%
	e.Tick()
	s := e.Snapshot()
	if s.LastThreshold != 0 {
		t.Errorf("last threshold = %d, want 0", s.LastThreshold)
	}
	if s.TokenBalance != 10 {
		t.Errorf("tokens = %d, want 10 (never clawed back)", s.TokenBalance)
	}

	rb := el.ByType(events.EventTypeMilestoneRebaselined)
	if len(rb) != 1 {
		t.Fatalf("expected 1 MILESTONE_REBASELINED event, got %d", len(rb))
	}
	if p := rb[0].Payload.(events.RebaselinePayload); p.From != 25 || p.To != 0 {
		t.Errorf("rebaseline payload = %+v, want 25 -> 0", p)
	}
}

func TestMilestoneBannerWindow(t *testing.T) {
	cfg := DefaultConfig()
	e, clock, _ := newTestEngine(t, cfg)

	if _, ok := e.ActiveMilestone(); ok {
		t.Fatal("no banner expected before any milestone")
	}

	e.Tick()
	m, ok := e.ActiveMilestone()
	if !ok || m.Threshold != 25 {
		t.Fatalf("ActiveMilestone = %+v, %v; want 25 active", m, ok)
	}
	if e.Snapshot().Alert == nil {
		t.Error("snapshot should carry the alert while it is active")
	}

	clock.Advance(cfg.AlertDuration - time.Millisecond)
	if _, ok := e.ActiveMilestone(); !ok {
		t.Error("banner expired early")
	}

	clock.Advance(time.Millisecond)
	if _, ok := e.ActiveMilestone(); ok {
		t.Error("banner should expire after the display window")
	}
	if e.Snapshot().Alert != nil {
		t.Error("snapshot should drop the alert after expiry")
	}
}

func TestHistoryKeepsLatestInOrder(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	for i := 0; i < 150; i++ {
		e.Tick()
	}

	h := e.History()
	if len(h) != 100 {
		t.Fatalf("history has %d points, want 100", len(h))
	}
	for i, p := range h {
		if want := int64(51 + i); p.Tick != want {
			t.Fatalf("point %d has tick %d, want %d", i, p.Tick, want)
		}
		if i > 0 && p.ManureMass >= h[i-1].ManureMass {
			t.Errorf("point %d manure %v not below previous %v", i, p.ManureMass, h[i-1].ManureMass)
		}
	}
	if !near(h[99].ManureMass, 375) {
		t.Errorf("newest manure = %v, want 375", h[99].ManureMass)
	}

	// Callers get a copy.
	h[0].ManureMass = -1
	if e.History()[0].ManureMass == -1 {
		t.Error("History returned shared storage")
	}
}

func TestStopCancelsPendingFeeds(t *testing.T) {
	cfg := DefaultConfig()
	e, clock, _ := newTestEngine(t, cfg)

	e.InjectManure()
	e.Stop()
	e.Stop()

	if clock.Pending() != 0 {
		t.Errorf("clock still holds %d timers after Stop", clock.Pending())
	}
	clock.Advance(2 * cfg.FeedDelay)

	s := e.Snapshot()
	if s.ManureMass != 450 || s.IsFeeding {
		t.Errorf("after Stop got manure %v feeding %v, want 450 false", s.ManureMass, s.IsFeeding)
	}

	e.InjectManure()
	e.Tick()
	if got := e.Snapshot(); got.IsFeeding || got.TickNumber != 0 {
		t.Errorf("operations after Stop should be ignored, got %+v", got)
	}
}

func TestStartDrivesTicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickPeriod = 2 * time.Millisecond
	e := NewEngine(cfg, nil, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for e.Snapshot().TickNumber < 3 {
		if time.Now().After(deadline) {
			t.Fatal("ticker did not advance the engine")
		}
		time.Sleep(time.Millisecond)
	}
	e.Stop()

	n := e.Snapshot().TickNumber
	time.Sleep(10 * time.Millisecond)
	if got := e.Snapshot().TickNumber; got != n {
		t.Errorf("ticks continued after Stop: %d -> %d", n, got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FeedDelay = time.Millisecond
	e := NewEngine(cfg, nil, logger.NewNop())
	defer e.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				e.Tick()
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				e.InjectManure()
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := e.Snapshot()
				if s.ManureMass < 100 || s.ManureMass > 1000 {
					t.Errorf("manure %v out of bounds", s.ManureMass)
					return
				}
				_ = e.History()
			}
		}()
	}
	wg.Wait()

	if got := e.Snapshot().TickNumber; got != 800 {
		t.Errorf("tick number = %d, want 800", got)
	}
	if got := len(e.History()); got != 100 {
		t.Errorf("history has %d points, want 100", got)
	}
}

func TestStartWhileFeeding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickPeriod = time.Hour
	cfg.FeedDelay = time.Millisecond
	e := NewEngine(cfg, nil, logger.NewNop())
	defer e.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			e.InjectManure()
			e.Tick()
		}
	}()
	go func() {
		defer wg.Done()
		e.Start(ctx)
	}()
	wg.Wait()

	if got := e.Snapshot().TickNumber; got != 50 {
		t.Errorf("tick number = %d, want 50", got)
	}
}
