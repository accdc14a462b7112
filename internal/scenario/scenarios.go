package scenario

import (
	"math"

	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/digester"
	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

// Scenario is one scripted session.
type Scenario struct {
	Name        string
	Description string
	Configure   func(cfg *engine.Config) // Optional tweak of the reference config
	Initial     *digester.State          // Optional; the reference start otherwise
	Run         func(h *Harness)
}

// All returns the built-in scenarios in run order.
func All() []Scenario {
	return []Scenario{
		{
			Name:        "bounds-under-load",
			Description: "3000 ticks with a feed every 5 ticks never leave the state domain",
			Run: func(h *Harness) {
				h.TickEach(3000, func(i int, s engine.Snapshot) {
					h.CheckBounds(s.State)
					if i%5 == 0 {
						h.Engine.InjectManure()
					}
				})
			},
		},
		{
			Name:        "decay-to-floor",
			Description: "450 kg decays to exactly 100 kg after 700 ticks and holds",
			Run: func(h *Harness) {
				h.Tick(699)
				h.Check(h.Snapshot().ManureMass == 100.5, "manure after 699 ticks = %v, want 100.5", h.Snapshot().ManureMass)
				h.Tick(1)
				h.Check(h.Snapshot().ManureMass == 100, "manure after 700 ticks = %v, want 100", h.Snapshot().ManureMass)
				h.Tick(50)
				h.Check(h.Snapshot().ManureMass == 100, "manure after 750 ticks = %v, want 100", h.Snapshot().ManureMass)
			},
		},
		{
			Name:        "gas-rises",
			Description: "gas 30 rises to 30.2 in one tick and the generator reads the starting level",
			Run: func(h *Harness) {
				h.Tick(1)
				s := h.Snapshot()
				h.Check(near(s.GasLevel, 30.2), "gas = %v, want 30.2", s.GasLevel)
				h.Check(near(s.ElectricityOutput, 3.0), "electricity = %v, want 3.0", s.ElectricityOutput)
				h.Check(s.GridExport == 0 && s.HousesActive, "grid export %v houses %v, want 0 and lit", s.GridExport, s.HousesActive)
			},
		},
		{
			Name:        "gas-starves",
			Description: "with manure at or below 200 kg gas falls 0.1 per tick",
			Initial:     &digester.State{ManureMass: 200, GasLevel: 50},
			Run: func(h *Harness) {
				h.Tick(1)
				h.Check(near(h.Snapshot().GasLevel, 49.9), "gas after 1 tick = %v, want 49.9", h.Snapshot().GasLevel)
				h.Tick(10)
				h.Check(near(h.Snapshot().GasLevel, 48.9), "gas after 11 ticks = %v, want 48.9", h.Snapshot().GasLevel)
			},
		},
		{
			Name:        "gas-floor",
			Description: "gas never drops below 0 and the generator stays off",
			Initial:     &digester.State{ManureMass: 150, GasLevel: 0.25},
			Run: func(h *Harness) {
				h.TickEach(5, func(_ int, s engine.Snapshot) {
					h.Check(s.GasLevel >= 0, "gas = %v below 0", s.GasLevel)
					h.Check(s.ElectricityOutput == 0, "electricity = %v, want 0", s.ElectricityOutput)
				})
				h.Check(h.Snapshot().GasLevel == 0, "gas = %v, want 0", h.Snapshot().GasLevel)
			},
		},
		{
			Name:        "generator-output",
			Description: "gas 25 yields 2.5 kW",
			Initial:     &digester.State{ManureMass: 450, GasLevel: 25},
			Run: func(h *Harness) {
				h.Tick(1)
				h.Check(near(h.Snapshot().ElectricityOutput, 2.5), "electricity = %v, want 2.5", h.Snapshot().ElectricityOutput)
			},
		},
		{
			Name:        "generator-threshold",
			Description: "gas at 20 yields no output; just above it the generator starts",
			Initial:     &digester.State{ManureMass: 450, GasLevel: 20},
			Run: func(h *Harness) {
				h.Tick(1)
				s := h.Snapshot()
				h.Check(s.ElectricityOutput == 0, "electricity at gas 20 = %v, want 0", s.ElectricityOutput)
				h.Check(!s.HousesActive, "houses lit with no output")
				h.Tick(1)
				h.Check(near(h.Snapshot().ElectricityOutput, 2.02), "electricity at gas 20.2 = %v, want 2.02", h.Snapshot().ElectricityOutput)
			},
		},
		{
			Name:        "feed-saturates",
			Description: "a feed at 900 kg lands at 1000 kg after the feed delay",
			Initial:     &digester.State{ManureMass: 900, GasLevel: 30},
			Run: func(h *Harness) {
				h.Engine.InjectManure()
				s := h.Snapshot()
				h.Check(s.IsFeeding, "not feeding right after the request")
				h.Check(s.ManureMass == 900, "manure moved before the delay: %v", s.ManureMass)

				h.Clock.Advance(h.Config.FeedDelay)
				s = h.Snapshot()
				h.Check(s.ManureMass == 1000, "manure = %v, want 1000", s.ManureMass)
				h.Check(!s.IsFeeding, "still feeding after the feed landed")

				done := h.Events.ByType(events.EventTypeFeedCompleted)
				if h.Check(len(done) == 1, "feed completions = %d, want 1", len(done)) {
					p, _ := done[0].Payload.(events.FeedPayload)
					h.Check(p.Saturated && p.Added == 100, "completion payload = %+v", p)
				}
			},
		},
		{
			Name:        "milestone-once",
			Description: "crossing 25% awards 10 tokens once; later fills under 50% award nothing",
			Configure: func(cfg *engine.Config) {
				cfg.Params.FeedMass = 20
			},
			Initial: &digester.State{ManureMass: 240, GasLevel: 30},
			Run: func(h *Harness) {
				h.Feed()
				s := h.Snapshot()
				h.Check(near(s.FillPercent, 26), "fill = %v, want 26", s.FillPercent)
				h.Check(s.TokenBalance == 10 && s.LastThreshold == 25, "tokens %d last %d, want 10 and 25", s.TokenBalance, s.LastThreshold)
				h.Check(s.Alert != nil && s.Alert.Threshold == 25, "no banner for the 25%% milestone")

				h.Feed()
				h.Feed()
				s = h.Snapshot()
				h.Check(near(s.FillPercent, 30), "fill = %v, want 30", s.FillPercent)
				h.Check(s.TokenBalance == 10, "tokens = %d after refilling, want 10", s.TokenBalance)

				n := len(h.Events.ByType(events.EventTypeMilestoneReached))
				h.Check(n == 1, "milestone events = %d, want 1", n)

				h.Clock.Advance(h.Config.AlertDuration)
				h.Check(h.Snapshot().Alert == nil, "banner still due after its display time")
			},
		},
		{
			Name:        "milestone-rebaseline",
			Description: "falling from 30% to 14% drops the baseline to 0 and keeps the tokens",
			Configure: func(cfg *engine.Config) {
				cfg.Params.DecayPerTick = 160
			},
			Initial: &digester.State{ManureMass: 300, GasLevel: 30, TokenBalance: 10, LastThreshold: 25},
			Run: func(h *Harness) {
				h.Tick(1)
				s := h.Snapshot()
				h.Check(near(s.FillPercent, 14), "fill = %v, want 14", s.FillPercent)
				h.Check(s.LastThreshold == 0, "last threshold = %d, want 0", s.LastThreshold)
				h.Check(s.TokenBalance == 10, "tokens = %d, want 10", s.TokenBalance)

				n := len(h.Events.ByType(events.EventTypeMilestoneRebaselined))
				h.Check(n == 1, "rebaseline events = %d, want 1", n)
			},
		},
		{
			Name:        "history-window",
			Description: "after 150 ticks the history holds ticks 51 to 150 in order",
			Run: func(h *Harness) {
				h.Tick(150)
				points := h.Engine.History()
				if !h.Check(len(points) == 100, "history length = %d, want 100", len(points)) {
					return
				}
				for i, p := range points {
					h.Check(p.Tick == int64(51+i), "point %d is tick %d, want %d", i, p.Tick, 51+i)
				}
				h.Check(points[99].ManureMass == 375, "newest manure = %v, want 375", points[99].ManureMass)
			},
		},
		{
			Name:        "stop-releases-timers",
			Description: "stopping the plant cancels feeds in flight and ignores later ticks",
			Run: func(h *Harness) {
				h.Tick(3)
				h.Engine.InjectManure()
				h.Engine.InjectManure()
				before := h.Snapshot()

				h.Engine.Stop()
				h.Check(h.Clock.Pending() == 0, "timers pending after stop = %d", h.Clock.Pending())
				h.Check(!h.Snapshot().IsFeeding, "still feeding after stop")

				h.Tick(5)
				h.Clock.Advance(h.Config.FeedDelay)
				after := h.Snapshot()
				h.Check(after.TickNumber == before.TickNumber, "ticks advanced after stop: %d -> %d", before.TickNumber, after.TickNumber)
				h.Check(after.ManureMass == before.ManureMass, "manure changed after stop: %v -> %v", before.ManureMass, after.ManureMass)
			},
		},
	}
}
