// Package scenario replays scripted plant sessions on a manual clock and checks
// the plant's published properties against them.
package scenario

import (
	"fmt"
	"time"

	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/digester"
	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
)

// maxFailures caps the failures kept per scenario; long loops can fail thousands of times.
const maxFailures = 10

// Harness drives one engine deterministically for a scenario.
type Harness struct {
	Engine *engine.Engine
	Clock  *engine.ManualClock
	Events *events.EventLog
	Config engine.Config

	checks   int
	failed   int
	failures []string
}

// Tick runs n ticks, advancing the clock by one tick period after each.
func (h *Harness) Tick(n int) {
	for i := 0; i < n; i++ {
		h.Engine.Tick()
		h.Clock.Advance(h.Config.TickPeriod)
	}
}

// TickEach runs n ticks and calls fn with the snapshot after each one.
func (h *Harness) TickEach(n int, fn func(i int, s engine.Snapshot)) {
	for i := 0; i < n; i++ {
		h.Engine.Tick()
		fn(i, h.Engine.Snapshot())
		h.Clock.Advance(h.Config.TickPeriod)
	}
}

// Feed requests one feed and waits, on the manual clock, until it lands.
func (h *Harness) Feed() {
	h.Engine.InjectManure()
	h.Clock.Advance(h.Config.FeedDelay)
}

// Snapshot returns the current plant view.
func (h *Harness) Snapshot() engine.Snapshot {
	return h.Engine.Snapshot()
}

// Check records one assertion and returns ok.
func (h *Harness) Check(ok bool, format string, args ...interface{}) bool {
	h.checks++
	if ok {
		return true
	}
	h.failed++
	if len(h.failures) < maxFailures {
		h.failures = append(h.failures, fmt.Sprintf(format, args...))
	}
	return false
}

// CheckBounds asserts every state field is inside its domain.
func (h *Harness) CheckBounds(s digester.State) {
	p := h.Config.Params
	h.Check(s.ManureMass >= p.ManureFloor && s.ManureMass <= p.ManureCapacity,
		"manure %.2f outside [%.0f, %.0f]", s.ManureMass, p.ManureFloor, p.ManureCapacity)
	h.Check(s.GasLevel >= 0 && s.GasLevel <= 100, "gas %.2f outside [0, 100]", s.GasLevel)
	h.Check(s.ElectricityOutput >= 0, "electricity %.2f negative", s.ElectricityOutput)
	h.Check(s.TokenBalance >= 0, "token balance %d negative", s.TokenBalance)
}

// Elapsed returns the simulated time since the scenario started.
func (h *Harness) Elapsed(start time.Time) time.Duration {
	return h.Clock.Now().Sub(start)
}
