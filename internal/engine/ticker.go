// Package engine contains the simulation loop of the biogas pilot.
//
// The Engine is the only owner of the digester state. The Ticker drives it at
// a fixed period; feeds and milestone banners are scheduled on a Clock.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/logger"
)

// DefaultTickPeriod is one simulated time unit in real time.
const DefaultTickPeriod = 1 * time.Second

// Ticker manages the simulation heartbeat.
// It does NOT know about manure or gas - only when a step is due.
type Ticker struct {
	period   time.Duration
	step     func()
	logger   *logger.Logger
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewTicker creates a ticker calling step every period.
func NewTicker(period time.Duration, step func(), log *logger.Logger) *Ticker {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &Ticker{
		period:   period,
		step:     step,
		logger:   log,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the loop until ctx is cancelled or Stop is called. Call in a goroutine.
// Steps run on this goroutine only, so a slow step delays the next one instead of overlapping it.
func (t *Ticker) Start(ctx context.Context) {
	defer close(t.done)
	t.logger.Info("ticker started", "period", t.period)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("ticker stopped by context")
			return
		case <-t.stopChan:
			t.logger.Info("ticker stopped manually")
			return
		case <-ticker.C:
			t.step()
		}
	}
}

// Stop gracefully stops the ticker. Safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
	})
}

// Done is closed once the loop started by Start has returned.
func (t *Ticker) Done() <-chan struct{} {
	return t.done
}
