package scenario

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
	"github.com/MRamiBalles/BiogasPilot/server/internal/infra/storage"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/logger"
	"github.com/MRamiBalles/BiogasPilot/server/internal/telemetry"
)

// Epoch is the simulated start time of every scenario.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Result captures the outcome of one scenario.
type Result struct {
	Name        string
	Description string
	Passed      bool
	Checks      int
	Failed      int
	Failures    []string // First failures only
	Ticks       int64
	Simulated   time.Duration
	Took        time.Duration
	SessionID   string                // Set when recording
	Recap       *storage.SessionRecap // Set when recording
	DroppedRecs uint64                // TICK events the recorder queue shed
	FeedsLanded int                   // Feeds that completed during the run
	ExportPath  string                // Set when exporting history
}

// Runner executes scenarios on fresh engines.
type Runner struct {
	logger    *logger.Logger
	db        *sql.DB
	writes    storage.WriteObserver
	exportDir string
	filter    *regexp.Regexp
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder records every scenario as a session in db.
func WithRecorder(db *sql.DB, writes storage.WriteObserver) Option {
	return func(r *Runner) {
		r.db = db
		r.writes = writes
	}
}

// WithExportDir writes each scenario's history as CSV into dir.
func WithExportDir(dir string) Option {
	return func(r *Runner) { r.exportDir = dir }
}

// WithFilter runs only scenarios whose name matches re.
func WithFilter(re *regexp.Regexp) Option {
	return func(r *Runner) { r.filter = re }
}

// NewRunner creates a scenario runner.
func NewRunner(log *logger.Logger, opts ...Option) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Runner{logger: log.With("module", "scenario")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes scenarios in order. Scenario failures are reported in the
// results; the error is reserved for recorder and export failures.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) ([]Result, error) {
	if r.exportDir != "" {
		if err := os.MkdirAll(r.exportDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create export dir: %w", err)
		}
	}

	var results []Result
	for _, sc := range scenarios {
		if r.filter != nil && !r.filter.MatchString(sc.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.runOne(ctx, sc)
		if err != nil {
			return results, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		results = append(results, res)

		if res.Passed {
			r.logger.Info("scenario passed", "scenario", sc.Name, "checks", res.Checks, "ticks", res.Ticks)
		} else {
			r.logger.Warn("scenario failed", "scenario", sc.Name, "failed", res.Failed, "first", res.Failures[0])
		}
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, sc Scenario) (Result, error) {
	started := time.Now()

	cfg := engine.DefaultConfig()
	if sc.Configure != nil {
		sc.Configure(&cfg)
	}
	clock := engine.NewManualClock(Epoch)
	tally := &feedTally{}
	opts := []engine.Option{engine.WithClock(clock), engine.WithObserver(tally)}
	if sc.Initial != nil {
		opts = append(opts, engine.WithInitialState(*sc.Initial))
	}

	res := Result{Name: sc.Name, Description: sc.Description}

	var rec *storage.Recorder
	var persister events.EventPersister
	if r.db != nil {
		res.SessionID = sc.Name + "-" + uuid.NewString()[:8]
		rec = storage.NewRecorder(r.db, res.SessionID, r.writes, r.logger)
		if err := rec.Begin(ctx, Epoch, sc.Description); err != nil {
			return res, fmt.Errorf("failed to begin session: %w", err)
		}
		persister = rec
		opts = append(opts, engine.WithObserver(rec))
	}

	el := events.NewEventLog(0, persister)
	eng := engine.NewEngine(cfg, el, r.logger, opts...)
	h := &Harness{Engine: eng, Clock: clock, Events: el, Config: cfg}

	sc.Run(h)

	snap := eng.Snapshot()
	eng.Stop()
	el.Close()

	res.Checks = h.checks
	res.Failed = h.failed
	res.Failures = h.failures
	res.Passed = h.failed == 0
	res.Ticks = snap.TickNumber
	res.Simulated = clock.Now().Sub(Epoch)
	res.DroppedRecs = el.Dropped()
	res.FeedsLanded = tally.landed

	if rec != nil {
		if err := rec.Finish(ctx, clock.Now(), snap.TickNumber); err != nil {
			return res, fmt.Errorf("failed to finish session: %w", err)
		}
		recap, err := storage.NewReconstructor(storage.NewSQLiteEventRepository(r.db)).Rebuild(ctx, res.SessionID)
		if err != nil {
			return res, err
		}
		res.Recap = recap
	}

	if r.exportDir != "" {
		res.ExportPath = filepath.Join(r.exportDir, sc.Name+".csv")
		if err := telemetry.ExportHistory(res.ExportPath, eng.History()); err != nil {
			return res, err
		}
	}

	res.Took = time.Since(started)
	return res, nil
}

// feedTally counts completed feeds. The manual clock fires feed timers on the
// scenario goroutine, so no locking is needed.
type feedTally struct {
	landed int
}

func (f *feedTally) ObserveTick(engine.Snapshot, time.Duration) {}

func (f *feedTally) ObserveFeed(completed bool) {
	if completed {
		f.landed++
	}
}

func (f *feedTally) ObserveMilestone(int) {}

// Summary counts passed and failed results.
func Summary(results []Result) (passed, failed int) {
	for _, r := range results {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
