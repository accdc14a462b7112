// Package metrics provides observability for the pilot server.
// Prometheus collectors are the source of truth; a JSON snapshot is kept for the dashboard.
package metrics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
)

const namespace = "pilot"

// Collector gathers plant and server metrics.
type Collector struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	tickLatency     prometheus.Histogram
	manureMass      prometheus.Gauge
	gasLevel        prometheus.Gauge
	electricity     prometheus.Gauge
	gridExport      prometheus.Gauge
	tokenBalance    prometheus.Gauge
	feeds           *prometheus.CounterVec
	milestones      *prometheus.CounterVec
	wsConnections   prometheus.Gauge
	wsMessages      *prometheus.CounterVec
	wsErrors        prometheus.Counter
	eventWrites     prometheus.Counter
	eventWriteErrs  prometheus.Counter
	eventWriteLaten prometheus.Histogram

	// Mirrors for the JSON snapshot
	tickCount      int64
	tickLatencyMax int64
	feedsDone      int64
	milestoneCount int64
	wsActive       int64
	eventsWritten  int64
	eventErrors    int64

	startTime    time.Time
	mu           sync.RWMutex
	lastTickTime time.Time
	lastSnapshot engine.Snapshot
}

var (
	defaultOnce sync.Once
	collector   *Collector
)

// Get returns the process-wide collector.
func Get() *Collector {
	defaultOnce.Do(func() {
		collector = New()
	})
	return collector
}

// New creates a collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Simulation ticks executed.",
		}),
		tickLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help:    "Wall time spent inside one tick.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		manureMass: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "manure_mass_kg",
			Help: "Manure buffered in the digester.",
		}),
		gasLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "gas_level_percent",
			Help: "Digester gas fill.",
		}),
		electricity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "electricity_output_kw",
			Help: "Generator output.",
		}),
		gridExport: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "grid_export_kw",
			Help: "Output exported after village consumption.",
		}),
		tokenBalance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "token_balance",
			Help: "Eco tokens earned this session.",
		}),
		feeds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feeds_total",
			Help: "Manure feeds by phase.",
		}, []string{"phase"}),
		milestones: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "milestones_total",
			Help: "Milestones rewarded by threshold.",
		}, []string{"threshold"}),
		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_connections",
			Help: "Active WebSocket connections.",
		}),
		wsMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ws_messages_total",
			Help: "WebSocket messages by direction.",
		}, []string{"direction"}),
		wsErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ws_errors_total",
			Help: "WebSocket protocol errors.",
		}),
		eventWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "recorder_writes_total",
			Help: "Events written by the session recorder.",
		}),
		eventWriteErrs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "recorder_write_errors_total",
			Help: "Failed recorder writes.",
		}),
		eventWriteLaten: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "recorder_write_seconds",
			Help:    "Recorder write latency.",
			Buckets: prometheus.DefBuckets,
		}),
		startTime: time.Now(),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveTick records a completed tick and the plant state it produced.
func (c *Collector) ObserveTick(snap engine.Snapshot, took time.Duration) {
	c.ticks.Inc()
	c.tickLatency.Observe(took.Seconds())

	c.manureMass.Set(snap.ManureMass)
	c.gasLevel.Set(snap.GasLevel)
	c.electricity.Set(snap.ElectricityOutput)
	c.gridExport.Set(snap.GridExport)
	c.tokenBalance.Set(float64(snap.TokenBalance))

	atomic.AddInt64(&c.tickCount, 1)
	// Update max (non-atomic but acceptable for metrics)
	if int64(took) > atomic.LoadInt64(&c.tickLatencyMax) {
		atomic.StoreInt64(&c.tickLatencyMax, int64(took))
	}

	c.mu.Lock()
	c.lastTickTime = time.Now()
	c.lastSnapshot = snap
	c.mu.Unlock()
}

// ObserveFeed records a feed request or completion.
func (c *Collector) ObserveFeed(completed bool) {
	if completed {
		c.feeds.WithLabelValues("completed").Inc()
		atomic.AddInt64(&c.feedsDone, 1)
		return
	}
	c.feeds.WithLabelValues("requested").Inc()
}

// ObserveMilestone records a rewarded milestone.
func (c *Collector) ObserveMilestone(threshold int) {
	c.milestones.WithLabelValues(strconv.Itoa(threshold)).Inc()
	atomic.AddInt64(&c.milestoneCount, 1)
}

// RecordEventWrite records a recorder write.
func (c *Collector) RecordEventWrite(latency time.Duration, err error) {
	c.eventWrites.Inc()
	c.eventWriteLaten.Observe(latency.Seconds())
	atomic.AddInt64(&c.eventsWritten, 1)
	if err != nil {
		c.eventWriteErrs.Inc()
		atomic.AddInt64(&c.eventErrors, 1)
	}
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	c.wsConnections.Add(float64(delta))
	atomic.AddInt64(&c.wsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		c.wsMessages.WithLabelValues("in").Inc()
	} else {
		c.wsMessages.WithLabelValues("out").Inc()
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	c.wsErrors.Inc()
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lastTick := ""
	if !c.lastTickTime.IsZero() {
		lastTick = c.lastTickTime.Format(time.RFC3339)
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.startTime).Seconds(),

		"tick": map[string]interface{}{
			"count":          atomic.LoadInt64(&c.tickCount),
			"max_latency_ms": float64(atomic.LoadInt64(&c.tickLatencyMax)) / 1e6,
			"last_tick":      lastTick,
		},

		"plant": map[string]interface{}{
			"manure_mass_kg":     c.lastSnapshot.ManureMass,
			"gas_level_pct":      c.lastSnapshot.GasLevel,
			"electricity_kw":     c.lastSnapshot.ElectricityOutput,
			"grid_export_kw":     c.lastSnapshot.GridExport,
			"token_balance":      c.lastSnapshot.TokenBalance,
			"feeds_completed":    atomic.LoadInt64(&c.feedsDone),
			"milestones_awarded": atomic.LoadInt64(&c.milestoneCount),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.wsActive),
		},

		"recorder": map[string]interface{}{
			"written": atomic.LoadInt64(&c.eventsWritten),
			"errors":  atomic.LoadInt64(&c.eventErrors),
		},
	}
}

// Handler returns an HTTP handler for the JSON metrics snapshot.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// PrometheusHandler returns metrics in Prometheus exposition format.
func (c *Collector) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
