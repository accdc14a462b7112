// Package main is the entry point for the biogas pilot server.
// It only handles dependency injection and server initialization.
// NO business logic belongs here.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
	"github.com/MRamiBalles/BiogasPilot/server/internal/infra/storage"
	"github.com/MRamiBalles/BiogasPilot/server/internal/network"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/config"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/logger"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/metrics"
	"github.com/MRamiBalles/BiogasPilot/server/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML config file merged over the embedded defaults")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	record := flag.String("record", "", "SQLite session recording path (overrides recorder.sqlite_path)")
	historyCSV := flag.String("history-csv", "", "Stream history rows to this CSV file; .zst compresses (overrides recorder.history_csv)")
	logFormat := flag.String("log-format", "", "Log format: json or text (overrides logging.format)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewLogger().Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *record != "" {
		cfg.Recorder.SQLitePath = *record
	}
	if *historyCSV != "" {
		cfg.Recorder.HistoryCSV = *historyCSV
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	appLogger := logger.New(logger.Options{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("pilot server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	appLogger.Info("initializing biogas pilot server", "addr", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.Get()
	var observers []engine.Option
	observers = append(observers, engine.WithObserver(collector))

	// Optional session recorder
	var persister events.EventPersister
	var recorder *storage.Recorder
	if path := cfg.Recorder.SQLitePath; path != "" {
		appLogger.Info("initializing SQLite session recorder", "path", path)
		db, err := storage.InitSQLite(path)
		if err != nil {
			return err
		}
		defer db.Close()

		recorder = storage.NewRecorder(db, uuid.NewString(), collector, appLogger)
		snapshot, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := recorder.Begin(ctx, time.Now(), string(snapshot)); err != nil {
			return err
		}
		persister = recorder
		observers = append(observers, engine.WithObserver(recorder))
	}

	// Optional history stream
	exporter, err := telemetry.NewHistoryExporter(cfg.Recorder.HistoryCSV)
	if err != nil {
		return err
	}
	if exporter != nil {
		appLogger.Info("streaming history", "path", exporter.Path())
		observers = append(observers, engine.WithObserver(exporter))
	}

	appLogger.Info("bootstrapping event log", "retention", cfg.Server.EventRetention)
	eventLog := events.NewEventLog(cfg.Server.EventRetention, persister)

	engineCfg := engine.Config{
		Params:        cfg.DigesterParams(),
		Rewards:       cfg.RewardRule(),
		Grid:          cfg.GridRule(),
		TickPeriod:    cfg.Simulation.TickPeriod,
		FeedDelay:     cfg.Simulation.FeedDelay,
		AlertDuration: cfg.Simulation.AlertDuration,
		HistorySize:   cfg.Simulation.HistorySize,
	}
	opts := append(observers, engine.WithInitialState(cfg.InitialState()))
	plant := engine.NewEngine(engineCfg, eventLog, appLogger, opts...)
	plant.Start(ctx)

	appLogger.Info("bootstrapping WebSocket hub")
	hub := network.NewHub(plant, network.HubConfig{
		SendBuffer:      cfg.Server.ClientSendBuffer,
		BroadcastBuffer: cfg.Server.BroadcastBuffer,
		MaxClients:      cfg.Server.MaxClients,
		FeedCooldown:    cfg.Server.FeedCooldown,
		PollInterval:    cfg.Server.EventPollInterval,
	}, collector, appLogger)
	go hub.Run(ctx)
	hub.StartEventPoller(ctx, eventLog)

	// Setup API Routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", network.ServeWS(hub))
	network.NewDashboardHandler(plant, eventLog, hub, appLogger).RegisterRoutes(mux)
	mux.Handle("/metrics", collector.PrometheusHandler())
	mux.HandleFunc("/metrics.json", collector.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP API & WS server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var failure error
	select {
	case <-ctx.Done():
		appLogger.Info("shutting down")
	case failure = <-serveErr:
		stop()
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP shutdown incomplete", "error", err)
	}

	plant.Stop()
	eventLog.Close()
	if dropped := eventLog.Dropped(); dropped > 0 {
		appLogger.Warn("recorder dropped events", "count", dropped)
	}

	snap := plant.Snapshot()
	if recorder != nil {
		if err := recorder.Finish(shutdownCtx, time.Now(), snap.TickNumber); err != nil {
			appLogger.Error("failed to finish session", "error", err)
		}
	}
	if err := exporter.Close(); err != nil {
		appLogger.Error("failed to close history export", "error", err)
	}

	appLogger.Info("pilot server stopped",
		"ticks", snap.TickNumber,
		"tokens", snap.TokenBalance,
		"manure_kg", snap.ManureMass,
	)
	return failure
}
