package network

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/logger"
	"github.com/MRamiBalles/BiogasPilot/server/internal/telemetry"
)

// defaultEventLimit caps /api/events when no limit is given.
const defaultEventLimit = 100

// DashboardHandler serves the REST side of the operator dashboard.
type DashboardHandler struct {
	plant    Plant
	eventLog *events.EventLog
	hub      *Hub
	logger   *logger.Logger
}

// NewDashboardHandler creates the dashboard API. hub may be nil.
func NewDashboardHandler(plant Plant, el *events.EventLog, hub *Hub, log *logger.Logger) *DashboardHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &DashboardHandler{
		plant:    plant,
		eventLog: el,
		hub:      hub,
		logger:   log.With("module", "dashboard"),
	}
}

// TimelineEvent is an event as shown on the dashboard timeline.
type TimelineEvent struct {
	ID        string      `json:"id"`
	Seq       uint64      `json:"seq"`
	Timestamp string      `json:"timestamp"`
	Tick      int64       `json:"tick"`
	Type      string      `json:"type"`
	ActorID   string      `json:"actor_id"`
	Summary   string      `json:"summary"`
	Impact    string      `json:"impact"`
	Details   interface{} `json:"details,omitempty"`
}

// TimelineResponse is the API response for /api/events.
type TimelineResponse struct {
	TotalEvents int             `json:"total_events"`
	LastSeq     uint64          `json:"last_seq"`
	FilteredBy  string          `json:"filtered_by,omitempty"`
	GeneratedAt string          `json:"generated_at"`
	Events      []TimelineEvent `json:"events"`
}

// HandleState returns the current plant snapshot.
// GET /api/state
func (dh *DashboardHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		dh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dh.jsonSuccess(w, http.StatusOK, dh.plant.Snapshot())
}

// HandleHistory returns the chart history, oldest first.
// GET /api/history
func (dh *DashboardHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		dh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	points := dh.plant.History()
	dh.jsonSuccess(w, http.StatusOK, map[string]interface{}{
		"count":  len(points),
		"points": points,
	})
}

// HandleStats returns the statistics view numbers.
// GET /api/stats
func (dh *DashboardHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		dh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := dh.plant.Snapshot()
	counts := make(map[string]int)
	for _, e := range dh.eventLog.Replay() {
		counts[string(e.Type)]++
	}
	clients := 0
	if dh.hub != nil {
		clients = dh.hub.ClientCount()
	}

	dh.jsonSuccess(w, http.StatusOK, map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"summary":      telemetry.Summarize(dh.plant.History(), snap.TokenBalance),
		"event_counts": counts,
		"clients":      clients,
	})
}

// HandleEvents returns the event timeline.
// GET /api/events?since=SEQ&type=FEED_COMPLETED&limit=N
func (dh *DashboardHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		dh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	var since uint64
	if s := q.Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			dh.jsonError(w, "Invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}
	limit := defaultEventLimit
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			dh.jsonError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}
	eventType := q.Get("type")

	var timeline []TimelineEvent
	for _, e := range dh.eventLog.Since(since) {
		if eventType != "" && string(e.Type) != eventType {
			continue
		}
		timeline = append(timeline, toTimelineEvent(e))
	}
	// Keep the newest events
	if len(timeline) > limit {
		timeline = timeline[len(timeline)-limit:]
	}

	resp := TimelineResponse{
		TotalEvents: len(timeline),
		LastSeq:     dh.eventLog.LastSeq(),
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      timeline,
	}
	if eventType != "" {
		resp.FilteredBy = eventType
	}
	dh.jsonSuccess(w, http.StatusOK, resp)
}

// HandleFeed requests one manure feed.
// POST /api/feed
func (dh *DashboardHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		dh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if dh.plant.Stopped() {
		dh.jsonError(w, "Plant is stopped", http.StatusServiceUnavailable)
		return
	}

	dh.plant.InjectManure()
	dh.logger.Event("OPERATOR_FEED", events.ActorOperator, "feed requested over REST")
	dh.jsonSuccess(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
		"snapshot": dh.plant.Snapshot(),
	})
}

// HandleHealth reports liveness.
// GET /healthz
func (dh *DashboardHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if dh.plant.Stopped() {
		status = "stopped"
	}
	dh.jsonSuccess(w, http.StatusOK, map[string]string{"status": status})
}

// RegisterRoutes sets up the dashboard API routes.
func (dh *DashboardHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", dh.HandleState)
	mux.HandleFunc("/api/history", dh.HandleHistory)
	mux.HandleFunc("/api/stats", dh.HandleStats)
	mux.HandleFunc("/api/events", dh.HandleEvents)
	mux.HandleFunc("/api/feed", dh.HandleFeed)
	mux.HandleFunc("/healthz", dh.HandleHealth)
}

func toTimelineEvent(e events.PlantEvent) TimelineEvent {
	summary, impact := events.Describe(e)
	te := TimelineEvent{
		ID:        e.ID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Tick:      e.Tick,
		Type:      string(e.Type),
		ActorID:   e.ActorID,
		Summary:   summary,
		Impact:    impact,
	}
	if e.Type != events.EventTypeTick {
		te.Details = e.Payload
	}
	return te
}

// jsonError sends an error response.
func (dh *DashboardHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// jsonSuccess sends a success response.
func (dh *DashboardHandler) jsonSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
