// Package network is the presentation bridge of the pilot server: a WebSocket
// hub that streams plant events to dashboards, and the REST handlers.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
	"github.com/MRamiBalles/BiogasPilot/server/internal/events"
	"github.com/MRamiBalles/BiogasPilot/server/internal/platform/logger"
	"github.com/MRamiBalles/BiogasPilot/server/internal/protocol"
)

// Plant is the engine surface the network layer needs.
type Plant interface {
	Snapshot() engine.Snapshot
	History() []engine.HistoryPoint
	InjectManure()
	Stopped() bool
}

// WSMetrics receives WebSocket counters.
type WSMetrics interface {
	RecordWSConnection(delta int64)
	RecordWSMessage(incoming bool)
	RecordWSError()
}

type nopMetrics struct{}

func (nopMetrics) RecordWSConnection(int64) {}
func (nopMetrics) RecordWSMessage(bool)     {}
func (nopMetrics) RecordWSError()           {}

// HubConfig tunes the hub.
type HubConfig struct {
	SendBuffer      int           // Per-client outbound queue
	BroadcastBuffer int           // Hub inbound queue
	MaxClients      int           // 0 = unlimited
	FeedCooldown    time.Duration // Minimum time between FEED commands of one client
	PollInterval    time.Duration // Event log polling period
}

// DefaultHubConfig returns the server defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:      64,
		BroadcastBuffer: 256,
		MaxClients:      200,
		FeedCooldown:    time.Second,
		PollInterval:    200 * time.Millisecond,
	}
}

type directMessage struct {
	client  *Client
	message []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex

	plant   Plant
	cfg     HubConfig
	metrics WSMetrics
	logger  *logger.Logger
}

// NewHub initializes a new WebSocket Hub. metrics may be nil.
func NewHub(plant Plant, cfg HubConfig, metrics WSMetrics, log *logger.Logger) *Hub {
	def := DefaultHubConfig()
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.BroadcastBuffer < 1 {
		cfg.BroadcastBuffer = def.BroadcastBuffer
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		broadcast:  make(chan []byte, cfg.BroadcastBuffer),
		direct:     make(chan directMessage, cfg.BroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		plant:      plant,
		cfg:        cfg,
		metrics:    metrics,
		logger:     log.With("module", "hub"),
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.cfg.MaxClients > 0 && len(h.clients) >= h.cfg.MaxClients {
				h.mu.Unlock()
				close(client.send)
				h.metrics.RecordWSError()
				h.logger.Warn("WebSocket client rejected: hub full", "max_clients", h.cfg.MaxClients)
				continue
			}
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RecordWSConnection(1)
			h.logger.Info("WebSocket client connected", "client", client.id)

			// Greet with the full dashboard state so charts render immediately
			if msg, err := h.helloFrame().Encode(); err == nil {
				h.deliver(client, msg)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.dropLocked(client)
				h.logger.Info("WebSocket client disconnected", "client", client.id)
			}
			h.mu.Unlock()

		case m := <-h.direct:
			h.deliver(m.client, m.message)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				h.deliverLocked(client, message)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) deliver(client *Client, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(client, message)
}

// deliverLocked queues message for client, dropping clients that cannot keep up.
func (h *Hub) deliverLocked(client *Client, message []byte) {
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- message:
	default:
		h.logger.Warn("WebSocket client too slow, dropping", "client", client.id)
		h.metrics.RecordWSError()
		h.dropLocked(client)
	}
}

func (h *Hub) dropLocked(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.metrics.RecordWSConnection(-1)
}

func (h *Hub) helloFrame() protocol.Frame {
	return protocol.Frame{
		Type: protocol.TypeHello,
		Data: map[string]interface{}{
			"snapshot": h.plant.Snapshot(),
			"history":  h.plant.History(),
		},
	}
}

// Broadcast queues a frame for every connected client.
func (h *Hub) Broadcast(frame protocol.Frame) {
	payload, err := frame.Encode()
	if err != nil {
		h.logger.Error("failed to serialize frame for WebSocket broadcast", "type", frame.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

// BroadcastEvent takes a PlantEvent, serializes it to JSON, and sends it to all connected clients.
func (h *Hub) BroadcastEvent(event events.PlantEvent) {
	h.Broadcast(protocol.Frame{
		Type: string(event.Type),
		Seq:  event.Seq,
		Data: event,
	})
}

// sendTo queues a frame for a single client. A reply that cannot be encoded
// is replaced by an E_INTERNAL error so the request still gets an answer.
func (h *Hub) sendTo(client *Client, frame protocol.Frame) {
	payload, err := frame.Encode()
	if err != nil {
		h.logger.Error("failed to serialize reply", "type", frame.Type, "error", err)
		payload, err = protocol.ErrorFrame(frame.RequestID, protocol.ErrInternal, "reply could not be encoded").Encode()
		if err != nil {
			return
		}
	}
	select {
	case h.direct <- directMessage{client: client, message: payload}:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// StartEventPoller spawns a goroutine to poll the EventLog and push new events to the Hub.
// This allows the Hub to run independently from the Engine while picking up the same events.
func (h *Hub) StartEventPoller(ctx context.Context, eventLog *events.EventLog) {
	go func() {
		pollInterval := time.NewTicker(h.cfg.PollInterval)
		defer pollInterval.Stop()

		var cursor uint64

		for {
			select {
			case <-ctx.Done():
				return
			case <-pollInterval.C:
				newEvents := eventLog.Since(cursor)
				if len(newEvents) == 0 {
					continue
				}
				if first := newEvents[0].Seq; cursor > 0 && first > cursor+1 {
					h.logger.Warn("event poller fell behind retention", "missed", first-cursor-1)
				}
				for _, event := range newEvents {
					h.BroadcastEvent(event)
				}
				cursor = newEvents[len(newEvents)-1].Seq
			}
		}
	}()
}
