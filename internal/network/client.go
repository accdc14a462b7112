package network

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/BiogasPilot/server/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboards are served from anywhere during the pilot
	},
}

// Client is one dashboard connection.
type Client struct {
	id           string
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	lastFeedTime time.Time
}

// NewClient creates a new WebSocket client and returns it.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString()[:8],
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.cfg.SendBuffer),
	}
}

// ID returns the short client identifier used in logs.
func (c *Client) ID() string {
	return c.id
}

// Register adds the client to the hub.
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		close(c.send)
	}
}

// ServeWS upgrades HTTP requests to dashboard connections on hub.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.metrics.RecordWSError()
			hub.logger.Error("WebSocket upgrade failed", "error", err)
			return
		}
		client := NewClient(hub, conn)
		client.Register()

		go client.WritePump()
		go client.ReadPump()
	}
}

// ReadPump pumps commands from the websocket connection to the plant.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.metrics.RecordWSError()
				c.hub.logger.Warn("WebSocket read failed", "client", c.id, "error", err)
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		cmd, err := protocol.DecodeCommand(message)
		if err != nil {
			c.hub.logger.Warn("rejected client command", "client", c.id, "error", err)
			c.hub.sendTo(c, protocol.ErrorFrame("", protocol.ErrBadRequest, err.Error()))
			continue
		}
		c.handleCommand(cmd)
	}
}

func (c *Client) handleCommand(cmd protocol.Command) {
	plant := c.hub.plant

	switch cmd.Type {
	case protocol.TypeFeed:
		if plant.Stopped() {
			c.hub.sendTo(c, protocol.ErrorFrame(cmd.RequestID, protocol.ErrStopped, "plant is stopped"))
			return
		}
		now := time.Now()
		if cooldown := c.hub.cfg.FeedCooldown; cooldown > 0 && !c.lastFeedTime.IsZero() && now.Sub(c.lastFeedTime) < cooldown {
			c.hub.logger.Warn("feed rate limit exceeded", "client", c.id)
			c.hub.sendTo(c, protocol.ErrorFrame(cmd.RequestID, protocol.ErrRateLimit, "feed cooldown active"))
			return
		}
		c.lastFeedTime = now

		plant.InjectManure()
		c.hub.logger.Event("OPERATOR_FEED", c.id, "feed requested over WebSocket")
		c.hub.sendTo(c, protocol.Frame{Type: protocol.TypeAck, RequestID: cmd.RequestID, Data: plant.Snapshot()})

	case protocol.TypeSnapshot:
		c.hub.sendTo(c, protocol.Frame{Type: protocol.TypeSnapshot, RequestID: cmd.RequestID, Data: plant.Snapshot()})

	case protocol.TypeHistory:
		c.hub.sendTo(c, protocol.Frame{Type: protocol.TypeHistory, RequestID: cmd.RequestID, Data: plant.History()})
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per message; dashboards parse each as a JSON document.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.metrics.RecordWSError()
				return
			}
			c.hub.metrics.RecordWSMessage(false)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
