package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/internal/progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS middleware
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Client is one websocket connection registered as a progress
// subscriber. Messages queue on a buffered channel; a client that
// cannot keep up loses messages rather than stalling the publisher.
type Client struct {
	id       string
	tenantID uuid.UUID
	conn     *websocket.Conn
	registry *progress.Registry
	log      *zap.Logger

	send      chan progress.Message
	done      chan struct{}
	closeOnce sync.Once
}

// clientCommand is what the browser sends upstream.
type clientCommand struct {
	Action  string `json:"action"` // subscribe / unsubscribe / ping
	BatchID string `json:"batch_id,omitempty"`
}

func newClient(tenantID uuid.UUID, conn *websocket.Conn, registry *progress.Registry, log *zap.Logger) *Client {
	return &Client{
		id:       uuid.NewString(),
		tenantID: tenantID,
		conn:     conn,
		registry: registry,
		log:      log,
		send:     make(chan progress.Message, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Client) SubscriberID() string { return c.id }

// Notify queues a message for delivery. Never blocks, and tolerates
// publishes that race with the connection closing.
func (c *Client) Notify(msg progress.Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.log.Warn("websocket send buffer full, dropping message",
			zap.String("clientId", c.id),
			zap.String("type", msg.Type))
	}
}

func (c *Client) run() {
	c.Notify(progress.Message{Type: progress.TypeConnected, Timestamp: time.Now().UTC()})
	go c.writePump()
	c.readPump()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.registry.UnsubscribeAll(c.tenantID, c.id)
		close(c.done)
		c.conn.Close()
	})
}

// readPump consumes subscribe/unsubscribe/ping commands until the
// connection drops, which also tears the subscriber down.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.String("clientId", c.id), zap.Error(err))
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		c.handle(cmd)
	}
}

func (c *Client) handle(cmd clientCommand) {
	switch cmd.Action {
	case "subscribe":
		batchID, err := uuid.Parse(cmd.BatchID)
		if err != nil {
			return
		}
		c.registry.Subscribe(c.tenantID, c, batchID)
		// Replay the last snapshot so a late subscriber sees where the
		// import currently stands.
		if snap, err := c.registry.LastSnapshot(context.Background(), batchID); err == nil && snap != nil {
			c.Notify(*snap)
		}
	case "unsubscribe":
		if batchID, err := uuid.Parse(cmd.BatchID); err == nil {
			c.registry.Unsubscribe(c.tenantID, c.id, batchID)
		}
	case "ping":
		c.Notify(progress.Message{Type: progress.TypePong, Timestamp: time.Now().UTC()})
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("websocket write error", zap.String("clientId", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleStream upgrades the connection and runs the client until it
// disconnects.
func (h *Handler) handleStream(c *gin.Context) {
	tenantID := tenantFrom(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(tenantID, conn, h.registry, h.log)
	client.run()
}
