package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/user/edexd/internal/eventbus"
	"github.com/user/edexd/internal/host"
	"github.com/user/edexd/internal/telemetry"
)

const (
	sendBuffer      = 256
	telemetryBuffer = 16
	readLimit       = 1 << 20
	pingInterval    = 30 * time.Second
)

type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	hub  *Hub

	closeOnce     sync.Once
	subMu         sync.RWMutex
	subscribeAll  bool
	subscriptions map[string]struct{}

	telemetryMu  sync.Mutex
	telemetrySub *eventbus.Subscription[telemetry.Snapshot]
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:            uuid.NewString(),
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
		hub:           hub,
		subscribeAll:  true,
		subscriptions: make(map[string]struct{}),
	}
}

// enqueue hands data to the write pump without blocking. It reports false
// once the client is gone.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.hub.log.Warn("client send buffer full, dropping message", "client", c.id)
		return true
	}
}

// close ends the write pump and cancels the telemetry subscription.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.stopTelemetry()
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(readLimit)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.hub.log.Debug("client read error", "client", c.id, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Debug("client invalid message", "client", c.id, "error", err)
			c.sendError("invalid message format")
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg ClientMessage) {
	b := c.hub.backend

	switch msg.Type {
	case "create":
		c.reply(msg, b.CreateSession(msg.SessionID), nil)
	case "write":
		c.reply(msg, b.WriteSession(msg.SessionID, msg.Data), nil)
	case "submit":
		c.reply(msg, b.SubmitLine(msg.SessionID, msg.Line), nil)
	case "key":
		c.reply(msg, b.SendKey(msg.SessionID, msg.Key), nil)
	case "resize":
		c.reply(msg, b.ResizeSession(msg.SessionID, msg.Cols, msg.Rows), nil)
	case "destroy":
		c.reply(msg, b.DestroySession(msg.SessionID), nil)
	case "clear":
		c.reply(msg, b.Clear(msg.SessionID), nil)
	case "lines":
		c.reply(msg, host.Result{Success: true}, b.Lines(msg.SessionID, msg.Limit))
	case "list":
		c.reply(msg, host.Result{Success: true}, b.ListSessions())
	case "subscribe":
		c.subscribe(msg.SessionID)
		c.reply(msg, host.Result{Success: true}, nil)
	case "stats":
		// A failed sample replies successfully with no data, like a null stats value.
		snap := b.Snapshot(ctx)
		if snap == nil {
			c.reply(msg, host.Result{Success: true}, nil)
			return
		}
		c.reply(msg, host.Result{Success: true}, snap)
	case "cpu_history":
		c.reply(msg, host.Result{Success: true}, b.CPUHistory())
	case "start_polling":
		c.startTelemetry()
		b.AcquirePolling()
		c.reply(msg, host.Result{Success: true}, nil)
	case "stop_polling":
		c.stopTelemetry()
		b.StopPolling()
		c.reply(msg, host.Result{Success: true}, nil)
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *Client) reply(msg ClientMessage, res host.Result, data any) {
	out := ResultMessage{
		Type:    "result",
		Req:     msg.Req,
		Command: msg.Type,
		Success: res.Success,
		Error:   res.Error,
		Data:    data,
	}
	encoded, err := encode(out)
	if err != nil {
		c.hub.log.Error("error marshaling result message", "error", err)
		return
	}
	c.enqueue(encoded)
}

func (c *Client) sendError(message string) {
	data, err := encode(ErrorMessage{Type: "error", Message: message})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) subscribe(sessionID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if sessionID == "" {
		c.subscribeAll = true
		c.subscriptions = make(map[string]struct{})
		return
	}
	c.subscribeAll = false
	c.subscriptions[sessionID] = struct{}{}
}

func (c *Client) wantsSession(sessionID string) bool {
	if sessionID == "" {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.subscribeAll {
		return true
	}
	_, ok := c.subscriptions[sessionID]
	return ok
}

// startTelemetry attaches this client to the sampler's broadcasts.
func (c *Client) startTelemetry() {
	c.telemetryMu.Lock()
	defer c.telemetryMu.Unlock()

	if c.telemetrySub != nil {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	sub := c.hub.backend.SubscribeTelemetry(telemetryBuffer)
	c.telemetrySub = sub

	go func() {
		for snap := range sub.C() {
			data, err := encode(TelemetryMessage{Type: "telemetry", Snapshot: snap})
			if err != nil {
				continue
			}
			if !c.enqueue(data) {
				return
			}
		}
	}()
}

func (c *Client) stopTelemetry() {
	c.telemetryMu.Lock()
	defer c.telemetryMu.Unlock()

	if c.telemetrySub != nil {
		c.telemetrySub.Cancel()
		c.telemetrySub = nil
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
