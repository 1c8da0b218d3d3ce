// Package hub is the websocket transport: it relays host events to
// connected clients and turns client JSON commands into host calls.
package hub

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"nhooyr.io/websocket"

	"github.com/user/edexd/internal/eventbus"
	"github.com/user/edexd/internal/host"
	"github.com/user/edexd/internal/parser"
	"github.com/user/edexd/internal/shell"
	"github.com/user/edexd/internal/telemetry"
)

const (
	defaultBatchInterval = 16 * time.Millisecond
	hostEventBuffer      = 1024
)

// Backend is the command table and event source the hub serves.
// *host.Host implements it.
type Backend interface {
	CreateSession(id string) host.Result
	WriteSession(id, data string) host.Result
	SubmitLine(id, line string) host.Result
	SendKey(id, key string) host.Result
	ResizeSession(id string, cols, rows int) host.Result
	DestroySession(id string) host.Result
	Clear(id string) host.Result
	Lines(id string, limit int) []parser.Record
	ListSessions() []shell.SessionInfo

	Snapshot(ctx context.Context) *telemetry.Snapshot
	CPUHistory() []int
	AcquirePolling()
	ReleasePolling() bool
	StopPolling()

	SubscribeOutput(buffer int) *eventbus.Subscription[host.OutputEvent]
	SubscribeExits(buffer int) *eventbus.Subscription[host.ExitEvent]
	SubscribeLines(buffer int) *eventbus.Subscription[parser.Batch]
	SubscribeSessions(buffer int) *eventbus.Subscription[host.SessionsEvent]
	SubscribeTelemetry(buffer int) *eventbus.Subscription[telemetry.Snapshot]
}

type Options struct {
	// BatchInterval is how long raw output is coalesced per session.
	BatchInterval time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

type Hub struct {
	backend     Backend
	token       string
	log         *slog.Logger
	clients     map[string]*Client
	register    chan *Client
	unregister  chan *Client
	mu          sync.RWMutex
	rateLimiter *RateLimiter
	ctx         atomic.Pointer[context.Context]
	running     atomic.Bool
}

func New(backend Backend, token string, opts Options) *Hub {
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = defaultBatchInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Hub{
		backend:    backend,
		token:      token,
		log:        opts.Logger,
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
	}
	h.rateLimiter = NewRateLimiter(opts.BatchInterval, opts.Clock, func(sessionID string, msg OutputMessage) {
		h.sendEncoded(msg, sessionID)
	})
	return h
}

func (h *Hub) getContext() context.Context {
	if ctx := h.ctx.Load(); ctx != nil {
		return *ctx
	}
	return context.Background()
}

// Run owns the client registry and relays host events until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	h.ctx.Store(&ctx)

	output := h.backend.SubscribeOutput(hostEventBuffer)
	exits := h.backend.SubscribeExits(hostEventBuffer)
	lines := h.backend.SubscribeLines(hostEventBuffer)
	sessions := h.backend.SubscribeSessions(hostEventBuffer)
	defer output.Cancel()
	defer exits.Cancel()
	defer lines.Cancel()
	defer sessions.Cancel()

	outputC, exitsC, linesC, sessionsC := output.C(), exits.C(), lines.C(), sessions.C()

	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.rateLimiter.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				c.close()
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			if data, err := encode(SessionsMessage{Type: "sessions", List: h.backend.ListSessions()}); err == nil {
				client.enqueue(data)
			}
			go client.writePump(h.getContext())
			go client.readPump(h.getContext())
			h.log.Info("client connected", "client", client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
			}
			h.mu.Unlock()
			client.close()
			h.releasePolling()
			h.log.Info("client disconnected", "client", client.id, "total", h.ClientCount())

		case ev, ok := <-outputC:
			if !ok {
				outputC = nil
				continue
			}
			h.rateLimiter.Add(ev.SessionID, ev.Data)

		case ev, ok := <-exitsC:
			if !ok {
				exitsC = nil
				continue
			}
			// Output for a session is published before its exit; relay it first.
			outputC = h.drainOutput(outputC)
			h.rateLimiter.Flush(ev.SessionID)
			h.sendEncoded(ExitMessage{Type: "exit", SessionID: ev.SessionID}, ev.SessionID)

		case b, ok := <-linesC:
			if !ok {
				linesC = nil
				continue
			}
			h.sendEncoded(LinesMessage{
				Type:      "lines",
				SessionID: b.SessionID,
				Records:   b.Records,
				Cleared:   b.Cleared,
				Ts:        b.Time.UnixMilli(),
			}, b.SessionID)

		case ev, ok := <-sessionsC:
			if !ok {
				sessionsC = nil
				continue
			}
			h.sendEncoded(SessionsMessage{Type: "sessions", List: ev.Sessions}, "")
		}
	}
}

func (h *Hub) drainOutput(outputC <-chan host.OutputEvent) <-chan host.OutputEvent {
	for {
		select {
		case ev, ok := <-outputC:
			if !ok {
				return nil
			}
			h.rateLimiter.Add(ev.SessionID, ev.Data)
		default:
			return outputC
		}
	}
}

// releasePolling stops client-started polling once no client listens to
// it. Polling pinned over the REST api keeps running.
func (h *Hub) releasePolling() {
	if h.backend.ReleasePolling() {
		h.log.Debug("telemetry polling stopped, no subscribers left")
	}
}

func (h *Hub) authorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept error", "error", err)
		return
	}

	client := newClient(conn, h)

	select {
	case h.register <- client:
	default:
		h.log.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
}

func (h *Hub) sendEncoded(msg any, sessionID string) {
	data, err := encode(msg)
	if err != nil {
		h.log.Error("error marshaling message", "error", err)
		return
	}
	h.broadcastToClients(hubBroadcast{data: data, sessionID: sessionID})
}

func (h *Hub) broadcastToClients(b hubBroadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.wantsSession(b.sessionID) {
			c.enqueue(b.data)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) FlushPendingOutput() {
	if h.rateLimiter != nil {
		h.rateLimiter.FlushAll()
	}
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.close()
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.log.Warn("unregister channel full, forcing close", "client", c.id)
		c.close()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
