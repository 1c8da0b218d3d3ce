package hub

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter coalesces raw output chunks per session so a chatty shell
// produces one websocket frame per interval instead of one per read.
type RateLimiter struct {
	mu       sync.Mutex
	pending  map[string]*pendingOutput
	interval time.Duration
	clock    clock.Clock
	onFlush  func(sessionID string, msg OutputMessage)

	// flushMu keeps flushes for the same session from overtaking each other.
	flushMu sync.Mutex
}

type pendingOutput struct {
	chunks []string
	ts     int64
	timer  *clock.Timer
}

func NewRateLimiter(interval time.Duration, clk clock.Clock, onFlush func(string, OutputMessage)) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		pending:  make(map[string]*pendingOutput),
		interval: interval,
		clock:    clk,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(sessionID, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pending[sessionID]
	if !exists {
		p = &pendingOutput{}
		r.pending[sessionID] = p
	}

	p.chunks = append(p.chunks, data)
	p.ts = r.clock.Now().UnixMilli()

	if p.timer == nil {
		p.timer = r.clock.AfterFunc(r.interval, func() {
			r.Flush(sessionID)
		})
	}
}

// Flush delivers whatever is pending for sessionID now.
func (r *RateLimiter) Flush(sessionID string) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	p, exists := r.pending[sessionID]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.pending, sessionID)
	if p.timer != nil {
		p.timer.Stop()
	}
	r.mu.Unlock()

	if r.onFlush != nil && len(p.chunks) > 0 {
		r.onFlush(sessionID, OutputMessage{
			Type:      "output",
			SessionID: sessionID,
			Data:      strings.Join(p.chunks, ""),
			Ts:        p.ts,
		})
	}
}

func (r *RateLimiter) FlushAll() {
	r.mu.Lock()
	sessions := make([]string, 0, len(r.pending))
	for id := range r.pending {
		sessions = append(sessions, id)
	}
	r.mu.Unlock()

	for _, id := range sessions {
		r.Flush(id)
	}
}
