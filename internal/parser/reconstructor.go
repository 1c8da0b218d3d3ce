package parser

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultFlushDelay is the debounce window between the last received
	// byte and the flush that turns pending bytes into records.
	DefaultFlushDelay = 16 * time.Millisecond
	// DefaultScrollback is how many records are retained per session.
	DefaultScrollback = 1000
)

// Options configures a Reconstructor.
type Options struct {
	FlushDelay time.Duration
	Scrollback int
	Clock      clock.Clock
	Logger     *slog.Logger
}

// sessionBuffer is the per-session reconstruction state.
type sessionBuffer struct {
	id      string
	pending []byte
	timer   *clock.Timer
	// gen identifies the armed timer; a callback whose Stop lost the race
	// sees a newer gen and does nothing.
	gen uint64

	seq  uint64
	open bool // last record is unterminated and may still grow
	last Record

	scrollback []Record
}

// Reconstructor turns raw shell output into Line Records. Each session has
// one pending buffer and at most one armed flush timer; every Feed re-arms
// that timer so bursts coalesce into a single flush.
type Reconstructor struct {
	onBatch    func(Batch)
	flushDelay time.Duration
	scrollback int
	clock      clock.Clock
	log        *slog.Logger

	mu      sync.Mutex
	buffers map[string]*sessionBuffer
	closed  bool
}

// New creates a Reconstructor that hands every produced batch to onBatch.
// onBatch runs with the Reconstructor's lock held and must not call back
// into it; publishing to an eventbus.Bus is the intended use.
func New(onBatch func(Batch), opts Options) *Reconstructor {
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Scrollback <= 0 {
		opts.Scrollback = DefaultScrollback
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if onBatch == nil {
		onBatch = func(Batch) {}
	}
	return &Reconstructor{
		onBatch:    onBatch,
		flushDelay: opts.FlushDelay,
		scrollback: opts.Scrollback,
		clock:      opts.Clock,
		log:        opts.Logger,
		buffers:    make(map[string]*sessionBuffer),
	}
}

func (r *Reconstructor) bufferLocked(id string) *sessionBuffer {
	buf, ok := r.buffers[id]
	if !ok {
		buf = &sessionBuffer{id: id}
		r.buffers[id] = buf
	}
	return buf
}

// Feed appends chunk to the session's pending bytes and re-arms its flush
// timer. The buffer is created on the first chunk.
func (r *Reconstructor) Feed(id string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	buf := r.bufferLocked(id)
	buf.pending = append(buf.pending, chunk...)
	r.armLocked(buf, false)
}

// armLocked replaces the session's timer with one that fires after the
// flush delay. A final timer flushes everything, including a held tail.
func (r *Reconstructor) armLocked(buf *sessionBuffer, final bool) {
	r.stopTimerLocked(buf)
	gen := buf.gen
	buf.timer = r.clock.AfterFunc(r.flushDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// A dropped or recreated session owns a different buffer.
		if r.buffers[buf.id] != buf || buf.gen != gen {
			return
		}
		buf.timer = nil
		if final {
			r.flushLocked(buf, true)
			return
		}
		r.drainLocked(buf)
	})
}

// drainLocked flushes pending bytes. A tail held back as an unfinished
// sequence gets one more delay to complete before it is emitted as is.
func (r *Reconstructor) drainLocked(buf *sessionBuffer) {
	r.flushLocked(buf, false)
	if len(buf.pending) > 0 && !r.closed {
		r.armLocked(buf, true)
	}
}

// Flush drains the session's pending bytes immediately.
func (r *Reconstructor) Flush(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[id]
	if !ok {
		return
	}
	r.stopTimerLocked(buf)
	r.drainLocked(buf)
}

func (r *Reconstructor) stopTimerLocked(buf *sessionBuffer) {
	buf.gen++
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
}

// flushLocked converts pending bytes into records and emits one batch.
// A final flush does not hold back an unfinished tail.
func (r *Reconstructor) flushLocked(buf *sessionBuffer, final bool) {
	if len(buf.pending) == 0 {
		return
	}

	complete, tail := buf.pending, []byte(nil)
	if !final {
		complete, tail = splitIncomplete(buf.pending)
	}
	text := Clean(string(complete))
	buf.pending = append([]byte(nil), tail...)
	if text == "" {
		return
	}

	parts := strings.Split(text, "\n")
	records := make([]Record, 0, len(parts))
	for i, part := range parts {
		last := i == len(parts)-1
		if last && part == "" {
			// A trailing line break starts the next line; nothing to show yet.
			buf.open = false
			break
		}

		var rec Record
		if i == 0 && buf.open {
			rec = buf.last
			rec.Text = eraseBackspaces(rec.Text + part)
			rec.Open = last
			r.replaceLastLocked(buf, rec)
		} else {
			buf.seq++
			rec = Record{Seq: buf.seq, Type: LineOutput, Text: eraseBackspaces(part), Open: last}
			r.pushLocked(buf, rec)
		}
		buf.last = rec
		buf.open = last
		records = append(records, rec)
	}

	if len(records) > 0 {
		r.onBatch(Batch{SessionID: buf.id, Records: records, Time: r.clock.Now()})
	}
}

func (r *Reconstructor) pushLocked(buf *sessionBuffer, rec Record) {
	buf.scrollback = append(buf.scrollback, rec)
	// Trim in steps so a long burst does not copy the slice on every line.
	if over := len(buf.scrollback) - r.scrollback; over > r.scrollback/4 {
		buf.scrollback = append([]Record(nil), buf.scrollback[over:]...)
	}
}

func (r *Reconstructor) replaceLastLocked(buf *sessionBuffer, rec Record) {
	if n := len(buf.scrollback); n > 0 && buf.scrollback[n-1].Seq == rec.Seq {
		buf.scrollback[n-1] = rec
		return
	}
	r.pushLocked(buf, rec)
}

// Append adds a synthesized record (input echo, info, error). Pending shell
// output is flushed first so the record lands after everything already
// received, and the open output line is sealed.
func (r *Reconstructor) Append(id string, typ LineType, text string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := r.bufferLocked(id)
	r.stopTimerLocked(buf)
	r.drainLocked(buf)

	var records []Record
	if buf.open {
		sealed := buf.last
		sealed.Open = false
		r.replaceLastLocked(buf, sealed)
		records = append(records, sealed)
		buf.open = false
	}

	buf.seq++
	rec := Record{Seq: buf.seq, Type: typ, Text: text}
	r.pushLocked(buf, rec)
	buf.last = rec
	records = append(records, rec)

	if !r.closed {
		r.onBatch(Batch{SessionID: id, Records: records, Time: r.clock.Now()})
	}
	return rec
}

// Clear forgets the session's retained records and seals the open line.
// Sequence numbers keep increasing so consumers never see a reused Seq.
func (r *Reconstructor) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := r.bufferLocked(id)
	r.stopTimerLocked(buf)
	r.drainLocked(buf)
	buf.scrollback = nil
	buf.open = false
	buf.last = Record{}

	if !r.closed {
		r.onBatch(Batch{SessionID: id, Cleared: true, Time: r.clock.Now()})
	}
}

// Lines returns up to limit of the most recent retained records, oldest
// first. A non-positive limit returns everything retained.
func (r *Reconstructor) Lines(id string, limit int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[id]
	if !ok {
		return nil
	}
	lines := buf.scrollback
	if len(lines) > r.scrollback {
		lines = lines[len(lines)-r.scrollback:]
	}
	if limit > 0 && limit < len(lines) {
		lines = lines[len(lines)-limit:]
	}
	return append([]Record(nil), lines...)
}

// Close flushes whatever is pending for id and then discards its buffer.
// Used when a session exits on its own.
func (r *Reconstructor) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[id]
	if !ok {
		return
	}
	r.stopTimerLocked(buf)
	// No more bytes will arrive, so nothing can complete a held-back tail.
	r.flushLocked(buf, true)
	delete(r.buffers, id)
}

// Drop discards the buffer for id without flushing. Used on destroy.
func (r *Reconstructor) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buf, ok := r.buffers[id]; ok {
		r.stopTimerLocked(buf)
		delete(r.buffers, id)
	}
}

// Sessions returns the number of live buffers.
func (r *Reconstructor) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

// Shutdown stops every timer and rejects further input.
func (r *Reconstructor) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id, buf := range r.buffers {
		r.stopTimerLocked(buf)
		delete(r.buffers, id)
	}
	r.log.Debug("output reconstructor stopped")
}
