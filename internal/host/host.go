// Package host binds the session manager, output reconstructor and
// telemetry sampler behind one command table and a set of event buses.
// Transports (websocket hub, REST api) talk only to a Host.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/user/edexd/internal/archive"
	"github.com/user/edexd/internal/eventbus"
	"github.com/user/edexd/internal/parser"
	"github.com/user/edexd/internal/shell"
	"github.com/user/edexd/internal/telemetry"
)

type Options struct {
	Shell         shell.Options
	Reconstructor parser.Options
	Sampler       telemetry.Options
	// Source defaults to the local host via gopsutil.
	Source telemetry.MetricSource
	// Journal, when set, is exposed through Archive and receives every
	// polled snapshot.
	Journal *archive.Journal
	Logger  *slog.Logger
}

type Host struct {
	shells  *shell.Manager
	lines   *parser.Reconstructor
	sampler *telemetry.Sampler
	journal *archive.Journal
	log     *slog.Logger

	// lifeMu orders create, destroy and exit handling; gens holds the
	// generation of the session each id currently belongs to.
	lifeMu sync.Mutex
	gens   map[string]uint64

	// pinned is set while polling was started explicitly rather than on
	// behalf of a streaming client.
	pollMu sync.Mutex
	pinned bool

	output   *eventbus.Bus[OutputEvent]
	exits    *eventbus.Bus[ExitEvent]
	batches  *eventbus.Bus[parser.Batch]
	sessions *eventbus.Bus[SessionsEvent]

	closeOnce sync.Once
}

func New(opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Host{
		journal:  opts.Journal,
		log:      logger,
		gens:     make(map[string]uint64),
		output:   eventbus.New[OutputEvent](),
		exits:    eventbus.New[ExitEvent](),
		batches:  eventbus.New[parser.Batch](),
		sessions: eventbus.New[SessionsEvent](),
	}

	ropts := opts.Reconstructor
	if ropts.Logger == nil {
		ropts.Logger = logger
	}
	h.lines = parser.New(func(b parser.Batch) { h.batches.Publish(b) }, ropts)

	sopts := opts.Shell
	if sopts.Logger == nil {
		sopts.Logger = logger
	}
	h.shells = shell.NewManager(h, sopts)

	source := opts.Source
	if source == nil {
		source = telemetry.NewHostSource(opts.Sampler.Clock)
	}
	topts := opts.Sampler
	if topts.Logger == nil {
		topts.Logger = logger
	}
	if topts.Sink == nil && opts.Journal != nil {
		topts.Sink = opts.Journal
	}
	h.sampler = telemetry.NewSampler(source, topts)

	return h
}

// SessionOutput implements shell.Listener.
func (h *Host) SessionOutput(id string, data []byte) {
	h.output.Publish(OutputEvent{SessionID: id, Data: string(data)})
	h.lines.Feed(id, data)
}

// SessionExited implements shell.Listener. An exit reported for an older
// generation than the one now registered under id is ignored.
func (h *Host) SessionExited(id string, gen uint64) {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if cur, ok := h.gens[id]; !ok || cur != gen {
		h.log.Debug("ignoring exit of a replaced session", "session_id", id, "gen", gen)
		return
	}
	delete(h.gens, id)

	h.lines.Append(id, parser.LineInfo, exitedMessage)
	h.lines.Close(id)
	h.exits.Publish(ExitEvent{SessionID: id})
	h.publishSessions()
}

// CreateSession starts a shell under id. A second create for a running id
// succeeds without side effects.
func (h *Host) CreateSession(id string) Result {
	if id == "" {
		return failed(ErrMissingID)
	}

	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if h.shells.Exists(id) {
		return ok()
	}

	// A reused id starts from an empty view.
	h.lines.Clear(id)

	gen, err := h.shells.Create(id)
	if err != nil {
		h.lines.Append(id, parser.LineError, "Failed to start shell: "+spawnCause(err))
		h.lines.Drop(id)
		return failed(err)
	}
	h.gens[id] = gen

	h.lines.Append(id, parser.LineInfo, readyMessage)
	h.publishSessions()
	return ok()
}

func spawnCause(err error) string {
	var spawnErr *shell.SpawnError
	if errors.As(err, &spawnErr) && spawnErr.Err != nil {
		return spawnErr.Err.Error()
	}
	return err.Error()
}

// WriteSession forwards data verbatim to the session's input.
func (h *Host) WriteSession(id, data string) Result {
	if id == "" {
		return failed(ErrMissingID)
	}
	if err := h.shells.Write(id, []byte(data)); err != nil {
		return failed(err)
	}
	return ok()
}

// SubmitLine echoes line as an input record and sends it followed by a
// newline, the way an interactive prompt submits a command.
func (h *Host) SubmitLine(id, line string) Result {
	if id == "" {
		return failed(ErrMissingID)
	}
	if !h.shells.Exists(id) {
		return failed(shell.ErrSessionNotFound)
	}
	h.lines.Append(id, parser.LineInput, "> "+line)
	return h.WriteSession(id, line+"\n")
}

// SendKey writes the control byte named by key (interrupt, eof, tab, ...).
func (h *Host) SendKey(id, key string) Result {
	seq, found := shell.ControlBytes(key)
	if !found {
		return failed(ErrUnknownKey)
	}
	return h.WriteSession(id, seq)
}

// ResizeSession is accepted and ignored; sessions have no terminal geometry.
func (h *Host) ResizeSession(id string, cols, rows int) Result {
	_ = h.shells.Resize(id, cols, rows)
	return ok()
}

// DestroySession kills the session and discards its output buffer. It
// succeeds for unknown ids.
func (h *Host) DestroySession(id string) Result {
	if id == "" {
		return failed(ErrMissingID)
	}

	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	existed := h.shells.Exists(id)
	_ = h.shells.Destroy(id)
	delete(h.gens, id)
	h.lines.Drop(id)
	if existed {
		h.publishSessions()
	}
	return ok()
}

func (h *Host) ListSessions() []shell.SessionInfo {
	return h.shells.List()
}

// Lines returns retained records for id, oldest first.
func (h *Host) Lines(id string, limit int) []parser.Record {
	return h.lines.Lines(id, limit)
}

// Clear empties the session's retained records.
func (h *Host) Clear(id string) Result {
	if id == "" {
		return failed(ErrMissingID)
	}
	if !h.shells.Exists(id) {
		return failed(shell.ErrSessionNotFound)
	}
	h.lines.Clear(id)
	return ok()
}

// Snapshot samples telemetry now. It returns nil when sampling fails.
func (h *Host) Snapshot(ctx context.Context) *telemetry.Snapshot {
	snap, err := h.sampler.Sample(ctx)
	if err != nil {
		h.log.Debug("telemetry snapshot failed", "error", err)
		return nil
	}
	return &snap
}

func (h *Host) CPUHistory() []int {
	return h.sampler.History()
}

// StartPolling starts the sampler and keeps it running until StopPolling,
// whether or not anyone is subscribed.
func (h *Host) StartPolling() {
	h.pollMu.Lock()
	defer h.pollMu.Unlock()
	h.pinned = true
	h.sampler.Start()
}

// AcquirePolling starts the sampler for a streaming client. Polling started
// this way ends at ReleasePolling once the last subscriber is gone.
func (h *Host) AcquirePolling() {
	h.pollMu.Lock()
	defer h.pollMu.Unlock()
	h.sampler.Start()
}

// ReleasePolling stops the sampler if it is not pinned by StartPolling and
// has no subscribers. It reports whether polling was stopped.
func (h *Host) ReleasePolling() bool {
	h.pollMu.Lock()
	defer h.pollMu.Unlock()
	if h.pinned {
		return false
	}
	if st := h.sampler.Stats(); !st.Polling || st.Subscribers > 0 {
		return false
	}
	h.sampler.Stop()
	return true
}

func (h *Host) StopPolling() {
	h.pollMu.Lock()
	defer h.pollMu.Unlock()
	h.pinned = false
	h.sampler.Stop()
}

func (h *Host) TelemetryStats() telemetry.Stats {
	return h.sampler.Stats()
}

// Archive returns up to limit journaled snapshots, oldest first.
func (h *Host) Archive(ctx context.Context, limit int) ([]*archive.Entry, error) {
	if h.journal == nil {
		return nil, ErrArchiveDisabled
	}
	return h.journal.Recent(ctx, limit)
}

func (h *Host) SubscribeOutput(buffer int) *eventbus.Subscription[OutputEvent] {
	return h.output.Subscribe(buffer)
}

func (h *Host) SubscribeExits(buffer int) *eventbus.Subscription[ExitEvent] {
	return h.exits.Subscribe(buffer)
}

func (h *Host) SubscribeLines(buffer int) *eventbus.Subscription[parser.Batch] {
	return h.batches.Subscribe(buffer)
}

func (h *Host) SubscribeTelemetry(buffer int) *eventbus.Subscription[telemetry.Snapshot] {
	return h.sampler.Subscribe(buffer)
}

func (h *Host) SubscribeSessions(buffer int) *eventbus.Subscription[SessionsEvent] {
	return h.sessions.Subscribe(buffer)
}

func (h *Host) publishSessions() {
	h.sessions.Publish(SessionsEvent{Sessions: h.shells.List()})
}

// Close stops polling, kills every session and closes all subscriptions.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		h.sampler.Stop()
		h.shells.KillAll()
		h.lines.Shutdown()
		h.sampler.Close()
		h.output.Close()
		h.exits.Close()
		h.batches.Close()
		h.sessions.Close()
		h.log.Info("host closed")
	})
}
