package shell

import (
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Options configures a Manager.
type Options struct {
	// Command is the argv used for every session. Empty selects DefaultCommand.
	Command []string
	// WorkDir is the initial directory. Empty selects the user's home directory.
	WorkDir string
	// Env is appended to the inherited environment.
	Env    []string
	Logger *slog.Logger
}

// Manager is the registry of live shell sessions keyed by caller-chosen id.
// Each Manager is independent; nothing is shared through package state.
type Manager struct {
	listener Listener
	argv     []string
	workDir  string
	env      []string
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	nextGen  uint64
}

// NewManager creates an empty Manager that reports to listener.
func NewManager(listener Listener, opts Options) *Manager {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	argv := opts.Command
	if len(argv) == 0 {
		argv = DefaultCommand()
	}
	workDir := opts.WorkDir
	if workDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			workDir = home
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		listener: listener,
		argv:     append([]string(nil), argv...),
		workDir:  workDir,
		env:      childEnv(opts.Env),
		log:      logger,
		sessions: make(map[string]*Session),
	}
}

// Create spawns a shell under id and returns its generation. If a running
// session already uses id the call succeeds without side effects and
// returns that session's generation. Success means the spawn was accepted,
// not that the shell is ready for input.
func (m *Manager) Create(id string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, exists := m.sessions[id]; exists {
		return sess.gen, nil
	}

	sess, err := newSession(id, m.argv, m.workDir, m.env)
	if err != nil {
		m.log.Warn("shell spawn failed", "session_id", id, "error", err)
		return 0, err
	}
	m.nextGen++
	sess.gen = m.nextGen
	m.sessions[id] = sess

	go sess.dispatch(
		func(data []byte) { m.listener.SessionOutput(id, data) },
		func() { m.exited(sess) },
	)

	m.log.Info("shell session created", "session_id", id, "pid", sess.cmd.Process.Pid, "gen", sess.gen)
	return sess.gen, nil
}

// exited removes sess and notifies the listener. A session that is no longer
// the registered entry was destroyed concurrently and gets no exit event.
func (m *Manager) exited(sess *Session) {
	m.mu.Lock()
	cur, ok := m.sessions[sess.id]
	current := ok && cur == sess
	if current {
		delete(m.sessions, sess.id)
	}
	m.mu.Unlock()

	if !current {
		return
	}
	m.log.Info("shell session exited", "session_id", sess.id, "gen", sess.gen)
	m.listener.SessionExited(sess.id, sess.gen)
}

func (m *Manager) get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Write sends data to the session's input stream. It returns
// ErrSessionNotFound for unknown ids and *WriteError on I/O failure; the
// session stays registered after a write failure.
func (m *Manager) Write(id string, data []byte) error {
	sess, ok := m.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if err := sess.Write(data); err != nil {
		m.log.Debug("shell write failed", "session_id", id, "error", err)
		return err
	}
	return nil
}

// Resize always succeeds and does nothing. Sessions run over pipes, so the
// child has no notion of terminal geometry.
func (m *Manager) Resize(id string, cols, rows int) error {
	return nil
}

// Destroy kills the session's process and removes it from the registry.
// Unknown ids are not an error. No exit notification follows a Destroy.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		sess.destroy()
		m.log.Info("shell session destroyed", "session_id", id)
	}
	return nil
}

// KillAll destroys every session. Used at host shutdown.
func (m *Manager) KillAll() {
	m.mu.Lock()
	victims := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		victims = append(victims, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range victims {
		sess.destroy()
	}
	if len(victims) > 0 {
		m.log.Info("killed all shell sessions", "count", len(victims))
	}
}

// Exists reports whether id is registered.
func (m *Manager) Exists(id string) bool {
	_, ok := m.get(id)
	return ok
}

// List returns metadata for every registered session ordered by creation time.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}
