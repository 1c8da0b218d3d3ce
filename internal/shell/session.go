package shell

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	outputQueueSize = 1024
	waitDelay       = 500 * time.Millisecond
)

// Session wraps one interactive shell running over plain pipes.
// There is no terminal device: geometry is unknown to the child and only the
// bytes written to stdin reach it.
type Session struct {
	id        string
	gen       uint64
	argv      []string
	createdAt time.Time

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// chunks carries stdout and stderr reads in arrival order to the
	// dispatcher. It is closed once cmd.Wait returns.
	chunks chan []byte
	done   chan struct{}

	writeMu sync.Mutex
	// deliverMu makes the destroyed check and the listener call atomic, so
	// once destroy returns no further callbacks run for this session.
	deliverMu sync.Mutex
	mu        sync.Mutex
	state     State
	destroyed atomic.Bool
	closeOnce sync.Once
}

// chunkWriter is handed to os/exec as Stdout/Stderr. exec runs one copy
// goroutine per stream; both feed the same queue.
type chunkWriter struct {
	s *Session
}

func (w chunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.s.chunks <- append([]byte(nil), p...)
	return len(p), nil
}

// newSession starts argv and returns once the process is running.
func newSession(id string, argv []string, workDir string, env []string) (*Session, error) {
	if len(argv) == 0 {
		return nil, &SpawnError{ID: id, Err: errors.New("empty command")}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = env
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	s := &Session{
		id:        id,
		argv:      append([]string(nil), argv...),
		createdAt: time.Now(),
		cmd:       cmd,
		chunks:    make(chan []byte, outputQueueSize),
		done:      make(chan struct{}),
		state:     StateStarting,
	}
	cmd.Stdout = chunkWriter{s: s}
	cmd.Stderr = chunkWriter{s: s}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{ID: id, Command: argv, Err: err}
	}
	s.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{ID: id, Command: argv, Err: err}
	}
	s.state = StateRunning

	go s.waitExit()
	return s, nil
}

// waitExit reaps the child. exec.Cmd.Wait returns only after both copy
// goroutines finished, so closing chunks here cannot race a Write.
func (s *Session) waitExit() {
	_ = s.cmd.Wait()
	close(s.chunks)
}

// dispatch delivers queued output to the listener, then reports the exit.
// Output read after Destroy is drained and dropped.
func (s *Session) dispatch(output func([]byte), exited func()) {
	defer close(s.done)
	for chunk := range s.chunks {
		s.deliverMu.Lock()
		if !s.destroyed.Load() {
			output(chunk)
		}
		s.deliverMu.Unlock()
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.destroyed.Load() {
		return
	}
	s.mu.Lock()
	s.state = StateExited
	s.mu.Unlock()
	exited()
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Generation distinguishes this session from earlier ones that used the same id.
func (s *Session) Generation() uint64 { return s.gen }

// Done is closed after the last listener call for this session.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a metadata snapshot.
func (s *Session) Info() SessionInfo {
	pid := 0
	if s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	return SessionInfo{
		ID:        s.id,
		PID:       pid,
		State:     s.State().String(),
		Command:   append([]string(nil), s.argv...),
		CreatedAt: s.createdAt,
	}
}

// Write sends data verbatim to the shell's stdin. Concurrent writers are
// serialized so their bytes are not interleaved.
func (s *Session) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.destroyed.Load() {
		return &WriteError{ID: s.id, Err: errors.New("session is closed")}
	}
	if _, err := s.stdin.Write(data); err != nil {
		return &WriteError{ID: s.id, Err: err}
	}
	return nil
}

// destroy kills the process group and closes stdin. It is safe to call
// more than once; errors from an already dead process are ignored.
func (s *Session) destroy() {
	s.closeOnce.Do(func() {
		s.deliverMu.Lock()
		s.destroyed.Store(true)
		s.deliverMu.Unlock()

		s.mu.Lock()
		s.state = StateDestroyed
		s.mu.Unlock()

		_ = s.stdin.Close()
		_ = killProcess(s.cmd)
	})
}
