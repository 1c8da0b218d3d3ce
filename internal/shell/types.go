package shell

import "time"

// State is the lifecycle position of a Session.
type State int

const (
	// StateStarting covers the window between spawn and registration.
	StateStarting State = iota
	// StateRunning means the child process is alive and registered.
	StateRunning
	// StateExited means the child terminated on its own.
	StateExited
	// StateDestroyed means the session was torn down by Destroy or KillAll.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Listener receives everything a session produces. A Manager has exactly one
// Listener. Calls for a single session are serialized and arrive in the order
// the bytes were read; SessionExited is the last call for that session and is
// made only for spontaneous exits. gen is the value Create returned for the
// session, so a late exit can be told apart from a newer session on the id.
type Listener interface {
	SessionOutput(id string, data []byte)
	SessionExited(id string, gen uint64)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are ignored.
type ListenerFuncs struct {
	Output func(id string, data []byte)
	Exited func(id string, gen uint64)
}

func (l ListenerFuncs) SessionOutput(id string, data []byte) {
	if l.Output != nil {
		l.Output(id, data)
	}
}

func (l ListenerFuncs) SessionExited(id string, gen uint64) {
	if l.Exited != nil {
		l.Exited(id, gen)
	}
}

// SessionInfo is a read-only snapshot of session metadata returned by Manager.List.
type SessionInfo struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Command   []string  `json:"command"`
	CreatedAt time.Time `json:"created_at"`
}
