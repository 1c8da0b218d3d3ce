package host

import (
	"errors"

	"github.com/user/edexd/internal/shell"
)

const (
	readyMessage  = "Shell ready. Enter commands."
	exitedMessage = "[Shell process exited]"
)

var (
	ErrMissingID       = errors.New("session id is required")
	ErrUnknownKey      = errors.New("unknown key")
	ErrArchiveDisabled = errors.New("telemetry archive is disabled")
)

// Result is the reply to a session command. Commands never fail with a Go
// error at the boundary; failures are reported here.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func ok() Result { return Result{Success: true} }

func failed(err error) Result { return Result{Success: false, Error: err.Error()} }

// OutputEvent carries one raw chunk exactly as the shell wrote it.
type OutputEvent struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// ExitEvent reports that a session's process ended on its own.
type ExitEvent struct {
	SessionID string `json:"session_id"`
}

// SessionsEvent is published whenever the registry changes.
type SessionsEvent struct {
	Sessions []shell.SessionInfo `json:"sessions"`
}
