package shell

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when an operation names an id that is not registered.
var ErrSessionNotFound = errors.New("session not found")

// SpawnError reports that the shell process could not be started.
// No registry entry exists for the id when this is returned.
type SpawnError struct {
	ID      string
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	if len(e.Command) == 0 {
		return fmt.Sprintf("failed to start shell: %v", e.Err)
	}
	return fmt.Sprintf("failed to start shell %q: %v", e.Command[0], e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WriteError reports an I/O failure on a live session's input stream.
// The session stays registered and usable.
type WriteError struct {
	ID  string
	Err error
}

func (e *WriteError) Error() string { return "write failed" }

func (e *WriteError) Unwrap() error { return e.Err }
