package hub

import (
	"encoding/json"

	"github.com/user/edexd/internal/parser"
	"github.com/user/edexd/internal/shell"
	"github.com/user/edexd/internal/telemetry"
)

// ClientMessage is every command a client can send. Fields unused by a
// command are ignored.
type ClientMessage struct {
	Type      string `json:"type"`
	Req       string `json:"req,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Data      string `json:"data,omitempty"`
	Line      string `json:"line,omitempty"`
	Key       string `json:"key,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ResultMessage answers one ClientMessage; Req is copied from the command.
type ResultMessage struct {
	Type    string `json:"type"`
	Req     string `json:"req,omitempty"`
	Command string `json:"command"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type OutputMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
	Ts        int64  `json:"ts"`
}

type ExitMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type LinesMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Records   []parser.Record `json:"records"`
	Cleared   bool            `json:"cleared,omitempty"`
	Ts        int64           `json:"ts"`
}

type TelemetryMessage struct {
	Type     string             `json:"type"`
	Snapshot telemetry.Snapshot `json:"snapshot"`
}

type SessionsMessage struct {
	Type string              `json:"type"`
	List []shell.SessionInfo `json:"list"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type hubBroadcast struct {
	data      []byte
	sessionID string
}

func encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
