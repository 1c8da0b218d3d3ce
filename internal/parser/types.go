package parser

import "time"

// LineType classifies a Line Record. Only LineOutput comes from the shell;
// the others are synthesized for local events.
type LineType string

const (
	LineOutput LineType = "output"
	LineInput  LineType = "input"
	LineInfo   LineType = "info"
	LineError  LineType = "error"
)

// Record is one renderable line. Seq is unique and increasing per session.
// A Record with Open set may be re-emitted later with the same Seq and a
// longer Text; consumers replace the earlier copy. Once a Record is emitted
// with Open unset it never changes.
type Record struct {
	Seq  uint64   `json:"seq"`
	Type LineType `json:"type"`
	Text string   `json:"text"`
	Open bool     `json:"open,omitempty"`
}

// Batch is the unit of delivery: every record produced by one flush.
type Batch struct {
	SessionID string    `json:"session_id"`
	Records   []Record  `json:"records"`
	Cleared   bool      `json:"cleared,omitempty"`
	Time      time.Time `json:"ts"`
}
