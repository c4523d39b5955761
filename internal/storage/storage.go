package storage

import (
	"encoding/json"
	"time"

	"liquidityAgent/internal/model"
)

// EventOp names a journal event.
type EventOp string

const (
	OpOpen   EventOp = "open"
	OpAppend EventOp = "append"
	OpClose  EventOp = "close"
)

// Event is one line of the execution journal.
type Event struct {
	Op      EventOp         `json:"op"`
	ID      string          `json:"execution_id"`
	Time    time.Time       `json:"time"`
	Batch   json.RawMessage `json:"batch,omitempty"`
	Summary string          `json:"summary,omitempty"`
	Entry   *model.LogEntry `json:"entry,omitempty"`
	Error   string          `json:"error,omitempty"`
}
