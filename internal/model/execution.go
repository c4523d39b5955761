package model

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the lifecycle state of one batch run.
type ExecutionStatus string

const (
	StatusStarted   ExecutionStatus = "started"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// LogType distinguishes progress entries from failures.
type LogType string

const (
	LogTypeLog   LogType = "log"
	LogTypeError LogType = "error"
)

// LogEntry is one observation recorded during an execution. Command is the
// 1-based index of the command that produced it, 0 for batch-level entries.
type LogEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      LogType         `json:"type"`
	Command   int             `json:"command,omitempty"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewLogEntry builds a log entry, encoding data as JSON when present.
func NewLogEntry(command int, message string, data any) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC(),
		Type:      LogTypeLog,
		Command:   command,
		Message:   message,
		Data:      encodeData(data),
	}
}

// NewErrorEntry builds an error entry.
func NewErrorEntry(command int, message string, err error, data any) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Type:      LogTypeError,
		Command:   command,
		Message:   message,
		Data:      encodeData(data),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}

func encodeData(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return encoded
}

// Execution is the durable record of one batch run.
type Execution struct {
	ID        string          `json:"execution_id"`
	Batch     json.RawMessage `json:"batch"`
	Summary   string          `json:"summary"`
	Logs      []LogEntry      `json:"logs"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Status    ExecutionStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// Terminal reports whether the execution has been closed.
func (e Execution) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}
