// Package execlog records every batch run and the log entries it produces.
package execlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"liquidityAgent/internal/model"
)

// ErrNotFound is returned when an execution id is unknown.
var ErrNotFound = errors.New("execution not found")

// Store persists executions. Append on an unknown or closed id is a no-op.
// Close sets the terminal status and end time exactly once; a non-empty
// errMsg marks the execution failed.
type Store interface {
	Open(ctx context.Context, batch model.CommandBatch) (string, error)
	Append(ctx context.Context, id string, entry model.LogEntry) error
	Close(ctx context.Context, id string, errMsg string) error
	List(ctx context.Context, limit int) ([]model.Execution, error)
	Get(ctx context.Context, id string) (model.Execution, error)
}

// EncodeBatch serializes a batch in planner form for storage.
func EncodeBatch(batch model.CommandBatch) (json.RawMessage, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	return data, nil
}

// TerminalStatus maps a close error message to the final status.
func TerminalStatus(errMsg string) model.ExecutionStatus {
	if errMsg != "" {
		return model.StatusFailed
	}
	return model.StatusCompleted
}

// EndTime returns now, nudged past start so end > start always holds.
func EndTime(start, now time.Time) time.Time {
	if !now.After(start) {
		return start.Add(time.Microsecond)
	}
	return now
}
