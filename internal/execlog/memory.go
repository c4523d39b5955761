package execlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"liquidityAgent/internal/model"
)

// MemoryStore keeps executions in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	execs map[string]*model.Execution
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		execs: make(map[string]*model.Execution),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Open(ctx context.Context, batch model.CommandBatch) (string, error) {
	encoded, err := EncodeBatch(batch)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.Begin(id, encoded, batch.Summary, s.now()); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Append(ctx context.Context, id string, entry model.LogEntry) error {
	s.Record(id, entry)
	return nil
}

func (s *MemoryStore) Close(ctx context.Context, id string, errMsg string) error {
	if _, _, err := s.Finish(id, errMsg, s.now()); err != nil {
		return err
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]model.Execution, error) {
	s.mu.RLock()
	out := make([]model.Execution, 0, len(s.execs))
	for _, exec := range s.execs {
		out = append(out, clone(exec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[id]
	if !ok {
		return model.Execution{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(exec), nil
}

// Begin inserts a started execution with a caller-chosen id and start time.
func (s *MemoryStore) Begin(id string, batch json.RawMessage, summary string, start time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[id]; ok {
		return fmt.Errorf("execution %s already exists", id)
	}
	s.execs[id] = &model.Execution{
		ID:        id,
		Batch:     batch,
		Summary:   summary,
		Logs:      []model.LogEntry{},
		StartTime: start,
		Status:    model.StatusStarted,
	}
	return nil
}

// Record appends entry if id names an open execution and reports whether
// it did.
func (s *MemoryStore) Record(id string, entry model.LogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok || exec.Terminal() {
		return false
	}
	exec.Logs = append(exec.Logs, entry)
	return true
}

// Finish closes an open execution and returns the end time it recorded.
// Finishing an already closed execution changes nothing and reports false.
func (s *MemoryStore) Finish(id string, errMsg string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok {
		return time.Time{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if exec.Terminal() {
		return *exec.EndTime, false, nil
	}
	end := EndTime(exec.StartTime, now)
	exec.EndTime = &end
	exec.Status = TerminalStatus(errMsg)
	exec.Error = errMsg
	return end, true, nil
}

// IsOpen reports whether id names a started, unclosed execution.
func (s *MemoryStore) IsOpen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[id]
	return ok && !exec.Terminal()
}

func clone(exec *model.Execution) model.Execution {
	out := *exec
	out.Logs = append([]model.LogEntry(nil), exec.Logs...)
	if out.Logs == nil {
		out.Logs = []model.LogEntry{}
	}
	if exec.EndTime != nil {
		end := *exec.EndTime
		out.EndTime = &end
	}
	return out
}
