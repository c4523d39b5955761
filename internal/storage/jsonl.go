package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liquidityAgent/internal/execlog"
	"liquidityAgent/internal/model"
)

const maxJournalLine = 16 * 1024 * 1024

// InterruptedError is recorded on executions the journal shows as still
// started when it is reopened.
const InterruptedError = "process exited before the execution was closed"

// JournalStore is an execution store backed by an append-only JSONL file.
// Executions are served from memory and rebuilt from the file on start.
type JournalStore struct {
	*execlog.MemoryStore

	path   string
	mu     sync.Mutex
	now    func() time.Time
	logger *zap.Logger
}

// NewJournalStore replays path, if it exists, and appends to it afterwards.
func NewJournalStore(path string, logger *zap.Logger) (*JournalStore, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &JournalStore{
		MemoryStore: execlog.NewMemoryStore(),
		path:        path,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	if err := s.terminateTail(); err != nil {
		return nil, err
	}
	if err := s.closeInterrupted(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JournalStore) Open(ctx context.Context, batch model.CommandBatch) (string, error) {
	encoded, err := execlog.EncodeBatch(batch)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	start := s.now()
	if err := s.Begin(id, encoded, batch.Summary, start); err != nil {
		return "", err
	}
	if err := s.write(Event{Op: OpOpen, ID: id, Time: start, Batch: encoded, Summary: batch.Summary}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *JournalStore) Append(ctx context.Context, id string, entry model.LogEntry) error {
	if !s.Record(id, entry) {
		return nil
	}
	return s.write(Event{Op: OpAppend, ID: id, Time: entry.Timestamp, Entry: &entry})
}

func (s *JournalStore) Close(ctx context.Context, id string, errMsg string) error {
	end, closed, err := s.Finish(id, errMsg, s.now())
	if err != nil || !closed {
		return err
	}
	return s.write(Event{Op: OpClose, ID: id, Time: end, Error: errMsg})
}

func (s *JournalStore) replay() error {
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			// A crash mid-write leaves a torn last line.
			s.logger.Warn("skip malformed journal line", zap.Int("line", line), zap.Error(err))
			continue
		}
		s.apply(event)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	return nil
}

// closeInterrupted fails executions left open by a process that died mid-batch.
func (s *JournalStore) closeInterrupted() error {
	execs, err := s.List(context.Background(), 0)
	if err != nil {
		return err
	}
	for _, exec := range execs {
		if exec.Status != model.StatusStarted {
			continue
		}
		s.logger.Warn("closing interrupted execution", zap.String("execution_id", exec.ID))
		if err := s.Close(context.Background(), exec.ID, InterruptedError); err != nil {
			return fmt.Errorf("close interrupted execution %s: %w", exec.ID, err)
		}
	}
	return nil
}

// terminateTail ends a torn last line so the next event starts on its own line.
func (s *JournalStore) terminateTail() error {
	file, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat journal: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read journal tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := file.WriteAt([]byte{'\n'}, info.Size()); err != nil {
		return fmt.Errorf("terminate journal tail: %w", err)
	}
	return nil
}

func (s *JournalStore) apply(event Event) {
	switch event.Op {
	case OpOpen:
		if err := s.Begin(event.ID, event.Batch, event.Summary, event.Time); err != nil {
			s.logger.Warn("skip duplicate journal open", zap.String("execution_id", event.ID))
		}
	case OpAppend:
		if event.Entry != nil {
			s.Record(event.ID, *event.Entry)
		}
	case OpClose:
		if _, _, err := s.Finish(event.ID, event.Error, event.Time); err != nil {
			s.logger.Warn("skip journal close", zap.String("execution_id", event.ID), zap.Error(err))
		}
	default:
		s.logger.Warn("skip unknown journal op", zap.String("op", string(event.Op)))
	}
}

func (s *JournalStore) write(event Event) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal journal event: %w", err)
	}
	writer := bufio.NewWriter(file)
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write journal event: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return file.Sync()
}
