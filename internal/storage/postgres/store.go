package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liquidityAgent/internal/execlog"
	"liquidityAgent/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists executions and their log entries in Postgres.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Shutdown closes the connection pool.
func (s *Store) Shutdown() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded migrations in name order, skipping those
// already recorded in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename=$1)`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		sql, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Open(ctx context.Context, batch model.CommandBatch) (string, error) {
	encoded, err := execlog.EncodeBatch(batch)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (execution_id, batch, summary, start_time, status)
		VALUES ($1, $2, $3, $4, $5)
	`, id, string(encoded), batch.Summary, s.now(), string(model.StatusStarted))
	if err != nil {
		return "", fmt.Errorf("insert execution: %w", err)
	}
	return id, nil
}

// Append inserts entry only while the execution is still started, so late
// or misdirected appends are silently dropped.
func (s *Store) Append(ctx context.Context, id string, entry model.LogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_logs (execution_id, logged_at, type, command_index, message, data, error)
		SELECT $1::text, $2::timestamptz, $3::text, $4::integer, $5::text, $6::jsonb, $7::text
		WHERE EXISTS (SELECT 1 FROM executions WHERE execution_id=$1::text AND status='started')
	`, id, entry.Timestamp, string(entry.Type), entry.Command, entry.Message, jsonArg(entry.Data), entry.Error)
	if err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE executions
		SET status=$2, error=$3, end_time=GREATEST($4::timestamptz, start_time + interval '1 microsecond')
		WHERE execution_id=$1 AND status='started'
	`, id, string(execlog.TerminalStatus(errMsg)), errMsg, s.now())
	if err != nil {
		return fmt.Errorf("close execution: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM executions WHERE execution_id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check execution: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", execlog.ErrNotFound, id)
	}
	return nil
}

// List returns executions newest first. A non-positive limit returns all.
func (s *Store) List(ctx context.Context, limit int) ([]model.Execution, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, batch, summary, start_time, end_time, status, error
		FROM executions
		ORDER BY start_time DESC, execution_id DESC
		LIMIT $1
	`, limitArg)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	execs, err := pgx.CollectRows(rows, scanExecution)
	if err != nil {
		return nil, fmt.Errorf("scan executions: %w", err)
	}
	if err := s.loadLogs(ctx, execs); err != nil {
		return nil, err
	}
	return execs, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Execution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, batch, summary, start_time, end_time, status, error
		FROM executions WHERE execution_id=$1
	`, id)
	if err != nil {
		return model.Execution{}, fmt.Errorf("query execution: %w", err)
	}
	exec, err := pgx.CollectOneRow(rows, scanExecution)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Execution{}, fmt.Errorf("%w: %s", execlog.ErrNotFound, id)
		}
		return model.Execution{}, fmt.Errorf("scan execution: %w", err)
	}
	execs := []model.Execution{exec}
	if err := s.loadLogs(ctx, execs); err != nil {
		return model.Execution{}, err
	}
	return execs[0], nil
}

func (s *Store) loadLogs(ctx context.Context, execs []model.Execution) error {
	if len(execs) == 0 {
		return nil
	}
	ids := make([]string, len(execs))
	index := make(map[string]int, len(execs))
	for i := range execs {
		ids[i] = execs[i].ID
		index[execs[i].ID] = i
		execs[i].Logs = []model.LogEntry{}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, logged_at, type, command_index, message, data, error
		FROM execution_logs
		WHERE execution_id = ANY($1)
		ORDER BY seq
	`, ids)
	if err != nil {
		return fmt.Errorf("query execution logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      string
			entry   model.LogEntry
			logType string
			data    []byte
		)
		if err := rows.Scan(&id, &entry.Timestamp, &logType, &entry.Command, &entry.Message, &data, &entry.Error); err != nil {
			return fmt.Errorf("scan execution log: %w", err)
		}
		entry.Type = model.LogType(logType)
		if len(data) > 0 {
			entry.Data = json.RawMessage(data)
		}
		i := index[id]
		execs[i].Logs = append(execs[i].Logs, entry)
	}
	return rows.Err()
}

func scanExecution(row pgx.CollectableRow) (model.Execution, error) {
	var (
		exec   model.Execution
		batch  []byte
		status string
	)
	if err := row.Scan(&exec.ID, &batch, &exec.Summary, &exec.StartTime, &exec.EndTime, &status, &exec.Error); err != nil {
		return model.Execution{}, err
	}
	exec.Batch = json.RawMessage(batch)
	exec.Status = model.ExecutionStatus(status)
	exec.StartTime = exec.StartTime.UTC()
	if exec.EndTime != nil {
		end := exec.EndTime.UTC()
		exec.EndTime = &end
	}
	return exec, nil
}

func jsonArg(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
