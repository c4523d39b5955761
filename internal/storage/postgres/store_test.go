package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"liquidityAgent/internal/execlog"
	"liquidityAgent/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LPEXEC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LPEXEC_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Shutdown)
	require.NoError(t, store.Migrate(ctx))
	// Second run must be a no-op.
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	batch := model.CommandBatch{
		Summary:  "remove 25%",
		Commands: []model.Command{model.RemoveLiquidity{TokenID: 5, PercentageBps: 2500}},
	}
	id, err := store.Open(ctx, batch)
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, id, model.NewLogEntry(1, "Removing liquidity", map[string]int{"token_id": 5})))
	require.NoError(t, store.Append(ctx, id, model.NewErrorEntry(1, "Remove failed", errors.New("reverted"), nil)))
	require.NoError(t, store.Close(ctx, id, "reverted"))
	require.NoError(t, store.Append(ctx, id, model.NewLogEntry(1, "late", nil)))
	require.NoError(t, store.Close(ctx, id, ""))

	exec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, exec.Status)
	require.Equal(t, "reverted", exec.Error)
	require.Len(t, exec.Logs, 2)
	require.Equal(t, model.LogTypeError, exec.Logs[1].Type)
	require.JSONEq(t, `{"token_id":5}`, string(exec.Logs[0].Data))
	require.NotNil(t, exec.EndTime)
	require.True(t, exec.EndTime.After(exec.StartTime))

	parsed, err := model.ParseBatch(exec.Batch)
	require.NoError(t, err)
	require.Equal(t, "remove 25%", parsed.Summary)

	list, err := store.List(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, list)
}

func TestStoreUnknownExecution(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Append(ctx, "does-not-exist", model.NewLogEntry(0, "ignored", nil)))
	require.ErrorIs(t, store.Close(ctx, "does-not-exist", ""), execlog.ErrNotFound)
	_, err := store.Get(ctx, "does-not-exist")
	require.ErrorIs(t, err, execlog.ErrNotFound)
}
