package execlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"liquidityAgent/internal/model"
)

func testBatch() model.CommandBatch {
	return model.CommandBatch{
		Summary: "rebalance WMATIC/USDC",
		Commands: []model.Command{
			model.Swap{
				InputToken:   common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"),
				OutputToken:  common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
				SwapAmountIn: decimal.RequireFromString("10"),
			},
		},
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Open(ctx, testBatch())
	require.NoError(t, err)
	require.True(t, store.IsOpen(id))

	require.NoError(t, store.Append(ctx, id, model.NewLogEntry(1, "Starting swap", nil)))
	require.NoError(t, store.Append(ctx, id, model.NewLogEntry(1, "Transaction sent", map[string]string{"hash": "0x01"})))
	require.NoError(t, store.Close(ctx, id, ""))

	exec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, exec.Status)
	require.Equal(t, "rebalance WMATIC/USDC", exec.Summary)
	require.Len(t, exec.Logs, 2)
	require.NotNil(t, exec.EndTime)
	require.True(t, exec.EndTime.After(exec.StartTime))
	require.JSONEq(t, `{"hash":"0x01"}`, string(exec.Logs[1].Data))

	reparsed, err := model.ParseBatch(exec.Batch)
	require.NoError(t, err)
	require.Len(t, reparsed.Commands, 1)
}

func TestMemoryStoreAppendIgnoresUnknownAndClosed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Append(ctx, "missing", model.NewLogEntry(0, "ignored", nil)))

	id, err := store.Open(ctx, testBatch())
	require.NoError(t, err)
	require.NoError(t, store.Close(ctx, id, "command 1 failed"))
	require.NoError(t, store.Append(ctx, id, model.NewLogEntry(1, "late", nil)))

	exec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Empty(t, exec.Logs)
	require.Equal(t, model.StatusFailed, exec.Status)
	require.Equal(t, "command 1 failed", exec.Error)
}

func TestMemoryStoreCloseOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Open(ctx, testBatch())
	require.NoError(t, err)
	require.NoError(t, store.Close(ctx, id, ""))
	first, err := store.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, store.Close(ctx, id, "second close"))
	second, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, second.Status)
	require.Empty(t, second.Error)
	require.True(t, first.EndTime.Equal(*second.EndTime))

	err = store.Close(ctx, "missing", "")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreEndAfterStartWithFrozenClock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return frozen }

	id, err := store.Open(ctx, testBatch())
	require.NoError(t, err)
	require.NoError(t, store.Close(ctx, id, ""))

	exec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, exec.EndTime.After(exec.StartTime))
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return at }
		id, err := store.Open(ctx, testBatch())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)
	require.Equal(t, ids[0], all[2].ID)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
