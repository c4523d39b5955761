package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"liquidityAgent/internal/execlog"
	"liquidityAgent/internal/model"
)

func seededStore(t *testing.T, n int) (*execlog.MemoryStore, []string) {
	t.Helper()
	store := execlog.NewMemoryStore()
	batch := model.CommandBatch{
		Summary: "swap",
		Commands: []model.Command{model.Swap{
			InputToken:   common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"),
			OutputToken:  common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
			SwapAmountIn: decimal.RequireFromString("3"),
		}},
	}
	var ids []string
	for i := 0; i < n; i++ {
		id, err := store.Open(context.Background(), batch)
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), id, model.NewLogEntry(1, "Starting swap", nil)))
		require.NoError(t, store.Close(context.Background(), id, ""))
		ids = append(ids, id)
	}
	return store, ids
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestListExecutions(t *testing.T) {
	store, _ := seededStore(t, 3)
	srv := NewServer(store, nil)

	rec := get(t, srv, "/api/executions")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var execs []model.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &execs))
	require.Len(t, execs, 3)
	require.Equal(t, model.StatusCompleted, execs[0].Status)

	rec = get(t, srv, "/api/executions?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &execs))
	require.Len(t, execs, 2)

	rec = get(t, srv, "/api/executions?limit=zero")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetExecution(t *testing.T) {
	store, ids := seededStore(t, 1)
	srv := NewServer(store, nil)

	rec := get(t, srv, "/api/executions/"+ids[0])
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ids[0], body["execution_id"])
	require.Equal(t, "completed", body["status"])
	require.Len(t, body["logs"], 1)

	rec = get(t, srv, "/api/executions/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"Execution not found"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	srv := NewServer(execlog.NewMemoryStore(), nil)
	rec := get(t, srv, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}
